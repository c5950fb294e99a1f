// Package app assembles the lifecycle engines from configuration. The
// controller and the scheduler process share it so both run the same handlers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/alerts"
	"docflow/internal/backup"
	"docflow/internal/backup/runtime"
	"docflow/internal/config"
	"docflow/internal/locks"
	"docflow/internal/maintenance"
	"docflow/internal/notify"
	"docflow/internal/observability"
	"docflow/internal/scheduler"
	"docflow/internal/store"
	"docflow/internal/store/memory"
	"docflow/internal/store/postgres"
	"docflow/internal/workflow"
)

// App holds the wired engines.
type App struct {
	Config    *config.Config
	Store     store.Store
	Logger    *slog.Logger
	Metrics   *observability.Instruments
	Scheduler *scheduler.Scheduler
	Alerts    *alerts.Engine
	Workflows *workflow.Engine
	Locks     *locks.Manager
}

type options struct {
	runtime runtime.Runtime
	sender  notify.Sender
	now     func() time.Time
}

type Option func(*options)

// WithBackupRuntime replaces the runtime built from configuration.
func WithBackupRuntime(rt runtime.Runtime) Option { return func(o *options) { o.runtime = rt } }

// WithSender replaces the email transport built from configuration.
func WithSender(s notify.Sender) Option { return func(o *options) { o.sender = s } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// OpenStore connects to Postgres, or returns an empty in-memory store for mem:// URLs.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.InMemory() {
		return memory.New(), nil
	}
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Migrate applies the embedded schema. The in-memory store needs none.
func Migrate(st store.Store) (uint, error) {
	pg, ok := st.(*postgres.Store)
	if !ok {
		return 0, nil
	}
	return postgres.Migrate(pg.DB())
}

// New wires every engine on top of st. Metrics may be nil.
func New(cfg *config.Config, st store.Store, logger *slog.Logger, metrics *observability.Instruments, opts ...Option) (*App, error) {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sender := o.sender
	if sender == nil {
		sender = newSender(cfg.SMTP, logger)
	}

	alertEngine, err := alerts.NewEngine(st, alertConfig(cfg.Alerts),
		alerts.WithLogger(logger.With("component", "alerts")),
		alerts.WithMetrics(metrics),
		alerts.WithSender(sender),
		alerts.WithClock(o.now),
	)
	if err != nil {
		return nil, fmt.Errorf("alert engine: %w", err)
	}

	lockManager := locks.NewManager(st,
		locks.WithLease(cfg.LockLeaseDuration),
		locks.WithLogger(logger.With("component", "locks")),
		locks.WithMetrics(metrics),
		locks.WithClock(o.now),
	)

	workflows := workflow.NewEngine(st,
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithMetrics(metrics),
		workflow.WithClock(o.now),
	)

	backupHandler := backupHandler(cfg.Backup, o.runtime, logger.With("component", "backup"))

	cleaner := maintenance.NewLogCleaner(st, cfg.ExecutionRetention, cfg.NotificationRetention, logger.With("component", "maintenance"))
	lockCleanup := maintenance.LockCleanup{Locks: lockManager, Now: o.now}

	sched := scheduler.New(st,
		scheduler.WithLogger(logger.With("component", "scheduler")),
		scheduler.WithMetrics(metrics),
		scheduler.WithClock(o.now),
		scheduler.WithHandler(store.JobTypeExpirationCheck, alertEngine.Handle),
		scheduler.WithHandler(store.JobTypeBackup, backupHandler),
		scheduler.WithHandler(store.JobTypeLogCleanup, cleaner.Handle),
		scheduler.WithHandler(store.JobTypeLockCleanup, lockCleanup.Handle),
	)

	return &App{
		Config:    cfg,
		Store:     st,
		Logger:    logger,
		Metrics:   metrics,
		Scheduler: sched,
		Alerts:    alertEngine,
		Workflows: workflows,
		Locks:     lockManager,
	}, nil
}

func alertConfig(c config.AlertConfig) alerts.Config {
	return alerts.Config{
		Thresholds: alerts.Thresholds{
			First:  c.FirstDays,
			Second: c.SecondDays,
			Third:  c.ThirdDays,
			Fourth: c.FourthDays,
		},
		EscalationEnabled:  c.EscalationEnabled,
		EscalationInterval: c.EscalationInterval,
		MaxEscalationLevel: c.MaxEscalationLevel,
		Concurrency:        c.SweepConcurrency,
	}
}

func newSender(c config.SMTPConfig, logger *slog.Logger) notify.Sender {
	if c.Host == "" {
		logger.Info("smtp host not configured, alert emails are logged only")
		return notify.LogSender{Logger: logger.With("component", "email")}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		Timeout:  c.Timeout,
	})
}

// backupHandler builds the backup job. A runtime that cannot be constructed
// does not stop the process; every backup run reports the construction error.
func backupHandler(c config.BackupConfig, rt runtime.Runtime, logger *slog.Logger) scheduler.Handler {
	if rt == nil {
		var err error
		rt, err = runtime.New(runtime.Config{
			Kind:    c.Runtime,
			WorkDir: c.WorkDir,
			Kubernetes: runtime.KubernetesConfig{
				Namespace:      c.Namespace,
				ServiceAccount: c.ServiceAccount,
				CPULimit:       c.CPULimit,
				MemoryLimit:    c.MemoryLimit,
			},
		})
		if err != nil {
			logger.Warn("backup runtime unavailable", "runtime", c.Runtime, "error", err)
			return func(context.Context, store.ScheduledTask) (*store.TaskResult, error) {
				return nil, fmt.Errorf("backup runtime %s unavailable: %w", c.Runtime, err)
			}
		}
	}

	logger.Info("backup runtime selected", "runtime", rt.Name())
	runner := backup.NewRunner(rt, backup.Config{
		Image:   c.Image,
		Command: c.Command,
		Timeout: c.Timeout,
	}, logger)
	return runner.Handle
}
