// Package backup implements the database-backup job: one configured command run
// to completion in the configured runtime.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/backup/runtime"
	"docflow/internal/store"
)

const (
	DefaultTimeout    = 30 * time.Minute
	DefaultOutputTail = 4096
)

// Config describes the backup command.
type Config struct {
	Image   string
	Command []string
	Env     map[string]string
	Timeout time.Duration
	// OutputTail is how many trailing bytes of output are kept in the result.
	OutputTail int
}

// Runner executes the backup command.
type Runner struct {
	rt     runtime.Runtime
	cfg    Config
	logger *slog.Logger
}

func NewRunner(rt runtime.Runtime, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OutputTail <= 0 {
		cfg.OutputTail = DefaultOutputTail
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{rt: rt, cfg: cfg, logger: logger}
}

// Handle runs the backup for a scheduled task. A non-zero exit is an error
// carrying the tail of the output.
func (r *Runner) Handle(ctx context.Context, task store.ScheduledTask) (*store.TaskResult, error) {
	if len(r.cfg.Command) == 0 {
		return nil, fmt.Errorf("backup command is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	log := r.logger.With("task", task.Name, "runtime", r.rt.Name())
	log.Info("backup started", "image", r.cfg.Image, "command", strings.Join(r.cfg.Command, " "))

	h, err := r.rt.Start(ctx, runtime.StartOptions{
		Name:    task.Name,
		Image:   r.cfg.Image,
		Command: r.cfg.Command,
		Env:     r.cfg.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("start backup: %w", err)
	}

	res, err := h.Wait(ctx)
	if err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer stopCancel()
		if stopErr := h.Stop(stopCtx); stopErr != nil {
			log.Warn("failed to stop backup", "error", stopErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("backup timed out after %s", r.cfg.Timeout)
		}
		return nil, fmt.Errorf("wait for backup: %w", err)
	}

	output := r.tail(context.WithoutCancel(ctx), h, log)

	if res.ExitCode != 0 {
		msg := fmt.Sprintf("backup exited with code %d", res.ExitCode)
		if res.Error != nil {
			msg += ": " + res.Error.Error()
		}
		if output != "" {
			msg += "\n" + output
		}
		return nil, errors.New(msg)
	}

	log.Info("backup finished", "exit_code", res.ExitCode)
	return &store.TaskResult{Backup: &store.BackupResult{
		Runtime:  r.rt.Name(),
		ExitCode: res.ExitCode,
		Output:   output,
	}}, nil
}

// tail reads the run output and keeps its last OutputTail bytes.
func (r *Runner) tail(ctx context.Context, h runtime.Handle, log *slog.Logger) string {
	rc, err := h.Logs(ctx)
	if err != nil {
		log.Warn("failed to read backup output", "error", err)
		return ""
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		log.Warn("failed to read backup output", "error", err)
	}
	if len(b) > r.cfg.OutputTail {
		b = b[len(b)-r.cfg.OutputTail:]
	}
	return strings.TrimSpace(string(b))
}
