// Package scheduler owns the registry of recurring jobs. Each task runs at
// most once concurrently: exclusivity is the persisted RUNNING status flipped
// with a conditional update, so it holds across processes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/errs"
	"docflow/internal/observability"
	"docflow/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrTaskDisabled       = fmt.Errorf("task is disabled: %w", errs.ErrValidation)
	ErrTaskAlreadyRunning = fmt.Errorf("task is already running: %w", errs.ErrConflict)
)

// Handler runs the body of one job type.
type Handler func(ctx context.Context, task store.ScheduledTask) (*store.TaskResult, error)

// Store is the persistence the scheduler needs.
type Store interface {
	store.TaskStore
	store.AuditStore
}

// Scheduler dispatches scheduled tasks to their job handlers.
type Scheduler struct {
	store    Store
	handlers map[store.JobType]Handler
	logger   *slog.Logger
	metrics  *observability.Instruments
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithMetrics(m *observability.Instruments) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithHandler binds a job type to its handler.
func WithHandler(jobType store.JobType, h Handler) Option {
	return func(s *Scheduler) { s.handlers[jobType] = h }
}

func New(st Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		handlers: make(map[store.JobType]Handler),
		logger:   slog.Default(),
		tracer:   otel.Tracer("docflow/scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeDefaultTasks seeds DefaultTasks. Existing tasks are left untouched,
// so repeated calls never duplicate rows. It returns how many were created.
func (s *Scheduler) InitializeDefaultTasks(ctx context.Context) (int, error) {
	now := s.now()
	created := 0

	for _, def := range DefaultTasks {
		task := &store.ScheduledTask{
			ID:        uuid.New(),
			Name:      def.Name,
			JobType:   def.JobType,
			Schedule:  def.Schedule,
			Status:    store.TaskStatusScheduled,
			Enabled:   true,
			NextRunAt: NextRun(def.Schedule, now),
			CreatedAt: now,
			UpdatedAt: now,
		}

		ok, err := s.store.CreateTaskIfAbsent(ctx, task)
		if err != nil {
			return created, fmt.Errorf("seed task %s: %w", def.Name, err)
		}
		if ok {
			created++
			s.logger.Info("seeded scheduled task", "task", def.Name, "schedule", def.Schedule, "next_run_at", task.NextRunAt)
		}
	}

	return created, nil
}

// ExecuteTask runs one task now. A handler failure is recorded on the
// execution and the task, never returned; the returned error covers only the
// preconditions (NotFound, Disabled, AlreadyRunning) and bookkeeping failures.
func (s *Scheduler) ExecuteTask(ctx context.Context, id uuid.UUID) (*store.TaskExecution, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.execute_task",
		trace.WithAttributes(attribute.String("task.id", id.String())))
	defer span.End()

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	span.SetAttributes(attribute.String("task.name", task.Name))

	if !task.Enabled {
		return nil, ErrTaskDisabled
	}
	if task.Status == store.TaskStatusRunning {
		return nil, ErrTaskAlreadyRunning
	}

	startedAt := s.now()
	claimed, err := s.store.ClaimTask(ctx, id, startedAt)
	if err != nil {
		return nil, fmt.Errorf("claim task %s: %w", task.Name, err)
	}
	if !claimed {
		return nil, ErrTaskAlreadyRunning
	}

	exec := &store.TaskExecution{
		ID:        uuid.New(),
		TaskID:    id,
		Status:    store.ExecutionStatusRunning,
		StartedAt: startedAt,
	}

	var (
		result *store.TaskResult
		runErr error
		opened bool
	)

	if err := s.store.CreateExecution(ctx, exec); err != nil {
		runErr = fmt.Errorf("open execution: %w", err)
	} else {
		opened = true
		result, runErr = s.invoke(ctx, *task)
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}

	// The run is closed with a context that outlives caller cancellation;
	// otherwise a cancelled request would leave the task RUNNING.
	if err := s.finish(context.WithoutCancel(ctx), task, exec, opened, result, runErr); err != nil {
		return exec, err
	}
	return exec, nil
}

// invoke calls the handler and converts a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, task store.ScheduledTask) (result *store.TaskResult, err error) {
	h, ok := s.handlers[task.JobType]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for job type %q", errs.ErrTransient, task.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: handler panic: %v", errs.ErrTransient, r)
		}
	}()

	result, err = h(ctx, task)
	if err != nil && !errors.Is(err, errs.ErrTransient) {
		err = fmt.Errorf("%w: %w", errs.ErrTransient, err)
	}
	return result, err
}

func (s *Scheduler) finish(ctx context.Context, task *store.ScheduledTask, exec *store.TaskExecution, opened bool, result *store.TaskResult, runErr error) error {
	finishedAt := s.now()
	duration := finishedAt.Sub(exec.StartedAt)

	exec.CompletedAt = &finishedAt
	exec.Duration = &duration

	status := store.TaskStatusCompleted
	var errMsg *string
	if runErr != nil {
		status = store.TaskStatusFailed
		msg := runErr.Error()
		errMsg = &msg
		exec.Status = store.ExecutionStatusFailed
		exec.ErrorMessage = errMsg
	} else {
		exec.Status = store.ExecutionStatusCompleted
		exec.Result = result
	}

	log := s.logger.With("task_id", task.ID, "task", task.Name, "execution_id", exec.ID)

	if opened {
		if err := s.store.CloseExecution(ctx, exec); err != nil {
			log.Error("failed to close execution", "error", err)
		}
	}

	nextRunAt := NextRun(task.Schedule, finishedAt)
	if err := s.store.FinishTask(ctx, task.ID, store.TaskRunOutcome{
		Status:    status,
		RunAt:     exec.StartedAt,
		Duration:  duration,
		NextRunAt: nextRunAt,
		Err:       errMsg,
	}); err != nil {
		log.Error("failed to finish task, task may remain RUNNING", "error", err)
		return fmt.Errorf("finish task %s: %w", task.Name, err)
	}

	s.metrics.TaskRun(ctx, task.Name, string(status), duration)

	if runErr != nil {
		log.Warn("task failed", "duration", duration, "next_run_at", nextRunAt, "error", runErr)
	} else {
		log.Info("task completed", "duration", duration, "next_run_at", nextRunAt)
	}
	return nil
}

// TaskOutcome is the per-task result of ProcessDueTasks.
type TaskOutcome struct {
	TaskID      uuid.UUID
	Name        string
	Status      store.ExecutionStatus
	ExecutionID uuid.UUID
	Error       string
}

// ProcessReport summarizes one ProcessDueTasks call.
type ProcessReport struct {
	Processed int
	Outcomes  []TaskOutcome
	Stale     []store.ScheduledTask
}

// ProcessDueTasks runs every enabled, non-running task due at now, one after
// another. A failing task never stops the others.
func (s *Scheduler) ProcessDueTasks(ctx context.Context, now time.Time) (*ProcessReport, error) {
	due, err := s.store.ListDueTasks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}

	report := &ProcessReport{}
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome := TaskOutcome{TaskID: t.ID, Name: t.Name}
		exec, err := s.ExecuteTask(ctx, t.ID)
		if exec != nil {
			outcome.Status = exec.Status
			outcome.ExecutionID = exec.ID
			if exec.ErrorMessage != nil {
				outcome.Error = *exec.ErrorMessage
			}
		}
		if err != nil {
			outcome.Error = err.Error()
			s.logger.Warn("task not executed", "task_id", t.ID, "task", t.Name, "error", err)
		}

		report.Outcomes = append(report.Outcomes, outcome)
		report.Processed++
	}

	stale, err := s.StaleTasks(ctx, now)
	if err != nil {
		s.logger.Error("failed to check stale tasks", "error", err)
	}
	report.Stale = stale

	return report, nil
}

// IsStale reports whether task has been RUNNING longer than its own recurrence interval.
func IsStale(task store.ScheduledTask, now time.Time) bool {
	if task.Status != store.TaskStatusRunning || task.RunningSince == nil {
		return false
	}
	return now.Sub(*task.RunningSince) > IntervalOf(task.Schedule)
}

// StaleTasks lists stale RUNNING tasks, logs each one and publishes the count.
// Stale tasks are reported only; clearing them could start a second run.
func (s *Scheduler) StaleTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	var stale []store.ScheduledTask
	for _, t := range tasks {
		if IsStale(t, now) {
			stale = append(stale, t)
			s.logger.Warn("task stuck in RUNNING",
				"task_id", t.ID, "task", t.Name, "running_since", t.RunningSince, "interval", IntervalOf(t.Schedule))
		}
	}
	s.metrics.SetStaleTasks(len(stale))
	return stale, nil
}

// SetEnabled toggles a task without running it.
func (s *Scheduler) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool, actor *uuid.UUID) (*store.ScheduledTask, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}

	if err := s.store.SetTaskEnabled(ctx, id, enabled); err != nil {
		return nil, fmt.Errorf("toggle task %s: %w", task.Name, err)
	}
	task.Enabled = enabled

	action := "task.disable"
	if enabled {
		action = "task.enable"
	}
	if err := s.store.RecordAudit(ctx, &store.AuditEntry{
		ID:         uuid.New(),
		ActorID:    actor,
		Action:     action,
		EntityType: "scheduled_task",
		EntityID:   id,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("failed to record audit", "task_id", id, "error", err)
	}

	return task, nil
}

func (s *Scheduler) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	return s.store.ListTasks(ctx)
}

func (s *Scheduler) History(ctx context.Context, id uuid.UUID, limit int) ([]store.TaskExecution, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return s.store.ListExecutions(ctx, id, limit)
}

// Now returns the scheduler clock reading.
func (s *Scheduler) Now() time.Time { return s.now() }
