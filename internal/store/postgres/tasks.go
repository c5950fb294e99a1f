package postgres

import (
	"context"
	"database/sql"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

const taskColumns = `id, name, job_type, schedule, status, enabled, next_run_at, last_run_at,
	last_duration_ms, running_since, run_count, fail_count, last_error, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*store.ScheduledTask, error) {
	var (
		t          store.ScheduledTask
		durationMs sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.JobType, &t.Schedule, &t.Status, &t.Enabled,
		&t.NextRunAt, &t.LastRunAt, &durationMs, &t.RunningSince,
		&t.RunCount, &t.FailCount, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if durationMs.Valid {
		d := time.Duration(durationMs.Int64) * time.Millisecond
		t.LastDuration = &d
	}
	return &t, nil
}

// CreateTaskIfAbsent seeds a task by name. Existing rows are never overwritten.
func (s *Store) CreateTaskIfAbsent(ctx context.Context, task *store.ScheduledTask) (bool, error) {
	query := `
		INSERT INTO scheduled_tasks (id, name, job_type, schedule, status, enabled, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (name) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		task.ID, task.Name, task.JobType, task.Schedule, task.Status,
		task.Enabled, task.NextRunAt, task.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*store.ScheduledTask, error) {
	query := "SELECT " + taskColumns + " FROM scheduled_tasks WHERE id = $1"
	return scanTask(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	return s.queryTasks(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks ORDER BY name ASC")
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE enabled AND status <> $1 AND next_run_at <= $2
		ORDER BY next_run_at ASC
	`
	return s.queryTasks(ctx, query, store.TaskStatusRunning, now)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]store.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []store.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ClaimTask flips the task to RUNNING with a conditional update. Two callers
// racing on the same task see exactly one success.
func (s *Store) ClaimTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $2, running_since = $3, updated_at = $3
		WHERE id = $1 AND enabled AND status <> $2
	`, id, store.TaskStatusRunning, at)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *Store) FinishTask(ctx context.Context, id uuid.UUID, outcome store.TaskRunOutcome) error {
	failed := outcome.Status == store.TaskStatusFailed

	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET status = $2,
			last_run_at = $3,
			last_duration_ms = $4,
			next_run_at = $5,
			running_since = NULL,
			run_count = run_count + CASE WHEN $6 THEN 0 ELSE 1 END,
			fail_count = fail_count + CASE WHEN $6 THEN 1 ELSE 0 END,
			last_error = $7,
			updated_at = NOW()
		WHERE id = $1
	`, id, outcome.Status, outcome.RunAt, outcome.Duration.Milliseconds(), outcome.NextRunAt, failed, outcome.Err)
	if err != nil {
		return err
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_tasks SET enabled = $2, updated_at = NOW() WHERE id = $1", id, enabled)
	if err != nil {
		return err
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return store.ErrNotFound
	}
	return nil
}
