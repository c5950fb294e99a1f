package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"docflow/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var taskRowColumns = []string{
	"id", "name", "job_type", "schedule", "status", "enabled", "next_run_at", "last_run_at",
	"last_duration_ms", "running_since", "run_count", "fail_count", "last_error", "created_at", "updated_at",
}

func TestCreateTaskIfAbsent(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	task := &store.ScheduledTask{
		ID:        uuid.New(),
		Name:      "lock-cleanup",
		JobType:   store.JobTypeLockCleanup,
		Schedule:  "0 */6 * * *",
		Status:    store.TaskStatusScheduled,
		Enabled:   true,
		NextRunAt: now.Add(time.Hour),
		CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO scheduled_tasks .* ON CONFLICT \(name\) DO NOTHING`).
		WithArgs(task.ID, task.Name, task.JobType, task.Schedule, task.Status, task.Enabled, task.NextRunAt, task.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_tasks`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store_.CreateTaskIfAbsent(ctx, task)
	if err != nil {
		t.Fatalf("CreateTaskIfAbsent failed: %v", err)
	}
	if !created {
		t.Error("expected first insert to create the task")
	}

	created, err = store_.CreateTaskIfAbsent(ctx, task)
	if err != nil {
		t.Fatalf("CreateTaskIfAbsent failed: %v", err)
	}
	if created {
		t.Error("expected second insert to be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetTask_Success(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	ctx := context.Background()
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	lastErr := "boom"

	mock.ExpectQuery(`SELECT .* FROM scheduled_tasks WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).AddRow(
			id.String(), "database-backup", "backup", "0 2 * * *", "FAILED", true, now, now.Add(-time.Hour),
			int64(1500), nil, 3, 1, lastErr, now.Add(-48*time.Hour), now,
		))

	task, err := store_.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.ID != id {
		t.Errorf("got ID %v, want %v", task.ID, id)
	}
	if task.JobType != store.JobTypeBackup {
		t.Errorf("got JobType %v, want %v", task.JobType, store.JobTypeBackup)
	}
	if task.Status != store.TaskStatusFailed {
		t.Errorf("got Status %v, want %v", task.Status, store.TaskStatusFailed)
	}
	if task.LastDuration == nil || *task.LastDuration != 1500*time.Millisecond {
		t.Errorf("got LastDuration %v, want 1.5s", task.LastDuration)
	}
	if task.RunningSince != nil {
		t.Errorf("expected nil RunningSince, got %v", task.RunningSince)
	}
	if task.LastError == nil || *task.LastError != lastErr {
		t.Errorf("got LastError %v, want %q", task.LastError, lastErr)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM scheduled_tasks WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	task, err := store_.GetTask(context.Background(), id)
	if err != store.ErrNotFound {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
	if task != nil {
		t.Error("expected nil task")
	}
}

func TestClaimTask(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"claimed", 1, true},
		{"already running", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store_, mock := newMockStore(t)
			defer store_.db.Close()

			id := uuid.New()
			at := time.Now().UTC()

			mock.ExpectExec(`UPDATE scheduled_tasks\s+SET status = \$2, running_since = \$3`).
				WithArgs(id, store.TaskStatusRunning, at).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := store_.ClaimTask(context.Background(), id, at)
			if err != nil {
				t.Fatalf("ClaimTask failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestFinishTask_Failure(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	id := uuid.New()
	runAt := time.Now().UTC()
	next := runAt.Add(time.Hour)
	msg := "handler failed"

	mock.ExpectExec(`UPDATE scheduled_tasks`).
		WithArgs(id, store.TaskStatusFailed, runAt, int64(250), next, true, &msg).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store_.FinishTask(context.Background(), id, store.TaskRunOutcome{
		Status:    store.TaskStatusFailed,
		RunAt:     runAt,
		Duration:  250 * time.Millisecond,
		NextRunAt: next,
		Err:       &msg,
	})
	if err != nil {
		t.Fatalf("FinishTask failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFinishTask_Missing(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectExec(`UPDATE scheduled_tasks`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store_.FinishTask(context.Background(), uuid.New(), store.TaskRunOutcome{Status: store.TaskStatusCompleted})
	if err != store.ErrNotFound {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestCloseExecution_EncodesResult(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	now := time.Now().UTC()
	dur := 2 * time.Second
	exec := &store.TaskExecution{
		ID:          uuid.New(),
		Status:      store.ExecutionStatusCompleted,
		CompletedAt: &now,
		Duration:    &dur,
		Result:      &store.TaskResult{Locks: &store.LockCleanup{Deleted: 3}},
	}

	mock.ExpectExec(`UPDATE task_executions`).
		WithArgs(exec.ID, exec.Status, sqlmock.AnyArg(), sqlmock.AnyArg(), []byte(`{"locks":{"deleted":3}}`), nil, store.ExecutionStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store_.CloseExecution(context.Background(), exec); err != nil {
		t.Fatalf("CloseExecution failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCloseExecution_AlreadyClosed(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	mock.ExpectExec(`UPDATE task_executions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store_.CloseExecution(context.Background(), &store.TaskExecution{ID: uuid.New(), Status: store.ExecutionStatusFailed})
	if err != store.ErrNotFound {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestListExecutions_DecodesResult(t *testing.T) {
	store_, mock := newMockStore(t)
	defer store_.db.Close()

	taskID := uuid.New()
	execID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM task_executions`).
		WithArgs(taskID, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "status", "started_at", "completed_at", "duration_ms", "result", "error_message",
		}).AddRow(
			execID.String(), taskID.String(), "completed", now, now, int64(40),
			[]byte(`{"sweep":{"processed":4,"alerts_created":1,"escalations":0,"expired":1,"errors":[]}}`), nil,
		))

	execs, err := store_.ListExecutions(context.Background(), taskID, 10)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if execs[0].Result == nil || execs[0].Result.Sweep == nil {
		t.Fatal("expected decoded sweep result")
	}
	if execs[0].Result.Sweep.Processed != 4 {
		t.Errorf("got Processed %d, want 4", execs[0].Result.Sweep.Processed)
	}
	if execs[0].Duration == nil || *execs[0].Duration != 40*time.Millisecond {
		t.Errorf("got Duration %v, want 40ms", execs[0].Duration)
	}
}
