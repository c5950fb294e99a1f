package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateExecution(ctx context.Context, exec *store.TaskExecution) error {
	query := `
		INSERT INTO task_executions (id, task_id, status, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.ExecContext(ctx, query, exec.ID, exec.TaskID, exec.Status, exec.StartedAt)
	return mapError(err)
}

// CloseExecution writes the terminal state of a run. Only a row still in the
// running state is updated, so a run is closed at most once.
func (s *Store) CloseExecution(ctx context.Context, exec *store.TaskExecution) error {
	var result []byte
	if exec.Result != nil {
		b, err := json.Marshal(exec.Result)
		if err != nil {
			return fmt.Errorf("failed to encode task result: %w", err)
		}
		result = b
	}

	var durationMs *int64
	if exec.Duration != nil {
		ms := exec.Duration.Milliseconds()
		durationMs = &ms
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_executions
		SET status = $2, completed_at = $3, duration_ms = $4, result = $5, error_message = $6
		WHERE id = $1 AND status = $7
	`, exec.ID, exec.Status, exec.CompletedAt, durationMs, result, exec.ErrorMessage, store.ExecutionStatusRunning)
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

func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]store.TaskExecution, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, task_id, status, started_at, completed_at, duration_ms, result, error_message
		FROM task_executions
		WHERE task_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []store.TaskExecution
	for rows.Next() {
		var (
			e          store.TaskExecution
			durationMs sql.NullInt64
			result     []byte
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Status, &e.StartedAt, &e.CompletedAt,
			&durationMs, &result, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if durationMs.Valid {
			d := time.Duration(durationMs.Int64) * time.Millisecond
			e.Duration = &d
		}
		if len(result) > 0 {
			var r store.TaskResult
			if err := json.Unmarshal(result, &r); err != nil {
				return nil, fmt.Errorf("failed to decode result of execution %s: %w", e.ID, err)
			}
			e.Result = &r
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func (s *Store) PurgeExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM task_executions WHERE status <> $1 AND started_at < $2",
		store.ExecutionStatusRunning, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
