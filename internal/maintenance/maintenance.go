// Package maintenance holds the housekeeping jobs run by the scheduler.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/store"
)

const (
	DefaultExecutionRetention    = 30 * 24 * time.Hour
	DefaultNotificationRetention = 90 * 24 * time.Hour
)

// HistoryStore is what log cleanup deletes from.
type HistoryStore interface {
	PurgeExecutions(ctx context.Context, before time.Time) (int64, error)
	PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error)
}

// LogCleaner enforces retention on execution history and read notifications.
type LogCleaner struct {
	store                 HistoryStore
	executionRetention    time.Duration
	notificationRetention time.Duration
	logger                *slog.Logger
	now                   func() time.Time
}

func NewLogCleaner(st HistoryStore, executionRetention, notificationRetention time.Duration, logger *slog.Logger) *LogCleaner {
	if executionRetention <= 0 {
		executionRetention = DefaultExecutionRetention
	}
	if notificationRetention <= 0 {
		notificationRetention = DefaultNotificationRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCleaner{
		store:                 st,
		executionRetention:    executionRetention,
		notificationRetention: notificationRetention,
		logger:                logger,
		now:                   func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs one retention pass.
func (c *LogCleaner) Handle(ctx context.Context, task store.ScheduledTask) (*store.TaskResult, error) {
	now := c.now()

	execs, err := c.store.PurgeExecutions(ctx, now.Add(-c.executionRetention))
	if err != nil {
		return nil, fmt.Errorf("purge executions: %w", err)
	}
	notes, err := c.store.PurgeReadNotifications(ctx, now.Add(-c.notificationRetention))
	if err != nil {
		return nil, fmt.Errorf("purge notifications: %w", err)
	}

	c.logger.Info("history cleaned", "task", task.Name, "executions_deleted", execs, "notifications_deleted", notes)
	return &store.TaskResult{Cleanup: &store.CleanupResult{
		ExecutionsDeleted:    execs,
		NotificationsDeleted: notes,
	}}, nil
}

// ExpiredLockCleaner is the lock manager operation lock cleanup calls.
type ExpiredLockCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// LockCleanup adapts an ExpiredLockCleaner to a job handler.
type LockCleanup struct {
	Locks ExpiredLockCleaner
	Now   func() time.Time
}

func (l LockCleanup) Handle(ctx context.Context, task store.ScheduledTask) (*store.TaskResult, error) {
	now := time.Now().UTC()
	if l.Now != nil {
		now = l.Now()
	}
	n, err := l.Locks.CleanupExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	return &store.TaskResult{Locks: &store.LockCleanup{Deleted: n}}, nil
}
