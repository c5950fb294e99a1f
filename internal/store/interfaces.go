package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"docflow/internal/errs"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = fmt.Errorf("record %w", errs.ErrNotFound)

	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = fmt.Errorf("duplicate record: %w", errs.ErrConflict)
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// UserStore resolves principals.
type UserStore interface {
	// CreateUser inserts a new user together with the hash of its API key.
	CreateUser(ctx context.Context, user *User, hashedKey string) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error)

	// ListUsersByRole returns users holding role, oldest first.
	// An empty department matches every department.
	ListUsersByRole(ctx context.Context, role Role, department string) ([]User, error)
}

// DocumentStore reads and mutates the lifecycle fields of documents.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error

	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)

	// ListSweepableDocuments returns documents with an expiration date that are
	// neither cancelled nor archived.
	ListSweepableDocuments(ctx context.Context) ([]Document, error)

	// TransitionDocumentStatus sets the status only when the current status is
	// not in except. It reports whether a row changed.
	TransitionDocumentStatus(ctx context.Context, id uuid.UUID, to DocumentStatus, except []DocumentStatus, at time.Time) (bool, error)
}

// TaskStore handles the persistence of scheduled tasks and their execution history.
type TaskStore interface {
	// CreateTaskIfAbsent inserts the task unless one with the same name exists.
	CreateTaskIfAbsent(ctx context.Context, task *ScheduledTask) (bool, error)

	GetTask(ctx context.Context, id uuid.UUID) (*ScheduledTask, error)

	ListTasks(ctx context.Context) ([]ScheduledTask, error)

	// ListDueTasks returns enabled, non-running tasks with next_run_at <= now.
	ListDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)

	// ClaimTask flips an enabled task to RUNNING unless it already is.
	// It reports false when another caller holds the task.
	ClaimTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// FinishTask closes a run: counters, last error, next run, and clears RUNNING.
	FinishTask(ctx context.Context, id uuid.UUID, outcome TaskRunOutcome) error

	SetTaskEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	CreateExecution(ctx context.Context, exec *TaskExecution) error

	// CloseExecution finalizes a running execution row exactly once.
	CloseExecution(ctx context.Context, exec *TaskExecution) error

	ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]TaskExecution, error)

	// PurgeExecutions deletes closed executions that started before the cutoff.
	PurgeExecutions(ctx context.Context, before time.Time) (int64, error)
}

// AlertStore handles document alerts and their per-recipient delivery rows.
type AlertStore interface {
	// ListAlerts returns the alerts of a document ordered by level ascending.
	ListAlerts(ctx context.Context, documentID uuid.UUID) ([]DocumentAlert, error)

	GetAlert(ctx context.Context, id uuid.UUID) (*DocumentAlert, error)

	// CreateAlert inserts the alert. It returns ErrDuplicate when the document
	// already has an alert at that level.
	CreateAlert(ctx context.Context, alert *DocumentAlert) error

	// EscalateAlert raises the level only if the alert is still at fromLevel and
	// not acknowledged. It reports whether the row changed.
	EscalateAlert(ctx context.Context, id uuid.UUID, fromLevel, toLevel int, target uuid.UUID, at time.Time) (bool, error)

	// AcknowledgeAlert marks a non-acknowledged alert as acknowledged.
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error)

	CreateAlertNotification(ctx context.Context, n *DocumentAlertNotification) error

	MarkAlertEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error

	ListExpiring(ctx context.Context, filter ExpiringFilter) ([]ExpiringDocument, error)
}

// NotificationStore is the in-app notification sink.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error

	// MarkNotificationRead marks the notification read if it belongs to userID.
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error

	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)

	// PurgeReadNotifications deletes read notifications created before the cutoff.
	PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error)
}

// WorkflowStore handles approval workflows and their steps.
type WorkflowStore interface {
	// CreateWorkflow inserts the workflow and its steps. It returns ErrDuplicate
	// when the document already has a workflow.
	CreateWorkflow(ctx context.Context, wf *ApprovalWorkflow, steps []ApprovalStep) error

	GetWorkflow(ctx context.Context, id uuid.UUID) (*ApprovalWorkflow, error)

	GetWorkflowByDocument(ctx context.Context, documentID uuid.UUID) (*ApprovalWorkflow, error)

	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]ApprovalStep, error)

	GetStep(ctx context.Context, id uuid.UUID) (*ApprovalStep, error)

	// StartWorkflow moves a DRAFT workflow to ACTIVE and its document to PENDING.
	// A document in a closed status keeps its status.
	StartWorkflow(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// DecideStep records a decision on a pending step of an ACTIVE workflow. It
	// reports false when the step was no longer pending or the workflow was closed.
	DecideStep(ctx context.Context, step *ApprovalStep) (bool, error)

	// ApplyOutcome writes the workflow status, current step, skipped steps and
	// document status in one transaction. It reports false and writes nothing
	// when the workflow is no longer in outcome.From, or when a COMPLETED
	// outcome meets a rejected step. Closed documents keep their status.
	ApplyOutcome(ctx context.Context, outcome WorkflowOutcome) (bool, error)
}

// LockStore persists document edit leases. Every method is a single conditional write.
type LockStore interface {
	// UpsertLock creates the lock, renews it for the same holder, or reclaims
	// it when expired at now. It returns the stored lock and whether it was granted.
	// When not granted the returned lock is the current holder's.
	UpsertLock(ctx context.Context, lock DocumentLock, now time.Time) (*DocumentLock, bool, error)

	GetLock(ctx context.Context, documentID uuid.UUID) (*DocumentLock, error)

	// DeleteLock removes the lock if held by userID. A nil userID deletes unconditionally.
	DeleteLock(ctx context.Context, documentID uuid.UUID, userID *uuid.UUID) (bool, error)

	// DeleteLockIfExpired removes the lock only if it has expired at now.
	DeleteLockIfExpired(ctx context.Context, documentID uuid.UUID, now time.Time) (bool, error)

	// DeleteExpiredLocks removes all locks with expires_at < now.
	DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error)
}

// AuditStore is the audit sink.
type AuditStore interface {
	RecordAudit(ctx context.Context, entry *AuditEntry) error
}

// Store combines every repository. Both the Postgres and in-memory stores satisfy it.
type Store interface {
	Ping(ctx context.Context) error
	Close() error
	UserStore
	DocumentStore
	TaskStore
	AlertStore
	NotificationStore
	WorkflowStore
	LockStore
	AuditStore
}
