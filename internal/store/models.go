// Package store contains the database layer for docflow.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Role is the authority level of a user.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleUser    Role = "USER"
)

// User is a principal that can act on documents.
type User struct {
	ID         uuid.UUID
	Email      string
	Name       string
	Role       Role
	Department string
	CreatedAt  time.Time
}

// DocumentStatus represents the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusDraft    DocumentStatus = "DRAFT"
	DocumentStatusPending  DocumentStatus = "PENDING"
	DocumentStatusApproved DocumentStatus = "APPROVED"
	DocumentStatusExpired  DocumentStatus = "EXPIRED"
	DocumentStatusCanceled DocumentStatus = "CANCELLED"
	DocumentStatusArchived DocumentStatus = "ARCHIVED"
)

// ClosedDocumentStatuses are never overwritten by workflow transitions or by expiry.
var ClosedDocumentStatuses = []DocumentStatus{DocumentStatusExpired, DocumentStatusCanceled, DocumentStatusArchived}

// Document is the subset of the document entity the lifecycle core reads and mutates.
type Document struct {
	ID             uuid.UUID
	Title          string
	Status         DocumentStatus
	AuthorID       uuid.UUID
	Department     string
	ExpirationDate *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskStatus represents the state of a scheduled task.
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "SCHEDULED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// JobType tags which handler a scheduled task dispatches to.
type JobType string

const (
	JobTypeExpirationCheck JobType = "expiration_check"
	JobTypeBackup          JobType = "backup"
	JobTypeLogCleanup      JobType = "log_cleanup"
	JobTypeLockCleanup     JobType = "lock_cleanup"
)

// ScheduledTask is a recurring job registered with the scheduler.
// At most one row per ID may be RUNNING; the status column is the only
// exclusion mechanism and is flipped with a conditional update.
type ScheduledTask struct {
	ID           uuid.UUID
	Name         string
	JobType      JobType
	Schedule     string
	Status       TaskStatus
	Enabled      bool
	NextRunAt    time.Time
	LastRunAt    *time.Time
	LastDuration *time.Duration
	RunningSince *time.Time
	RunCount     int
	FailCount    int
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TaskRunOutcome is everything written back to a task when a run closes.
type TaskRunOutcome struct {
	Status    TaskStatus
	RunAt     time.Time
	Duration  time.Duration
	NextRunAt time.Time
	Err       *string
}

// ExecutionStatus represents the state of a single task run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// TaskExecution is the append-only history row of one run.
type TaskExecution struct {
	ID           uuid.UUID
	TaskID       uuid.UUID
	Status       ExecutionStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Duration     *time.Duration
	Result       *TaskResult
	ErrorMessage *string
}

// TaskResult is the typed payload of a completed run. Exactly one field is set,
// matching the job type that produced it.
type TaskResult struct {
	Sweep   *SweepSummary  `json:"sweep,omitempty"`
	Backup  *BackupResult  `json:"backup,omitempty"`
	Cleanup *CleanupResult `json:"cleanup,omitempty"`
	Locks   *LockCleanup   `json:"locks,omitempty"`
}

// SweepSummary is returned by one alert sweep.
type SweepSummary struct {
	Processed     int      `json:"processed"`
	AlertsCreated int      `json:"alerts_created"`
	Escalations   int      `json:"escalations"`
	Expired       int      `json:"expired"`
	Errors        []string `json:"errors"`
}

// BackupResult describes one backup run.
type BackupResult struct {
	Runtime  string `json:"runtime"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// CleanupResult describes one history retention pass.
type CleanupResult struct {
	ExecutionsDeleted    int64 `json:"executions_deleted"`
	NotificationsDeleted int64 `json:"notifications_deleted"`
}

// LockCleanup describes one expired-lock purge.
type LockCleanup struct {
	Deleted int64 `json:"deleted"`
}

// AlertStatus represents the delivery state of an alert.
type AlertStatus string

const (
	AlertStatusSent         AlertStatus = "sent"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusEscalated    AlertStatus = "escalated"
)

// DocumentAlert is one escalation level reached for a document.
// Level never decreases for a document; (document_id, level) is unique.
type DocumentAlert struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	Level          int
	Status         AlertStatus
	SentAt         time.Time
	EscalatedAt    *time.Time
	EscalatedTo    *uuid.UUID
	AcknowledgedAt *time.Time
	AcknowledgedBy *uuid.UUID
}

// LastActivity is the instant the escalation interval is measured from.
func (a DocumentAlert) LastActivity() time.Time {
	if a.EscalatedAt != nil {
		return *a.EscalatedAt
	}
	return a.SentAt
}

// DocumentAlertNotification records the per-recipient delivery state of an alert.
type DocumentAlertNotification struct {
	ID             uuid.UUID
	AlertID        uuid.UUID
	UserID         uuid.UUID
	NotificationID uuid.UUID
	EmailSent      bool
	EmailSentAt    *time.Time
	CreatedAt      time.Time
}

// NotificationType classifies an in-app notification.
type NotificationType string

const (
	NotificationExpiration NotificationType = "document_expiration"
	NotificationEscalation NotificationType = "document_escalation"
)

// Notification is an in-app message for a single user.
type Notification struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Type       NotificationType
	Title      string
	Message    string
	DocumentID *uuid.UUID
	Read       bool
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// WorkflowType selects how step approvals combine.
type WorkflowType string

const (
	WorkflowSequential WorkflowType = "SEQUENTIAL"
	WorkflowParallel   WorkflowType = "PARALLEL"
	WorkflowAny        WorkflowType = "ANY"
)

// WorkflowStatus represents the state of an approval workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "DRAFT"
	WorkflowStatusActive    WorkflowStatus = "ACTIVE"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// ApprovalWorkflow is the approval state machine of one document.
type ApprovalWorkflow struct {
	ID          uuid.UUID
	DocumentID  uuid.UUID
	Type        WorkflowType
	Status      WorkflowStatus
	CurrentStep int
	TotalSteps  int
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// StepStatus represents the decision on an approval step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
	StepStatusSkipped  StepStatus = "skipped"
)

// StepBinding identifies who may act on a step. Exactly one field is set.
type StepBinding struct {
	UserID       *uuid.UUID
	RoleID       *Role
	DepartmentID *string
}

// ApprovalStep is one ordered step of a workflow.
type ApprovalStep struct {
	ID              uuid.UUID
	WorkflowID      uuid.UUID
	StepNumber      int
	Binding         StepBinding
	Status          StepStatus
	ActedBy         *uuid.UUID
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	Comments        *string
	RejectionReason *string
}

// WorkflowOutcome is the result of evaluating a workflow after a step decision.
// It is applied atomically together with the document status change, and only
// while the workflow is still in one of the From statuses.
type WorkflowOutcome struct {
	WorkflowID     uuid.UUID
	From           []WorkflowStatus
	Status         WorkflowStatus
	CurrentStep    int
	SkipPending    bool
	DocumentID     uuid.UUID
	DocumentStatus *DocumentStatus
	At             time.Time
}

// DocumentLock is the edit lease on a document.
// A row whose ExpiresAt has passed is logically absent.
type DocumentLock struct {
	DocumentID uuid.UUID
	UserID     uuid.UUID
	LockedAt   time.Time
	ExpiresAt  time.Time
	SessionID  *string
}

// Expired reports whether the lease is void at now.
func (l DocumentLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// AuditEntry is one recorded state-changing action.
type AuditEntry struct {
	ID         uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	EntityType string
	EntityID   uuid.UUID
	FromStatus *string
	ToStatus   *string
	Comment    *string
	CreatedAt  time.Time
}

// ExpiringFilter selects rows for the expiring-documents projection.
type ExpiringFilter struct {
	Within         time.Duration
	IncludeExpired bool
	Acknowledged   *bool
	Now            time.Time
}

// ExpiringDocument is one row of the expiring-documents projection.
type ExpiringDocument struct {
	Document    Document
	LatestAlert *DocumentAlert
}
