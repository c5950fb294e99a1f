// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// CreateUserRequest is the body of POST /internal/users.
type CreateUserRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
}

// CreateUserResponse carries the generated API key. It is only ever shown once.
type CreateUserResponse struct {
	ID         string `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	APIKey     string `json:"api_key"`
}

// CreateDocumentRequest registers a document with the lifecycle core.
type CreateDocumentRequest struct {
	Title          string     `json:"title"`
	AuthorID       string     `json:"author_id"`
	Department     string     `json:"department,omitempty"`
	Status         string     `json:"status,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// DocumentResponse represents a document in API responses.
type DocumentResponse struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	AuthorID       string     `json:"author_id"`
	Department     string     `json:"department,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Task actions accepted by POST /tasks.
const (
	TaskActionExecute    = "execute"
	TaskActionProcessAll = "process-all"
	TaskActionInitialize = "initialize"
)

// TaskActionRequest is the body of POST /tasks. TaskID is required for execute.
type TaskActionRequest struct {
	Action string `json:"action"`
	TaskID string `json:"task_id,omitempty"`
}

// ToggleTaskRequest is the body of PUT /tasks.
type ToggleTaskRequest struct {
	TaskID  string `json:"task_id"`
	Enabled *bool  `json:"enabled"`
}

// TaskResponse represents a scheduled task in API responses.
type TaskResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	JobType        string     `json:"job_type"`
	Schedule       string     `json:"schedule"`
	Status         string     `json:"status"`
	Enabled        bool       `json:"enabled"`
	NextRunAt      time.Time  `json:"next_run_at"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastDurationMs *int64     `json:"last_duration_ms,omitempty"`
	RunCount       int        `json:"run_count"`
	FailCount      int        `json:"fail_count"`
	LastError      *string    `json:"last_error,omitempty"`
	// Stale is set when the task has been RUNNING longer than its interval.
	Stale bool `json:"stale"`
}

// ListTasksResponse is the response body of GET /tasks.
type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// ExecutionResponse represents one task run.
type ExecutionResponse struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// ListExecutionsResponse is the response body of GET /tasks/{id}/executions.
type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

// TaskOutcomeResponse is the result of one task in a process-all run.
type TaskOutcomeResponse struct {
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ProcessResponse is returned by the process-all action.
type ProcessResponse struct {
	Processed int                   `json:"processed"`
	Outcomes  []TaskOutcomeResponse `json:"outcomes"`
	Stale     []string              `json:"stale,omitempty"`
}

// InitializeResponse is returned by the initialize action.
type InitializeResponse struct {
	Created int `json:"created"`
}

// AcquireLockRequest is the optional body of POST /documents/{id}/lock.
type AcquireLockRequest struct {
	SessionID *string `json:"session_id,omitempty"`
}

// LockResponse describes the lock state of a document.
type LockResponse struct {
	DocumentID       string     `json:"document_id"`
	Locked           bool       `json:"locked"`
	Holder           *string    `json:"holder,omitempty"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
	Own              bool       `json:"own"`
}

// LockConflictResponse is returned with 409 when another user holds the lock.
type LockConflictResponse struct {
	Error            string    `json:"error"`
	Code             string    `json:"code"`
	Holder           string    `json:"holder"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// StepBinding names who may act on a step. Exactly one field is set.
type StepBinding struct {
	UserID     *string `json:"user_id,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
}

// CreateWorkflowRequest is the body of POST /documents/{id}/workflow.
type CreateWorkflowRequest struct {
	Type  string        `json:"type,omitempty"`
	Steps []StepBinding `json:"steps"`
}

// Workflow actions accepted by PUT /documents/{id}/workflow.
const (
	WorkflowActionStart   = "start"
	WorkflowActionApprove = "approve"
	WorkflowActionReject  = "reject"
	WorkflowActionCancel  = "cancel"
)

// WorkflowActionRequest is the body of PUT /documents/{id}/workflow.
type WorkflowActionRequest struct {
	Action          string `json:"action"`
	StepID          string `json:"step_id,omitempty"`
	Comments        string `json:"comments,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// StepResponse represents one approval step.
type StepResponse struct {
	ID              string      `json:"id"`
	StepNumber      int         `json:"step_number"`
	Binding         StepBinding `json:"binding"`
	Status          string      `json:"status"`
	ActedBy         *string     `json:"acted_by,omitempty"`
	ApprovedAt      *time.Time  `json:"approved_at,omitempty"`
	RejectedAt      *time.Time  `json:"rejected_at,omitempty"`
	Comments        *string     `json:"comments,omitempty"`
	RejectionReason *string     `json:"rejection_reason,omitempty"`
}

// WorkflowResponse represents an approval workflow with its steps.
type WorkflowResponse struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
	Steps       []StepResponse `json:"steps"`
}

// AlertResponse represents a document alert.
type AlertResponse struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	Level          int        `json:"level"`
	Status         string     `json:"status"`
	SentAt         time.Time  `json:"sent_at"`
	EscalatedAt    *time.Time `json:"escalated_at,omitempty"`
	EscalatedTo    *string    `json:"escalated_to,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
}

// ExpiringDocumentResponse is one row of GET /documents/expiring.
type ExpiringDocumentResponse struct {
	Document      DocumentResponse `json:"document"`
	DaysRemaining int              `json:"days_remaining"`
	LatestAlert   *AlertResponse   `json:"latest_alert,omitempty"`
}

// ListExpiringResponse is the response body of GET /documents/expiring.
type ListExpiringResponse struct {
	Documents []ExpiringDocumentResponse `json:"documents"`
}

// NotificationResponse represents an in-app notification.
type NotificationResponse struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	DocumentID *string    `json:"document_id,omitempty"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ListNotificationsResponse is the response body of GET /notifications.
type ListNotificationsResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
}
