// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"docflow/internal/alerts"
	"docflow/internal/auth"
	"docflow/internal/errs"
	"docflow/internal/locks"
	"docflow/internal/logger"
	"docflow/internal/scheduler"
	"docflow/internal/store"
	"docflow/internal/workflow"
	"docflow/pkg/api"

	"github.com/google/uuid"
)

// Store is the direct persistence the handlers use outside the engines.
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user *store.User, hashedKey string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	CreateDocument(ctx context.Context, doc *store.Document) error
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error
}

// TaskService is the scheduler surface exposed over HTTP.
type TaskService interface {
	ListTasks(ctx context.Context) ([]store.ScheduledTask, error)
	ExecuteTask(ctx context.Context, id uuid.UUID) (*store.TaskExecution, error)
	ProcessDueTasks(ctx context.Context, now time.Time) (*scheduler.ProcessReport, error)
	InitializeDefaultTasks(ctx context.Context) (int, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool, actor *uuid.UUID) (*store.ScheduledTask, error)
	History(ctx context.Context, id uuid.UUID, limit int) ([]store.TaskExecution, error)
	Now() time.Time
}

type LockService interface {
	Acquire(ctx context.Context, documentID uuid.UUID, p auth.Principal, sessionID *string) (*store.DocumentLock, error)
	Release(ctx context.Context, documentID uuid.UUID, p auth.Principal) error
	ForceRelease(ctx context.Context, documentID uuid.UUID, p auth.Principal) error
	Info(ctx context.Context, documentID uuid.UUID, callerID uuid.UUID) (*locks.Info, error)
}

type WorkflowService interface {
	Create(ctx context.Context, req workflow.CreateRequest, p auth.Principal) (*workflow.Workflow, error)
	Start(ctx context.Context, id uuid.UUID, p auth.Principal) (*workflow.Workflow, error)
	Approve(ctx context.Context, stepID uuid.UUID, p auth.Principal, comment string) (*workflow.Workflow, error)
	Reject(ctx context.Context, stepID uuid.UUID, p auth.Principal, reason string) (*workflow.Workflow, error)
	Cancel(ctx context.Context, id uuid.UUID, p auth.Principal, reason string) (*workflow.Workflow, error)
	GetByDocument(ctx context.Context, documentID uuid.UUID) (*workflow.Workflow, error)
}

type AlertService interface {
	Expiring(ctx context.Context, q alerts.ExpiringQuery) ([]alerts.ExpiringItem, error)
	Acknowledge(ctx context.Context, alertID uuid.UUID, p auth.Principal) (*store.DocumentAlert, error)
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Store     Store
	Tasks     TaskService
	Locks     LockService
	Workflows WorkflowService
	Alerts    AlertService
	Logger    *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     Store
	tasks     TaskService
	locks     LockService
	workflows WorkflowService
	alerts    AlertService
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new Handlers instance.
func New(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Handlers{
		store:     d.Store,
		tasks:     d.Tasks,
		locks:     d.Locks,
		workflows: d.Workflows,
		alerts:    d.Alerts,
		logger:    d.Logger,
		now:       d.Clock,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// fail maps an engine error to its HTTP status.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger)

	var conflict *locks.ConflictError
	var outcome *workflow.OutcomeError
	switch {
	case errors.As(err, &conflict):
		h.respondJson(w, http.StatusConflict, api.LockConflictResponse{
			Error:            conflict.Error(),
			Code:             strconv.Itoa(http.StatusConflict),
			Holder:           conflict.Holder.String(),
			ExpiresAt:        conflict.ExpiresAt,
			RemainingSeconds: int64(conflict.Remaining.Seconds()),
		})
	case errors.As(err, &outcome):
		log.Error("workflow outcome not applied", "workflow_id", outcome.WorkflowID, "step_id", outcome.StepID, "error", outcome.Err)
		h.respondJson(w, http.StatusInternalServerError, api.ErrorResponse{
			Error:   "Workflow could not be updated",
			Code:    strconv.Itoa(http.StatusInternalServerError),
			Details: "the step decision was recorded",
		})
	case errors.Is(err, errs.ErrNotFound):
		h.httpError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, errs.ErrForbidden):
		h.httpError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, errs.ErrConflict):
		h.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, errs.ErrValidation):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// principal returns the caller or writes 401.
func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

// pathID parses the {name} path value or writes 400.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		h.httpError(w, "Invalid "+label+" id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// queryBool reads an optional boolean query parameter.
func queryBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, errors.New("invalid " + name)
	}
	return &b, nil
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func millis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}
