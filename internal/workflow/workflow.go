// Package workflow implements document approval workflows.
//
// A workflow moves DRAFT -> ACTIVE -> COMPLETED | CANCELLED. Each step is
// bound to one user, role or department and is decided at most once.
// Rejection of any step cancels the whole workflow.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docflow/internal/auth"
	"docflow/internal/errs"
	"docflow/internal/observability"
	"docflow/internal/store"

	"github.com/google/uuid"
)

var (
	ErrNoSteps          = fmt.Errorf("workflow needs at least one step: %w", errs.ErrValidation)
	ErrReasonRequired   = fmt.Errorf("rejection reason is required: %w", errs.ErrValidation)
	ErrNotDraft         = fmt.Errorf("workflow is not in DRAFT: %w", errs.ErrConflict)
	ErrNotOpen          = fmt.Errorf("workflow is already closed: %w", errs.ErrConflict)
	ErrStepDecided      = fmt.Errorf("step was already decided: %w", errs.ErrConflict)
	ErrNotCurrentStep   = fmt.Errorf("step is not the current step: %w", errs.ErrConflict)
	ErrInactiveWorkflow = fmt.Errorf("step does not belong to an active workflow: %w", errs.ErrNotFound)
)

// OutcomeError reports that a step decision was stored but the workflow and
// document could not be updated afterwards. The decision stands.
type OutcomeError struct {
	WorkflowID uuid.UUID
	StepID     uuid.UUID
	Err        error
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("step %s recorded but workflow %s was not updated: %v", e.StepID, e.WorkflowID, e.Err)
}

func (e *OutcomeError) Unwrap() error { return e.Err }

// Store is the persistence the engine needs.
type Store interface {
	store.WorkflowStore
	store.DocumentStore
	store.AuditStore
}

// Workflow is a workflow with its ordered steps.
type Workflow struct {
	store.ApprovalWorkflow
	Steps []store.ApprovalStep
}

// Engine drives approval workflows.
type Engine struct {
	store   Store
	logger  *slog.Logger
	metrics *observability.Instruments
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *observability.Instruments) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRequest describes a new workflow. Steps are numbered in order from 1.
type CreateRequest struct {
	DocumentID uuid.UUID
	Type       store.WorkflowType
	Steps      []store.StepBinding
}

// Create registers a DRAFT workflow for a document. A document has at most one workflow.
func (e *Engine) Create(ctx context.Context, req CreateRequest, p auth.Principal) (*Workflow, error) {
	if len(req.Steps) == 0 {
		return nil, ErrNoSteps
	}
	if req.Type == "" {
		req.Type = store.WorkflowSequential
	}
	switch req.Type {
	case store.WorkflowSequential, store.WorkflowParallel, store.WorkflowAny:
	default:
		return nil, fmt.Errorf("unknown workflow type %q: %w", req.Type, errs.ErrValidation)
	}
	for i, b := range req.Steps {
		if _, err := auth.ApproverFor(b); err != nil {
			return nil, fmt.Errorf("step %d: %v: %w", i+1, err, errs.ErrValidation)
		}
	}

	if _, err := e.store.GetDocument(ctx, req.DocumentID); err != nil {
		return nil, fmt.Errorf("document %s: %w", req.DocumentID, err)
	}

	now := e.now()
	wf := store.ApprovalWorkflow{
		ID:          uuid.New(),
		DocumentID:  req.DocumentID,
		Type:        req.Type,
		Status:      store.WorkflowStatusDraft,
		CurrentStep: 0,
		TotalSteps:  len(req.Steps),
		CreatedBy:   p.ID,
		CreatedAt:   now,
	}
	steps := make([]store.ApprovalStep, len(req.Steps))
	for i, b := range req.Steps {
		steps[i] = store.ApprovalStep{
			ID:         uuid.New(),
			WorkflowID: wf.ID,
			StepNumber: i + 1,
			Binding:    b,
			Status:     store.StepStatusPending,
		}
	}

	if err := e.store.CreateWorkflow(ctx, &wf, steps); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("document %s already has a workflow: %w", req.DocumentID, errs.ErrConflict)
		}
		return nil, fmt.Errorf("create workflow: %w", err)
	}

	e.audit(ctx, p.ID, "workflow.create", "approval_workflow", wf.ID, "", string(wf.Status), nil, now)
	e.logger.Info("workflow created", "workflow_id", wf.ID, "document_id", wf.DocumentID, "type", wf.Type, "steps", len(steps))
	return &Workflow{ApprovalWorkflow: wf, Steps: steps}, nil
}

// Start activates a DRAFT workflow and moves its document to PENDING.
func (e *Engine) Start(ctx context.Context, id uuid.UUID, p auth.Principal) (*Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	if err := e.authorizeOwner(ctx, wf, p); err != nil {
		return nil, err
	}
	if wf.Status != store.WorkflowStatusDraft {
		return nil, ErrNotDraft
	}

	now := e.now()
	ok, err := e.store.StartWorkflow(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	if !ok {
		return nil, ErrNotDraft
	}

	e.metrics.WorkflowTransition(ctx, string(store.WorkflowStatusActive))
	e.audit(ctx, p.ID, "workflow.start", "approval_workflow", id,
		string(store.WorkflowStatusDraft), string(store.WorkflowStatusActive), nil, now)
	e.logger.Info("workflow started", "workflow_id", id, "document_id", wf.DocumentID)
	return e.Get(ctx, id)
}

// Approve records an approval on a step and advances or completes the workflow.
// If the workflow update fails after the approval was stored, the returned
// error is an *OutcomeError and the approval is kept.
func (e *Engine) Approve(ctx context.Context, stepID uuid.UUID, p auth.Principal, comment string) (*Workflow, error) {
	wf, step, err := e.actionable(ctx, stepID, p)
	if err != nil {
		return nil, err
	}

	now := e.now()
	step.Status = store.StepStatusApproved
	step.ActedBy = &p.ID
	step.ApprovedAt = &now
	if comment != "" {
		step.Comments = &comment
	}
	if err := e.decide(ctx, step); err != nil {
		return nil, err
	}

	e.audit(ctx, p.ID, "step.approve", "approval_step", step.ID,
		string(store.StepStatusPending), string(store.StepStatusApproved), step.Comments, now)
	e.logger.Info("step approved", "workflow_id", wf.ID, "step_id", step.ID, "step", step.StepNumber, "user_id", p.ID)

	return e.settle(ctx, wf, step, p.ID, now)
}

// Reject records a rejection and cancels the workflow. A reason is mandatory.
func (e *Engine) Reject(ctx context.Context, stepID uuid.UUID, p auth.Principal, reason string) (*Workflow, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	wf, step, err := e.actionable(ctx, stepID, p)
	if err != nil {
		return nil, err
	}

	now := e.now()
	step.Status = store.StepStatusRejected
	step.ActedBy = &p.ID
	step.RejectedAt = &now
	step.RejectionReason = &reason
	if err := e.decide(ctx, step); err != nil {
		return nil, err
	}

	e.audit(ctx, p.ID, "step.reject", "approval_step", step.ID,
		string(store.StepStatusPending), string(store.StepStatusRejected), &reason, now)
	e.logger.Info("step rejected", "workflow_id", wf.ID, "step_id", step.ID, "step", step.StepNumber, "user_id", p.ID)

	return e.settle(ctx, wf, step, p.ID, now)
}

// Cancel closes an open workflow without a decision. Only the document author
// or an admin may cancel.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, p auth.Principal, reason string) (*Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	doc, err := e.store.GetDocument(ctx, wf.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", wf.DocumentID, err)
	}
	if !p.CanOverride() && p.ID != doc.AuthorID {
		return nil, fmt.Errorf("cancel workflow %s: %w", id, errs.ErrForbidden)
	}
	if wf.Status != store.WorkflowStatusDraft && wf.Status != store.WorkflowStatusActive {
		return nil, ErrNotOpen
	}

	now := e.now()
	draft := store.DocumentStatusDraft
	applied, err := e.store.ApplyOutcome(ctx, store.WorkflowOutcome{
		WorkflowID:     wf.ID,
		From:           []store.WorkflowStatus{store.WorkflowStatusDraft, store.WorkflowStatusActive},
		Status:         store.WorkflowStatusCancelled,
		CurrentStep:    wf.CurrentStep,
		SkipPending:    true,
		DocumentID:     wf.DocumentID,
		DocumentStatus: &draft,
		At:             now,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel workflow: %w", err)
	}
	if !applied {
		return nil, ErrNotOpen
	}

	var c *string
	if reason != "" {
		c = &reason
	}
	e.metrics.WorkflowTransition(ctx, string(store.WorkflowStatusCancelled))
	e.audit(ctx, p.ID, "workflow.cancel", "approval_workflow", wf.ID,
		string(wf.Status), string(store.WorkflowStatusCancelled), c, now)
	e.logger.Info("workflow cancelled", "workflow_id", wf.ID, "user_id", p.ID)
	return e.Get(ctx, id)
}

// Get returns a workflow with its steps.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return e.withSteps(ctx, wf)
}

// GetByDocument returns the workflow of a document with its steps.
func (e *Engine) GetByDocument(ctx context.Context, documentID uuid.UUID) (*Workflow, error) {
	wf, err := e.store.GetWorkflowByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("workflow for document %s: %w", documentID, err)
	}
	return e.withSteps(ctx, wf)
}

func (e *Engine) withSteps(ctx context.Context, wf *store.ApprovalWorkflow) (*Workflow, error) {
	steps, err := e.store.ListSteps(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return &Workflow{ApprovalWorkflow: *wf, Steps: steps}, nil
}

// actionable loads a step and checks that p may decide it now.
func (e *Engine) actionable(ctx context.Context, stepID uuid.UUID, p auth.Principal) (*store.ApprovalWorkflow, *store.ApprovalStep, error) {
	step, err := e.store.GetStep(ctx, stepID)
	if err != nil {
		return nil, nil, fmt.Errorf("step %s: %w", stepID, err)
	}
	wf, err := e.store.GetWorkflow(ctx, step.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow %s: %w", step.WorkflowID, err)
	}
	if wf.Status != store.WorkflowStatusActive {
		return nil, nil, ErrInactiveWorkflow
	}
	if !auth.CanAct(p, step.Binding) {
		return nil, nil, fmt.Errorf("act on step %s: %w", stepID, errs.ErrForbidden)
	}
	if step.Status != store.StepStatusPending {
		return nil, nil, ErrStepDecided
	}
	if wf.Type == store.WorkflowSequential && step.StepNumber != wf.CurrentStep {
		return nil, nil, ErrNotCurrentStep
	}
	return wf, step, nil
}

func (e *Engine) decide(ctx context.Context, step *store.ApprovalStep) error {
	ok, err := e.store.DecideStep(ctx, step)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	if ok {
		return nil
	}
	if wf, err := e.store.GetWorkflow(ctx, step.WorkflowID); err == nil && wf.Status != store.WorkflowStatusActive {
		return ErrInactiveWorkflow
	}
	return ErrStepDecided
}

// settle evaluates the workflow after a decision on step and applies the result.
func (e *Engine) settle(ctx context.Context, wf *store.ApprovalWorkflow, step *store.ApprovalStep, actor uuid.UUID, now time.Time) (*Workflow, error) {
	steps, err := e.store.ListSteps(ctx, wf.ID)
	if err != nil {
		return e.partial(ctx, wf, step, fmt.Errorf("list steps: %w", err))
	}

	outcome, changed := Evaluate(*wf, steps, now)
	if !changed {
		return &Workflow{ApprovalWorkflow: *wf, Steps: steps}, nil
	}
	outcome.From = []store.WorkflowStatus{store.WorkflowStatusActive}

	applied, err := e.store.ApplyOutcome(ctx, outcome)
	if err != nil {
		return e.partial(ctx, wf, step, fmt.Errorf("apply outcome: %w", err))
	}
	if !applied {
		// Another decision or a cancel settled the workflow first.
		e.logger.Info("workflow outcome superseded", "workflow_id", wf.ID, "step_id", step.ID, "outcome", outcome.Status)
		return e.Get(ctx, wf.ID)
	}

	if outcome.Status != wf.Status {
		e.metrics.WorkflowTransition(ctx, string(outcome.Status))
		action := "workflow.complete"
		if outcome.Status == store.WorkflowStatusCancelled {
			action = "workflow.cancel"
		}
		e.audit(ctx, actor, action, "approval_workflow", wf.ID, string(wf.Status), string(outcome.Status), nil, now)
		e.logger.Info("workflow closed", "workflow_id", wf.ID, "status", outcome.Status)
	}

	return e.Get(ctx, wf.ID)
}

func (e *Engine) partial(ctx context.Context, wf *store.ApprovalWorkflow, step *store.ApprovalStep, err error) (*Workflow, error) {
	e.logger.Error("step decision stored but workflow not updated",
		"workflow_id", wf.ID, "step_id", step.ID, "error", err)
	oe := &OutcomeError{WorkflowID: wf.ID, StepID: step.ID, Err: err}
	current, getErr := e.Get(ctx, wf.ID)
	if getErr != nil {
		return nil, oe
	}
	return current, oe
}

// authorizeOwner allows the workflow creator, the document author and admins.
func (e *Engine) authorizeOwner(ctx context.Context, wf *store.ApprovalWorkflow, p auth.Principal) error {
	if p.CanOverride() || p.ID == wf.CreatedBy {
		return nil
	}
	doc, err := e.store.GetDocument(ctx, wf.DocumentID)
	if err != nil {
		return fmt.Errorf("document %s: %w", wf.DocumentID, err)
	}
	if p.ID == doc.AuthorID {
		return nil
	}
	return fmt.Errorf("workflow %s: %w", wf.ID, errs.ErrForbidden)
}

func (e *Engine) audit(ctx context.Context, actor uuid.UUID, action, entityType string, id uuid.UUID, from, to string, comment *string, at time.Time) {
	entry := &store.AuditEntry{
		ID:         uuid.New(),
		ActorID:    &actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   id,
		Comment:    comment,
		CreatedAt:  at,
	}
	if from != "" {
		entry.FromStatus = &from
	}
	if to != "" {
		entry.ToStatus = &to
	}
	if err := e.store.RecordAudit(ctx, entry); err != nil {
		e.logger.Warn("failed to record audit", "action", action, "entity_id", id, "error", err)
	}
}
