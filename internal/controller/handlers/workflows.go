package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"docflow/internal/store"
	"docflow/internal/workflow"
	"docflow/pkg/api"

	"github.com/google/uuid"
)

// GetWorkflow handles GET /documents/{id}/workflow.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.principal(w, r); !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}

	wf, err := h.workflows.GetByDocument(r.Context(), docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toWorkflowResponse(wf))
}

// CreateWorkflow handles POST /documents/{id}/workflow.
func (h *Handlers) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}

	var req api.CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	steps := make([]store.StepBinding, 0, len(req.Steps))
	for i, s := range req.Steps {
		b, err := toStepBinding(s)
		if err != nil {
			h.httpError(w, fmt.Sprintf("step %d: %v", i+1, err), http.StatusBadRequest)
			return
		}
		steps = append(steps, b)
	}

	wf, err := h.workflows.Create(r.Context(), workflow.CreateRequest{
		DocumentID: docID,
		Type:       store.WorkflowType(req.Type),
		Steps:      steps,
	}, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toWorkflowResponse(wf))
}

// WorkflowAction handles PUT /documents/{id}/workflow with action start,
// approve, reject or cancel.
func (h *Handlers) WorkflowAction(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	docID, ok := h.pathID(w, r, "id", "document")
	if !ok {
		return
	}

	var req api.WorkflowActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	current, err := h.workflows.GetByDocument(ctx, docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var wf *workflow.Workflow
	switch req.Action {
	case api.WorkflowActionStart:
		wf, err = h.workflows.Start(ctx, current.ID, p)

	case api.WorkflowActionApprove, api.WorkflowActionReject:
		stepID, perr := uuid.Parse(req.StepID)
		if perr != nil {
			h.httpError(w, "Invalid step id", http.StatusBadRequest)
			return
		}
		if !hasStep(current, stepID) {
			h.httpError(w, "Step does not belong to this document's workflow", http.StatusNotFound)
			return
		}
		if req.Action == api.WorkflowActionApprove {
			wf, err = h.workflows.Approve(ctx, stepID, p, req.Comments)
		} else {
			wf, err = h.workflows.Reject(ctx, stepID, p, req.RejectionReason)
		}

	case api.WorkflowActionCancel:
		wf, err = h.workflows.Cancel(ctx, current.ID, p, req.Reason)

	default:
		h.httpError(w, "Unknown action: "+req.Action, http.StatusBadRequest)
		return
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toWorkflowResponse(wf))
}

func hasStep(wf *workflow.Workflow, stepID uuid.UUID) bool {
	for _, s := range wf.Steps {
		if s.ID == stepID {
			return true
		}
	}
	return false
}

func toStepBinding(b api.StepBinding) (store.StepBinding, error) {
	var out store.StepBinding
	if b.UserID != nil {
		id, err := uuid.Parse(*b.UserID)
		if err != nil {
			return out, fmt.Errorf("invalid user id")
		}
		out.UserID = &id
	}
	if b.Role != nil {
		role := store.Role(*b.Role)
		out.RoleID = &role
	}
	if b.Department != nil {
		dept := *b.Department
		out.DepartmentID = &dept
	}
	return out, nil
}

func fromStepBinding(b store.StepBinding) api.StepBinding {
	out := api.StepBinding{UserID: idString(b.UserID), Department: b.DepartmentID}
	if b.RoleID != nil {
		role := string(*b.RoleID)
		out.Role = &role
	}
	return out
}

func toWorkflowResponse(wf *workflow.Workflow) api.WorkflowResponse {
	resp := api.WorkflowResponse{
		ID:          wf.ID.String(),
		DocumentID:  wf.DocumentID.String(),
		Type:        string(wf.Type),
		Status:      string(wf.Status),
		CurrentStep: wf.CurrentStep,
		TotalSteps:  wf.TotalSteps,
		CreatedBy:   wf.CreatedBy.String(),
		CreatedAt:   wf.CreatedAt,
		StartedAt:   wf.StartedAt,
		CompletedAt: wf.CompletedAt,
		CancelledAt: wf.CancelledAt,
		Steps:       make([]api.StepResponse, 0, len(wf.Steps)),
	}
	for _, s := range wf.Steps {
		resp.Steps = append(resp.Steps, api.StepResponse{
			ID:              s.ID.String(),
			StepNumber:      s.StepNumber,
			Binding:         fromStepBinding(s.Binding),
			Status:          string(s.Status),
			ActedBy:         idString(s.ActedBy),
			ApprovedAt:      s.ApprovedAt,
			RejectedAt:      s.RejectedAt,
			Comments:        s.Comments,
			RejectionReason: s.RejectionReason,
		})
	}
	return resp
}
