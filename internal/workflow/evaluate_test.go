package workflow

import (
	"testing"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

func steps(statuses ...store.StepStatus) []store.ApprovalStep {
	out := make([]store.ApprovalStep, len(statuses))
	for i, s := range statuses {
		out[i] = store.ApprovalStep{ID: uuid.New(), StepNumber: i + 1, Status: s}
	}
	return out
}

func TestEvaluate(t *testing.T) {
	const (
		P = store.StepStatusPending
		A = store.StepStatusApproved
		R = store.StepStatusRejected
	)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		wfType      store.WorkflowType
		current     int
		steps       []store.ApprovalStep
		wantChanged bool
		wantStatus  store.WorkflowStatus
		wantCurrent int
		wantDoc     store.DocumentStatus
		wantSkip    bool
	}{
		{
			name: "sequential advances to next pending step", wfType: store.WorkflowSequential, current: 1,
			steps: steps(A, P, P), wantChanged: true, wantStatus: store.WorkflowStatusActive, wantCurrent: 2,
		},
		{
			name: "sequential completes when all approved", wfType: store.WorkflowSequential, current: 3,
			steps: steps(A, A, A), wantChanged: true, wantStatus: store.WorkflowStatusCompleted, wantCurrent: 3,
			wantDoc: store.DocumentStatusApproved, wantSkip: true,
		},
		{
			name: "rejection cancels regardless of approvals", wfType: store.WorkflowSequential, current: 3,
			steps: steps(A, A, R), wantChanged: true, wantStatus: store.WorkflowStatusCancelled, wantCurrent: 3,
			wantDoc: store.DocumentStatusDraft, wantSkip: true,
		},
		{
			name: "parallel waits for remaining approvals", wfType: store.WorkflowParallel, current: 1,
			steps: steps(P, A, P), wantChanged: false, wantStatus: store.WorkflowStatusActive, wantCurrent: 1,
		},
		{
			name: "parallel completes when all approved", wfType: store.WorkflowParallel, current: 1,
			steps: steps(A, A), wantChanged: true, wantStatus: store.WorkflowStatusCompleted, wantCurrent: 1,
			wantDoc: store.DocumentStatusApproved, wantSkip: true,
		},
		{
			name: "any completes on first approval", wfType: store.WorkflowAny, current: 1,
			steps: steps(P, A, P), wantChanged: true, wantStatus: store.WorkflowStatusCompleted, wantCurrent: 1,
			wantDoc: store.DocumentStatusApproved, wantSkip: true,
		},
		{
			name: "any with a rejection is cancelled", wfType: store.WorkflowAny, current: 1,
			steps: steps(R, P), wantChanged: true, wantStatus: store.WorkflowStatusCancelled, wantCurrent: 1,
			wantDoc: store.DocumentStatusDraft, wantSkip: true,
		},
		{
			name: "nothing decided is unchanged", wfType: store.WorkflowSequential, current: 1,
			steps: steps(P, P), wantChanged: false, wantStatus: store.WorkflowStatusActive, wantCurrent: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := store.ApprovalWorkflow{
				ID:          uuid.New(),
				DocumentID:  uuid.New(),
				Type:        tt.wfType,
				Status:      store.WorkflowStatusActive,
				CurrentStep: tt.current,
				TotalSteps:  len(tt.steps),
			}

			got, changed := Evaluate(wf, tt.steps, now)
			if changed != tt.wantChanged {
				t.Fatalf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.CurrentStep != tt.wantCurrent {
				t.Errorf("current step = %d, want %d", got.CurrentStep, tt.wantCurrent)
			}
			if got.SkipPending != tt.wantSkip {
				t.Errorf("skip pending = %v, want %v", got.SkipPending, tt.wantSkip)
			}
			switch {
			case tt.wantDoc == "" && got.DocumentStatus != nil:
				t.Errorf("document status = %s, want unchanged", *got.DocumentStatus)
			case tt.wantDoc != "" && (got.DocumentStatus == nil || *got.DocumentStatus != tt.wantDoc):
				t.Errorf("document status = %v, want %s", got.DocumentStatus, tt.wantDoc)
			}
			if got.WorkflowID != wf.ID || got.DocumentID != wf.DocumentID || !got.At.Equal(now) {
				t.Errorf("outcome identity not carried over: %+v", got)
			}
		})
	}
}
