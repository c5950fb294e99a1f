package workflow

import (
	"time"

	"docflow/internal/store"
)

// Evaluate computes the workflow state implied by its steps. It reports false
// when nothing changes.
//
// Any rejected step cancels the workflow. ANY completes on the first approval,
// SEQUENTIAL and PARALLEL complete when every step is approved. A SEQUENTIAL
// workflow otherwise moves to its lowest pending step.
func Evaluate(wf store.ApprovalWorkflow, steps []store.ApprovalStep, now time.Time) (store.WorkflowOutcome, bool) {
	outcome := store.WorkflowOutcome{
		WorkflowID:  wf.ID,
		Status:      wf.Status,
		CurrentStep: wf.CurrentStep,
		DocumentID:  wf.DocumentID,
		At:          now,
	}

	approved, rejected := 0, 0
	nextPending := 0
	for _, s := range steps {
		switch s.Status {
		case store.StepStatusApproved:
			approved++
		case store.StepStatusRejected:
			rejected++
		case store.StepStatusPending:
			if nextPending == 0 || s.StepNumber < nextPending {
				nextPending = s.StepNumber
			}
		}
	}

	switch {
	case rejected > 0:
		draft := store.DocumentStatusDraft
		outcome.Status = store.WorkflowStatusCancelled
		outcome.SkipPending = true
		outcome.DocumentStatus = &draft
		return outcome, true

	case approved == len(steps) || (wf.Type == store.WorkflowAny && approved > 0):
		approvedDoc := store.DocumentStatusApproved
		outcome.Status = store.WorkflowStatusCompleted
		outcome.SkipPending = true
		outcome.DocumentStatus = &approvedDoc
		return outcome, true

	case wf.Type == store.WorkflowSequential && nextPending != 0 && nextPending != wf.CurrentStep:
		outcome.CurrentStep = nextPending
		return outcome, true
	}

	return outcome, false
}
