package postgres

import (
	"context"
	"slices"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

const workflowColumns = `id, document_id, type, status, current_step, total_steps, created_by,
	created_at, started_at, completed_at, cancelled_at`

const stepColumns = `id, workflow_id, step_number, user_id, role_id, department_id, status,
	acted_by, approved_at, rejected_at, comments, rejection_reason`

func scanWorkflow(row interface{ Scan(...any) error }) (*store.ApprovalWorkflow, error) {
	var w store.ApprovalWorkflow
	err := row.Scan(&w.ID, &w.DocumentID, &w.Type, &w.Status, &w.CurrentStep, &w.TotalSteps,
		&w.CreatedBy, &w.CreatedAt, &w.StartedAt, &w.CompletedAt, &w.CancelledAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &w, nil
}

func scanStep(row interface{ Scan(...any) error }) (*store.ApprovalStep, error) {
	var st store.ApprovalStep
	err := row.Scan(&st.ID, &st.WorkflowID, &st.StepNumber,
		&st.Binding.UserID, &st.Binding.RoleID, &st.Binding.DepartmentID,
		&st.Status, &st.ActedBy, &st.ApprovedAt, &st.RejectedAt, &st.Comments, &st.RejectionReason)
	if err != nil {
		return nil, mapError(err)
	}
	return &st, nil
}

// CreateWorkflow inserts the workflow and all of its steps in one transaction.
func (s *Store) CreateWorkflow(ctx context.Context, wf *store.ApprovalWorkflow, steps []store.ApprovalStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_workflows (id, document_id, type, status, current_step, total_steps, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, wf.ID, wf.DocumentID, wf.Type, wf.Status, wf.CurrentStep, wf.TotalSteps, wf.CreatedBy, wf.CreatedAt)
	if err != nil {
		return mapError(err)
	}

	for _, st := range steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_steps (id, workflow_id, step_number, user_id, role_id, department_id, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, st.ID, st.WorkflowID, st.StepNumber, st.Binding.UserID, st.Binding.RoleID, st.Binding.DepartmentID, st.Status)
		if err != nil {
			return mapError(err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*store.ApprovalWorkflow, error) {
	query := "SELECT " + workflowColumns + " FROM approval_workflows WHERE id = $1"
	return scanWorkflow(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetWorkflowByDocument(ctx context.Context, documentID uuid.UUID) (*store.ApprovalWorkflow, error) {
	query := "SELECT " + workflowColumns + " FROM approval_workflows WHERE document_id = $1"
	return scanWorkflow(s.db.QueryRowContext(ctx, query, documentID))
}

func (s *Store) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]store.ApprovalStep, error) {
	query := "SELECT " + stepColumns + " FROM approval_steps WHERE workflow_id = $1 ORDER BY step_number ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []store.ApprovalStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *st)
	}
	return steps, rows.Err()
}

func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*store.ApprovalStep, error) {
	query := "SELECT " + stepColumns + " FROM approval_steps WHERE id = $1"
	return scanStep(s.db.QueryRowContext(ctx, query, id))
}

// StartWorkflow activates a DRAFT workflow and moves its document to PENDING.
func (s *Store) StartWorkflow(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var documentID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		UPDATE approval_workflows
		SET status = $2, current_step = 1, started_at = $3
		WHERE id = $1 AND status = $4
		RETURNING document_id
	`, id, store.WorkflowStatusActive, at, store.WorkflowStatusDraft).Scan(&documentID)
	if err != nil {
		if mapError(err) == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}

	if err := setOpenDocumentStatus(ctx, tx, documentID, store.DocumentStatusPending, at); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// lockWorkflow reads the workflow status under a row lock. Step decisions and
// outcomes of one workflow are serialized on it.
func lockWorkflow(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (store.WorkflowStatus, error) {
	var status store.WorkflowStatus
	err := tx.QueryRowContext(ctx,
		"SELECT status FROM approval_workflows WHERE id = $1 FOR UPDATE", id).Scan(&status)
	return status, mapError(err)
}

// DecideStep writes a decision only onto a pending step of an ACTIVE workflow.
func (s *Store) DecideStep(ctx context.Context, step *store.ApprovalStep) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	status, err := lockWorkflow(ctx, tx, step.WorkflowID)
	if err != nil {
		return false, err
	}
	if status != store.WorkflowStatusActive {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE approval_steps
		SET status = $2, acted_by = $3, approved_at = $4, rejected_at = $5, comments = $6, rejection_reason = $7
		WHERE id = $1 AND status = $8
	`, step.ID, step.Status, step.ActedBy, step.ApprovedAt, step.RejectedAt, step.Comments, step.RejectionReason,
		store.StepStatusPending)
	if err != nil {
		return false, err
	}
	changed, err := rowsChanged(res)
	if err != nil || !changed {
		return false, err
	}
	return true, tx.Commit()
}

// ApplyOutcome writes the workflow status, skipped steps and document status
// atomically, provided the workflow is still in one of outcome.From.
func (s *Store) ApplyOutcome(ctx context.Context, outcome store.WorkflowOutcome) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	current, err := lockWorkflow(ctx, tx, outcome.WorkflowID)
	if err != nil {
		return false, err
	}
	if !slices.Contains(outcome.From, current) {
		return false, nil
	}

	if outcome.Status == store.WorkflowStatusCompleted {
		var rejected int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM approval_steps WHERE workflow_id = $1 AND status = $2",
			outcome.WorkflowID, store.StepStatusRejected).Scan(&rejected); err != nil {
			return false, err
		}
		if rejected > 0 {
			return false, nil
		}
	}

	var completedAt, cancelledAt *time.Time
	switch outcome.Status {
	case store.WorkflowStatusCompleted:
		completedAt = &outcome.At
	case store.WorkflowStatusCancelled:
		cancelledAt = &outcome.At
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE approval_workflows
		SET status = $2, current_step = $3,
			completed_at = COALESCE($4, completed_at),
			cancelled_at = COALESCE($5, cancelled_at)
		WHERE id = $1
	`, outcome.WorkflowID, outcome.Status, outcome.CurrentStep, completedAt, cancelledAt); err != nil {
		return false, err
	}

	if outcome.SkipPending {
		if _, err := tx.ExecContext(ctx,
			"UPDATE approval_steps SET status = $2 WHERE workflow_id = $1 AND status = $3",
			outcome.WorkflowID, store.StepStatusSkipped, store.StepStatusPending); err != nil {
			return false, err
		}
	}

	if outcome.DocumentStatus != nil {
		if err := setOpenDocumentStatus(ctx, tx, outcome.DocumentID, *outcome.DocumentStatus, outcome.At); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
