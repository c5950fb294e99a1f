// Package memory implements the store interfaces in process memory.
// It backs the engine tests and the mem:// development mode; every
// conditional write is performed under a single mutex so the compare-and-set
// semantics match the PostgreSQL store.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.Mutex

	users     map[uuid.UUID]store.User
	userKeys  map[string]uuid.UUID
	documents map[uuid.UUID]store.Document

	tasks      map[uuid.UUID]store.ScheduledTask
	executions map[uuid.UUID]store.TaskExecution

	alerts             map[uuid.UUID]store.DocumentAlert
	alertNotifications map[uuid.UUID]store.DocumentAlertNotification
	notifications      map[uuid.UUID]store.Notification

	workflows map[uuid.UUID]store.ApprovalWorkflow
	steps     map[uuid.UUID]store.ApprovalStep

	locks map[uuid.UUID]store.DocumentLock
	audit []store.AuditEntry
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:              make(map[uuid.UUID]store.User),
		userKeys:           make(map[string]uuid.UUID),
		documents:          make(map[uuid.UUID]store.Document),
		tasks:              make(map[uuid.UUID]store.ScheduledTask),
		executions:         make(map[uuid.UUID]store.TaskExecution),
		alerts:             make(map[uuid.UUID]store.DocumentAlert),
		alertNotifications: make(map[uuid.UUID]store.DocumentAlertNotification),
		notifications:      make(map[uuid.UUID]store.Notification),
		workflows:          make(map[uuid.UUID]store.ApprovalWorkflow),
		steps:              make(map[uuid.UUID]store.ApprovalStep),
		locks:              make(map[uuid.UUID]store.DocumentLock),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userKeys[hashedKey]; ok {
		return store.ErrDuplicate
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return store.ErrDuplicate
		}
	}
	s.users[user.ID] = *user
	s.userKeys[hashedKey] = user.ID
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.userKeys[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) ListUsersByRole(ctx context.Context, role store.Role, department string) ([]store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.User
	for _, u := range s.users {
		if u.Role != role {
			continue
		}
		if department != "" && u.Department != department {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- Documents ---

func (s *Store) CreateDocument(ctx context.Context, doc *store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.ID]; ok {
		return store.ErrDuplicate
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (s *Store) ListSweepableDocuments(ctx context.Context) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Document
	for _, d := range s.documents {
		if d.ExpirationDate == nil {
			continue
		}
		if d.Status == store.DocumentStatusCanceled || d.Status == store.DocumentStatusArchived {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpirationDate.Before(*out[j].ExpirationDate) })
	return out, nil
}

func (s *Store) TransitionDocumentStatus(ctx context.Context, id uuid.UUID, to store.DocumentStatus, except []store.DocumentStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.documents[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if slices.Contains(except, d.Status) {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = at
	s.documents[id] = d
	return true, nil
}

// SetDocumentExpiration replaces the expiration date of a document.
func (s *Store) SetDocumentExpiration(id uuid.UUID, exp *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.documents[id]
	d.ExpirationDate = exp
	s.documents[id] = d
}

// --- Tasks ---

func (s *Store) CreateTaskIfAbsent(ctx context.Context, task *store.ScheduledTask) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Name == task.Name {
			return false, nil
		}
	}
	s.tasks[task.ID] = *task
	return true, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time) ([]store.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ScheduledTask
	for _, t := range s.tasks {
		if t.Enabled && t.Status != store.TaskStatusRunning && !t.NextRunAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (s *Store) ClaimTask(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if !t.Enabled || t.Status == store.TaskStatusRunning {
		return false, nil
	}
	t.Status = store.TaskStatusRunning
	t.RunningSince = &at
	t.UpdatedAt = at
	s.tasks[id] = t
	return true, nil
}

func (s *Store) FinishTask(ctx context.Context, id uuid.UUID, outcome store.TaskRunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	runAt := outcome.RunAt
	dur := outcome.Duration
	t.Status = outcome.Status
	t.LastRunAt = &runAt
	t.LastDuration = &dur
	t.NextRunAt = outcome.NextRunAt
	t.RunningSince = nil
	if outcome.Status == store.TaskStatusFailed {
		t.FailCount++
		t.LastError = outcome.Err
	} else {
		t.RunCount++
		t.LastError = nil
	}
	t.UpdatedAt = runAt.Add(dur)
	s.tasks[id] = t
	return nil
}

func (s *Store) SetTaskEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Enabled = enabled
	s.tasks[id] = t
	return nil
}

// SetTaskStatus overwrites a task status. It exists for tests that need a stuck task.
func (s *Store) SetTaskStatus(id uuid.UUID, status store.TaskStatus, since *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.tasks[id]
	t.Status = status
	t.RunningSince = since
	s.tasks[id] = t
}

func (s *Store) CreateExecution(ctx context.Context, exec *store.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[exec.ID] = *exec
	return nil
}

func (s *Store) CloseExecution(ctx context.Context, exec *store.TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.executions[exec.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != store.ExecutionStatusRunning {
		return store.ErrNotFound
	}
	s.executions[exec.ID] = *exec
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, taskID uuid.UUID, limit int) ([]store.TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.TaskExecution
	for _, e := range s.executions {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeExecutions(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, e := range s.executions {
		if e.Status != store.ExecutionStatusRunning && e.StartedAt.Before(before) {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}

// --- Alerts ---

func (s *Store) ListAlerts(ctx context.Context, documentID uuid.UUID) ([]store.DocumentAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.alertsFor(documentID), nil
}

func (s *Store) alertsFor(documentID uuid.UUID) []store.DocumentAlert {
	var out []store.DocumentAlert
	for _, a := range s.alerts {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*store.DocumentAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) CreateAlert(ctx context.Context, alert *store.DocumentAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.DocumentID == alert.DocumentID && a.Level == alert.Level {
			return store.ErrDuplicate
		}
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Store) EscalateAlert(ctx context.Context, id uuid.UUID, fromLevel, toLevel int, target uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.Level != fromLevel || a.Status == store.AlertStatusAcknowledged {
		return false, nil
	}
	for _, other := range s.alerts {
		if other.DocumentID == a.DocumentID && other.Level == toLevel {
			return false, store.ErrDuplicate
		}
	}
	a.Level = toLevel
	a.Status = store.AlertStatusEscalated
	a.EscalatedAt = &at
	a.EscalatedTo = &target
	s.alerts[id] = a
	return true, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.Status == store.AlertStatusAcknowledged {
		return false, nil
	}
	a.Status = store.AlertStatusAcknowledged
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = &by
	s.alerts[id] = a
	return true, nil
}

func (s *Store) CreateAlertNotification(ctx context.Context, n *store.DocumentAlertNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertNotifications[n.ID] = *n
	return nil
}

func (s *Store) MarkAlertEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.alertNotifications[id]
	if !ok {
		return store.ErrNotFound
	}
	n.EmailSent = true
	n.EmailSentAt = &at
	s.alertNotifications[id] = n
	return nil
}

// AlertNotifications returns the delivery rows of an alert, oldest first.
func (s *Store) AlertNotifications(alertID uuid.UUID) []store.DocumentAlertNotification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.DocumentAlertNotification
	for _, n := range s.alertNotifications {
		if n.AlertID == alertID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListExpiring(ctx context.Context, filter store.ExpiringFilter) ([]store.ExpiringDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := filter.Now.Add(filter.Within)
	var out []store.ExpiringDocument
	for _, d := range s.documents {
		if d.ExpirationDate == nil || d.Status == store.DocumentStatusCanceled || d.Status == store.DocumentStatusArchived {
			continue
		}
		exp := *d.ExpirationDate
		if exp.After(horizon) {
			continue
		}
		if exp.Before(filter.Now) && !filter.IncludeExpired {
			continue
		}

		row := store.ExpiringDocument{Document: d}
		if alerts := s.alertsFor(d.ID); len(alerts) > 0 {
			latest := alerts[len(alerts)-1]
			row.LatestAlert = &latest
		}
		if filter.Acknowledged != nil {
			acked := row.LatestAlert != nil && row.LatestAlert.Status == store.AlertStatusAcknowledged
			if acked != *filter.Acknowledged {
				continue
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Document.ExpirationDate.Before(*out[j].Document.ExpirationDate)
	})
	return out, nil
}

// --- Notifications ---

func (s *Store) CreateNotification(ctx context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications[n.ID] = *n
	return nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.Read = true
	n.ReadAt = &at
	s.notifications[id] = n
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]store.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Notification
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, notif := range s.notifications {
		if notif.Read && notif.CreatedAt.Before(before) {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

// --- Workflows ---

func (s *Store) CreateWorkflow(ctx context.Context, wf *store.ApprovalWorkflow, steps []store.ApprovalStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workflows {
		if w.DocumentID == wf.DocumentID {
			return store.ErrDuplicate
		}
	}
	s.workflows[wf.ID] = *wf
	for _, st := range steps {
		s.steps[st.ID] = st
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*store.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &w, nil
}

func (s *Store) GetWorkflowByDocument(ctx context.Context, documentID uuid.UUID) (*store.ApprovalWorkflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.workflows {
		if w.DocumentID == documentID {
			return &w, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]store.ApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ApprovalStep
	for _, st := range s.steps {
		if st.WorkflowID == workflowID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

func (s *Store) GetStep(ctx context.Context, id uuid.UUID) (*store.ApprovalStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) StartWorkflow(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if w.Status != store.WorkflowStatusDraft {
		return false, nil
	}
	w.Status = store.WorkflowStatusActive
	w.CurrentStep = 1
	w.StartedAt = &at
	s.workflows[id] = w

	s.setDocumentStatus(w.DocumentID, store.DocumentStatusPending, at)
	return true, nil
}

func (s *Store) DecideStep(ctx context.Context, step *store.ApprovalStep) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.steps[step.ID]
	if !ok {
		return false, store.ErrNotFound
	}
	if cur.Status != store.StepStatusPending {
		return false, nil
	}
	if w := s.workflows[cur.WorkflowID]; w.Status != store.WorkflowStatusActive {
		return false, nil
	}
	s.steps[step.ID] = *step
	return true, nil
}

func (s *Store) ApplyOutcome(ctx context.Context, outcome store.WorkflowOutcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[outcome.WorkflowID]
	if !ok {
		return false, store.ErrNotFound
	}
	if !slices.Contains(outcome.From, w.Status) {
		return false, nil
	}
	if outcome.Status == store.WorkflowStatusCompleted {
		for _, st := range s.steps {
			if st.WorkflowID == w.ID && st.Status == store.StepStatusRejected {
				return false, nil
			}
		}
	}

	w.Status = outcome.Status
	w.CurrentStep = outcome.CurrentStep
	at := outcome.At
	switch outcome.Status {
	case store.WorkflowStatusCompleted:
		w.CompletedAt = &at
	case store.WorkflowStatusCancelled:
		w.CancelledAt = &at
	}
	s.workflows[w.ID] = w

	if outcome.SkipPending {
		for id, st := range s.steps {
			if st.WorkflowID == w.ID && st.Status == store.StepStatusPending {
				st.Status = store.StepStatusSkipped
				s.steps[id] = st
			}
		}
	}

	if outcome.DocumentStatus != nil {
		s.setDocumentStatus(outcome.DocumentID, *outcome.DocumentStatus, at)
	}
	return true, nil
}

// setDocumentStatus moves an open document to status. Callers hold s.mu.
func (s *Store) setDocumentStatus(id uuid.UUID, status store.DocumentStatus, at time.Time) {
	d, ok := s.documents[id]
	if !ok || slices.Contains(store.ClosedDocumentStatuses, d.Status) {
		return
	}
	d.Status = status
	d.UpdatedAt = at
	s.documents[id] = d
}

// --- Locks ---

func (s *Store) UpsertLock(ctx context.Context, lock store.DocumentLock, now time.Time) (*store.DocumentLock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[lock.DocumentID]
	switch {
	case !ok || cur.Expired(now):
		s.locks[lock.DocumentID] = lock
		return &lock, true, nil
	case cur.UserID == lock.UserID:
		cur.ExpiresAt = lock.ExpiresAt
		cur.SessionID = lock.SessionID
		s.locks[lock.DocumentID] = cur
		return &cur, true, nil
	default:
		return &cur, false, nil
	}
}

func (s *Store) GetLock(ctx context.Context, documentID uuid.UUID) (*store.DocumentLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[documentID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *Store) DeleteLock(ctx context.Context, documentID uuid.UUID, userID *uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[documentID]
	if !ok {
		return false, nil
	}
	if userID != nil && l.UserID != *userID {
		return false, nil
	}
	delete(s.locks, documentID)
	return true, nil
}

func (s *Store) DeleteLockIfExpired(ctx context.Context, documentID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[documentID]
	if !ok || !l.Expired(now) {
		return false, nil
	}
	delete(s.locks, documentID)
	return true, nil
}

func (s *Store) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, l := range s.locks {
		if l.ExpiresAt.Before(now) {
			delete(s.locks, id)
			n++
		}
	}
	return n, nil
}

// --- Audit ---

func (s *Store) RecordAudit(ctx context.Context, entry *store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *entry)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail.
func (s *Store) AuditEntries() []store.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.audit)
}

// Notifications returns every notification addressed to userID, oldest first.
func (s *Store) Notifications(userID uuid.UUID) []store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Notification
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
