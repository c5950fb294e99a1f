package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"docflow/internal/auth"
	"docflow/internal/errs"
	"docflow/internal/notify"
	"docflow/internal/store"
	"docflow/internal/store/memory"

	"github.com/google/uuid"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fixture struct {
	st      *memory.Store
	engine  *Engine
	sender  *recordingSender
	now     time.Time
	author  store.User
	manager store.User
	admin   store.User
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		st:     memory.New(),
		sender: &recordingSender{},
		now:    time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}

	f.author = f.addUser(t, "author@docflow.local", store.RoleUser, "legal", 0)
	f.manager = f.addUser(t, "manager@docflow.local", store.RoleManager, "legal", 1)
	f.admin = f.addUser(t, "admin@docflow.local", store.RoleAdmin, "", 2)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(f.st, cfg, WithSender(f.sender), WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	f.engine = engine
	return f
}

func (f *fixture) addUser(t *testing.T, email string, role store.Role, dept string, order int) store.User {
	t.Helper()
	u := store.User{
		ID:         uuid.New(),
		Email:      email,
		Name:       email,
		Role:       role,
		Department: dept,
		CreatedAt:  f.now.Add(time.Duration(order) * time.Minute),
	}
	if err := f.st.CreateUser(context.Background(), &u, uuid.NewString()); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) addDocument(t *testing.T, exp *time.Time) store.Document {
	t.Helper()
	d := store.Document{
		ID:             uuid.New(),
		Title:          "Supplier agreement",
		Status:         store.DocumentStatusApproved,
		AuthorID:       f.author.ID,
		Department:     "legal",
		ExpirationDate: exp,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	if err := f.st.CreateDocument(context.Background(), &d); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return d
}

func (f *fixture) sweep(t *testing.T) *store.SweepSummary {
	t.Helper()
	summary, err := f.engine.Sweep(context.Background(), f.now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	return summary
}

func (f *fixture) alerts(t *testing.T, docID uuid.UUID) []store.DocumentAlert {
	t.Helper()
	alerts, err := f.st.ListAlerts(context.Background(), docID)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	return alerts
}

func ptr[T any](v T) *T { return &v }

func TestSweep_NoExpirationDateProducesNoAlert(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, nil)

	summary := f.sweep(t)
	if summary.AlertsCreated != 0 {
		t.Errorf("alerts created = %d, want 0", summary.AlertsCreated)
	}
	if got := f.alerts(t, doc.ID); len(got) != 0 {
		t.Errorf("got %d alerts, want 0", len(got))
	}
}

func TestSweep_CreatesOneAlertPerLevel(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(5*24*time.Hour)))

	summary := f.sweep(t)
	if summary.Processed != 1 || summary.AlertsCreated != 1 {
		t.Fatalf("summary = %+v, want 1 processed and 1 created", summary)
	}

	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 1 || alerts[0].Level != 3 || alerts[0].Status != store.AlertStatusSent {
		t.Fatalf("alerts = %+v, want one sent alert at level 3", alerts)
	}

	notes := f.st.Notifications(f.author.ID)
	if len(notes) != 1 || notes[0].Type != store.NotificationExpiration {
		t.Fatalf("author notifications = %+v, want one expiration notification", notes)
	}

	deliveries := f.st.AlertNotifications(alerts[0].ID)
	if len(deliveries) != 1 || !deliveries[0].EmailSent {
		t.Errorf("deliveries = %+v, want one with email sent", deliveries)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].To != f.author.Email {
		t.Errorf("emails = %+v, want one to the author", f.sender.sent)
	}

	summary = f.sweep(t)
	if summary.AlertsCreated != 0 || summary.Escalations != 0 {
		t.Errorf("second sweep summary = %+v, want no changes", summary)
	}
	if got := f.alerts(t, doc.ID); len(got) != 1 {
		t.Errorf("got %d alerts after second sweep, want 1", len(got))
	}
	if got := f.st.Notifications(f.author.ID); len(got) != 1 {
		t.Errorf("got %d notifications after second sweep, want 1", len(got))
	}
}

func TestSweep_ExpiringTodayReachesLevelFiveOnce(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now))

	f.sweep(t)
	f.sweep(t)

	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 1 || alerts[0].Level != MaxLevel {
		t.Fatalf("alerts = %+v, want exactly one level 5 alert", alerts)
	}
}

func TestSweep_ExpiresPastDocuments(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(-time.Hour)))
	cancelled := f.addDocument(t, ptr(f.now.Add(-time.Hour)))
	_, _ = f.st.TransitionDocumentStatus(context.Background(), cancelled.ID, store.DocumentStatusCanceled, nil, f.now)

	summary := f.sweep(t)
	if summary.Expired != 1 {
		t.Errorf("expired = %d, want 1", summary.Expired)
	}

	got, _ := f.st.GetDocument(context.Background(), doc.ID)
	if got.Status != store.DocumentStatusExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
	got, _ = f.st.GetDocument(context.Background(), cancelled.ID)
	if got.Status != store.DocumentStatusCanceled {
		t.Errorf("cancelled document moved to %s", got.Status)
	}

	summary = f.sweep(t)
	if summary.Expired != 0 {
		t.Errorf("second sweep expired = %d, want 0", summary.Expired)
	}
}

func TestSweep_LevelIsMonotonic(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(5*24*time.Hour)))
	f.sweep(t)

	// Renewal pushes the document back into the level 2 bracket.
	f.st.SetDocumentExpiration(doc.ID, ptr(f.now.Add(12*24*time.Hour)))
	summary := f.sweep(t)
	if summary.AlertsCreated != 0 {
		t.Errorf("alerts created = %d, want 0", summary.AlertsCreated)
	}

	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 1 || alerts[0].Level != 3 {
		t.Errorf("alerts = %+v, want the level 3 alert untouched", alerts)
	}
}

func TestSweep_SkippedLevelsJumpStraightToTarget(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(20*24*time.Hour)))
	f.sweep(t)

	f.now = f.now.Add(19*24*time.Hour + 12*time.Hour)
	f.sweep(t)

	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 2 || alerts[0].Level != 1 || alerts[1].Level != 4 {
		t.Errorf("alerts = %+v, want levels 1 and 4", alerts)
	}
}

func TestSweep_EscalatesOverdueAlert(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.EscalationInterval = 72 * time.Hour })
	doc := f.addDocument(t, ptr(f.now.Add(-5*24*time.Hour)))

	old := &store.DocumentAlert{ID: uuid.New(), DocumentID: doc.ID, Level: 1, Status: store.AlertStatusSent, SentAt: f.now.Add(-4 * 24 * time.Hour)}
	if err := f.st.CreateAlert(context.Background(), old); err != nil {
		t.Fatalf("seed alert: %v", err)
	}

	summary := f.sweep(t)
	if summary.Escalations != 1 || summary.AlertsCreated != 0 {
		t.Fatalf("summary = %+v, want one escalation and no new alert", summary)
	}

	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Level != 2 || a.Status != store.AlertStatusEscalated {
		t.Errorf("alert = level %d status %s, want level 2 escalated", a.Level, a.Status)
	}
	if a.EscalatedTo == nil || *a.EscalatedTo != f.manager.ID {
		t.Errorf("escalated to %v, want department manager %v", a.EscalatedTo, f.manager.ID)
	}
	if got := f.st.Notifications(f.manager.ID); len(got) != 1 || got[0].Type != store.NotificationEscalation {
		t.Errorf("manager notifications = %+v, want one escalation", got)
	}
	if got := f.st.AlertNotifications(a.ID); len(got) != 1 || got[0].UserID != f.manager.ID {
		t.Errorf("deliveries = %+v, want one to the manager", got)
	}

	// Escalation waits a full interval after the previous one.
	f.now = f.now.Add(time.Hour)
	if summary := f.sweep(t); summary.Escalations != 0 {
		t.Errorf("escalated again after an hour: %+v", summary)
	}

	f.now = f.now.Add(72 * time.Hour)
	if summary := f.sweep(t); summary.Escalations != 1 {
		t.Fatalf("summary = %+v, want a second escalation", summary)
	}
	a = f.alerts(t, doc.ID)[0]
	if a.Level != 3 || a.EscalatedTo == nil || *a.EscalatedTo != f.admin.ID {
		t.Errorf("alert = level %d to %v, want level 3 to admin", a.Level, a.EscalatedTo)
	}
}

func TestSweep_EscalationStopsAtMaxLevel(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxEscalationLevel = 2 })
	doc := f.addDocument(t, ptr(f.now.Add(-10*24*time.Hour)))
	_ = f.st.CreateAlert(context.Background(), &store.DocumentAlert{
		ID: uuid.New(), DocumentID: doc.ID, Level: 2, Status: store.AlertStatusSent, SentAt: f.now.Add(-9 * 24 * time.Hour),
	})

	if summary := f.sweep(t); summary.Escalations != 0 {
		t.Errorf("summary = %+v, want no escalation at max level", summary)
	}
}

func TestSweep_AcknowledgedAlertIsNotEscalated(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(-10*24*time.Hour)))
	alert := &store.DocumentAlert{ID: uuid.New(), DocumentID: doc.ID, Level: 1, Status: store.AlertStatusSent, SentAt: f.now.Add(-9 * 24 * time.Hour)}
	_ = f.st.CreateAlert(context.Background(), alert)
	_, _ = f.st.AcknowledgeAlert(context.Background(), alert.ID, f.author.ID, f.now)

	summary := f.sweep(t)
	if summary.Escalations != 0 {
		t.Errorf("escalations = %d, want 0", summary.Escalations)
	}
	// With every earlier alert acknowledged, the expired level is opened.
	alerts := f.alerts(t, doc.ID)
	if len(alerts) != 2 || alerts[1].Level != MaxLevel {
		t.Errorf("alerts = %+v, want a new level 5 alert", alerts)
	}
}

func TestSweep_NoEscalationTargetIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.policy = func(store.DocumentAlert) Chain { return Chain{} }
	doc := f.addDocument(t, ptr(f.now.Add(-10*24*time.Hour)))
	_ = f.st.CreateAlert(context.Background(), &store.DocumentAlert{
		ID: uuid.New(), DocumentID: doc.ID, Level: 1, Status: store.AlertStatusSent, SentAt: f.now.Add(-9 * 24 * time.Hour),
	})

	summary := f.sweep(t)
	if summary.Escalations != 0 || len(summary.Errors) != 0 {
		t.Errorf("summary = %+v, want no escalation and no error", summary)
	}
}

func TestSweep_EmailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.sender.err = errors.New("smtp unavailable")
	doc := f.addDocument(t, ptr(f.now.Add(2*24*time.Hour)))

	summary := f.sweep(t)
	if summary.AlertsCreated != 1 || len(summary.Errors) != 0 {
		t.Fatalf("summary = %+v, want alert created without errors", summary)
	}

	alerts := f.alerts(t, doc.ID)
	deliveries := f.st.AlertNotifications(alerts[0].ID)
	if len(deliveries) != 1 || deliveries[0].EmailSent {
		t.Errorf("deliveries = %+v, want one unsent", deliveries)
	}
	if got := f.st.Notifications(f.author.ID); len(got) != 1 {
		t.Errorf("in-app notification missing")
	}
}

type failingAlertStore struct {
	*memory.Store
	failFor uuid.UUID
}

func (s *failingAlertStore) CreateAlert(ctx context.Context, a *store.DocumentAlert) error {
	if a.DocumentID == s.failFor {
		return fmt.Errorf("insert alert: connection reset")
	}
	return s.Store.CreateAlert(ctx, a)
}

func TestSweep_DocumentErrorDoesNotAbortSweep(t *testing.T) {
	f := newFixture(t, nil)
	bad := f.addDocument(t, ptr(f.now.Add(3*24*time.Hour)))
	good := f.addDocument(t, ptr(f.now.Add(3*24*time.Hour)))

	engine, err := NewEngine(&failingAlertStore{Store: f.st, failFor: bad.ID}, DefaultConfig(),
		WithSender(f.sender), WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	summary, err := engine.Sweep(context.Background(), f.now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if summary.Processed != 2 || summary.AlertsCreated != 1 || len(summary.Errors) != 1 {
		t.Errorf("summary = %+v, want 2 processed, 1 created, 1 error", summary)
	}
	if got := f.alerts(t, good.ID); len(got) != 1 {
		t.Errorf("good document has %d alerts, want 1", len(got))
	}
}

type failingNotificationStore struct {
	*memory.Store
}

func (failingNotificationStore) CreateNotification(context.Context, *store.Notification) error {
	return errors.New("insert notification: connection reset")
}

func TestSweep_DeliveryErrorStillCountsCreatedAlert(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(3*24*time.Hour)))

	engine, err := NewEngine(failingNotificationStore{f.st}, DefaultConfig(),
		WithSender(f.sender), WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	summary, err := engine.Sweep(context.Background(), f.now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if summary.AlertsCreated != 1 || len(summary.Errors) != 1 {
		t.Errorf("summary = %+v, want 1 created and 1 error", summary)
	}
	if got := f.alerts(t, doc.ID); len(got) != 1 {
		t.Errorf("document has %d alerts, want 1", len(got))
	}
}

func TestSweep_ConcurrentSweepsNeverDuplicateLevels(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Concurrency = 8 })
	var docs []store.Document
	for i := 0; i < 20; i++ {
		docs = append(docs, f.addDocument(t, ptr(f.now.Add(time.Duration(i)*24*time.Hour))))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Sweep(context.Background(), f.now)
		}()
	}
	wg.Wait()

	for _, d := range docs {
		seen := map[int]bool{}
		for _, a := range f.alerts(t, d.ID) {
			if seen[a.Level] {
				t.Fatalf("document %s has two alerts at level %d", d.ID, a.Level)
			}
			seen[a.Level] = true
		}
		if len(seen) != 1 {
			t.Errorf("document %s has %d alerts, want 1", d.ID, len(seen))
		}
	}
}

func TestAcknowledge(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.addDocument(t, ptr(f.now.Add(24*time.Hour)))
	f.sweep(t)
	alert := f.alerts(t, doc.ID)[0]
	ctx := context.Background()

	stranger := auth.Principal{ID: uuid.New(), Role: store.RoleUser, Department: "legal"}
	if _, err := f.engine.Acknowledge(ctx, alert.ID, stranger); !errors.Is(err, errs.ErrForbidden) {
		t.Errorf("stranger got %v, want forbidden", err)
	}

	if _, err := f.engine.Acknowledge(ctx, uuid.New(), auth.FromUser(&f.author)); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("unknown alert got %v, want not found", err)
	}

	got, err := f.engine.Acknowledge(ctx, alert.ID, auth.FromUser(&f.author))
	if err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if got.Status != store.AlertStatusAcknowledged || got.AcknowledgedBy == nil || *got.AcknowledgedBy != f.author.ID {
		t.Errorf("alert = %+v, want acknowledged by author", got)
	}

	if _, err := f.engine.Acknowledge(ctx, alert.ID, auth.FromUser(&f.admin)); err != nil {
		t.Errorf("second acknowledge should be a no-op, got %v", err)
	}

	var acks int
	for _, e := range f.st.AuditEntries() {
		if e.Action == "alert.acknowledge" {
			acks++
		}
	}
	if acks != 1 {
		t.Errorf("recorded %d acknowledge audits, want 1", acks)
	}
}

func TestExpiring(t *testing.T) {
	f := newFixture(t, nil)
	soon := f.addDocument(t, ptr(f.now.Add(3*24*time.Hour)))
	f.addDocument(t, ptr(f.now.Add(20*24*time.Hour)))
	past := f.addDocument(t, ptr(f.now.Add(-2*24*time.Hour)))
	f.sweep(t)
	ctx := context.Background()

	items, err := f.engine.Expiring(ctx, ExpiringQuery{Days: 7})
	if err != nil {
		t.Fatalf("Expiring failed: %v", err)
	}
	if len(items) != 1 || items[0].Document.ID != soon.ID {
		t.Fatalf("items = %+v, want only the document expiring in 3 days", items)
	}
	if items[0].DaysRemaining != 3 || items[0].LatestAlert == nil || items[0].LatestAlert.Level != 3 {
		t.Errorf("item = %+v, want 3 days remaining with a level 3 alert", items[0])
	}

	items, err = f.engine.Expiring(ctx, ExpiringQuery{Days: 7, IncludeExpired: true})
	if err != nil {
		t.Fatalf("Expiring failed: %v", err)
	}
	if len(items) != 2 || items[0].Document.ID != past.ID {
		t.Fatalf("items = %+v, want the expired document first", items)
	}

	if _, err := f.engine.Acknowledge(ctx, items[1].LatestAlert.ID, auth.FromUser(&f.author)); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	items, err = f.engine.Expiring(ctx, ExpiringQuery{Days: 7, IncludeExpired: true, Acknowledged: ptr(false)})
	if err != nil {
		t.Fatalf("Expiring failed: %v", err)
	}
	if len(items) != 1 || items[0].Document.ID != past.ID {
		t.Errorf("items = %+v, want only the unacknowledged expired document", items)
	}

	if _, err := f.engine.Expiring(ctx, ExpiringQuery{Days: -1}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("negative days got %v, want validation error", err)
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEscalationLevel = 9
	if _, err := NewEngine(memory.New(), cfg); err == nil {
		t.Error("expected error for max escalation level above 5")
	}
}

func TestHandle_ReturnsSweepResult(t *testing.T) {
	f := newFixture(t, nil)
	f.addDocument(t, ptr(f.now.Add(10*24*time.Hour)))

	res, err := f.engine.Handle(context.Background(), store.ScheduledTask{Name: "document-expiration-check"})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if res.Sweep == nil || res.Sweep.AlertsCreated != 1 {
		t.Errorf("result = %+v, want a sweep summary with one alert", res)
	}
}
