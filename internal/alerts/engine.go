// Package alerts turns the approach of a document's expiration date into a
// monotonic alert level, notifies once per level and escalates overdue,
// unacknowledged alerts up a responsibility chain.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docflow/internal/auth"
	"docflow/internal/errs"
	"docflow/internal/notify"
	"docflow/internal/observability"
	"docflow/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence the engine needs.
type Store interface {
	store.UserStore
	store.DocumentStore
	store.AlertStore
	store.NotificationStore
	store.AuditStore
}

// Config tunes the sweep.
type Config struct {
	Thresholds         Thresholds
	EscalationEnabled  bool
	EscalationInterval time.Duration
	MaxEscalationLevel int
	// Concurrency bounds how many documents are evaluated in parallel.
	Concurrency int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:         DefaultThresholds,
		EscalationEnabled:  true,
		EscalationInterval: 72 * time.Hour,
		MaxEscalationLevel: MaxLevel,
		Concurrency:        4,
	}
}

// Engine runs alert sweeps.
type Engine struct {
	store   Store
	cfg     Config
	sender  notify.Sender
	policy  Policy
	logger  *slog.Logger
	metrics *observability.Instruments
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithMetrics(m *observability.Instruments) Option { return func(e *Engine) { e.metrics = m } }

func WithSender(s notify.Sender) Option { return func(e *Engine) { e.sender = s } }

// WithPolicy replaces the escalation resolver policy.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(st Store, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxEscalationLevel < 1 || cfg.MaxEscalationLevel > MaxLevel {
		return nil, fmt.Errorf("max escalation level must be within 1..%d, got %d", MaxLevel, cfg.MaxEscalationLevel)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	e := &Engine{
		store:  st,
		cfg:    cfg,
		sender: notify.LogSender{},
		policy: DefaultPolicy(st),
		logger: slog.Default(),
		tracer: otel.Tracer("docflow/alerts"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// docResult is what processing one document changed.
type docResult struct {
	created   bool
	escalated bool
	expired   bool
}

// Sweep evaluates every document with an expiration date at now. Failures of
// individual documents are collected in the summary and never abort the sweep.
// Each document is handled by exactly one goroutine, and the (document, level)
// uniqueness of alerts makes a concurrent sweep unable to duplicate a level.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*store.SweepSummary, error) {
	ctx, span := e.tracer.Start(ctx, "alerts.sweep")
	defer span.End()

	docs, err := e.store.ListSweepableDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = &store.SweepSummary{Errors: []string{}}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, doc := range docs {
		g.Go(func() error {
			res, err := e.processDocument(gctx, doc, now)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if res.created {
				summary.AlertsCreated++
			}
			if res.escalated {
				summary.Escalations++
			}
			if res.expired {
				summary.Expired++
			}
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("document %s: %v", doc.ID, err))
				e.metrics.SweepError(gctx)
				e.logger.Error("sweep failed for document", "document_id", doc.ID, "error", err)
			}
			// Per-document errors are recorded, not returned, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.processed", summary.Processed),
		attribute.Int("sweep.alerts_created", summary.AlertsCreated),
		attribute.Int("sweep.escalations", summary.Escalations),
		attribute.Int("sweep.errors", len(summary.Errors)),
	)
	e.logger.Info("alert sweep finished",
		"processed", summary.Processed,
		"alerts_created", summary.AlertsCreated,
		"escalations", summary.Escalations,
		"expired", summary.Expired,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// Handle runs a sweep as the expiration_check job.
func (e *Engine) Handle(ctx context.Context, task store.ScheduledTask) (*store.TaskResult, error) {
	summary, err := e.Sweep(ctx, e.now())
	if err != nil {
		return nil, err
	}
	return &store.TaskResult{Sweep: summary}, nil
}

func (e *Engine) processDocument(ctx context.Context, doc store.Document, now time.Time) (docResult, error) {
	var res docResult
	if doc.ExpirationDate == nil {
		return res, nil
	}
	exp := *doc.ExpirationDate

	if now.After(exp) {
		expired, err := e.expire(ctx, doc, now)
		if err != nil {
			return res, err
		}
		res.expired = expired
	}

	days := DaysUntil(exp, now)
	level := e.cfg.Thresholds.LevelFor(days)
	if level == 0 {
		return res, nil
	}

	existing, err := e.store.ListAlerts(ctx, doc.ID)
	if err != nil {
		return res, fmt.Errorf("list alerts: %w", err)
	}

	if shouldCreate(existing, level) {
		created, err := e.createAlert(ctx, doc, level, days, now)
		res.created = created
		if err != nil {
			return res, err
		}
		if created {
			return res, nil
		}
		// Lost the race on (document, level); re-read before considering escalation.
		if existing, err = e.store.ListAlerts(ctx, doc.ID); err != nil {
			return res, fmt.Errorf("list alerts: %w", err)
		}
	}

	if days < 0 && e.cfg.EscalationEnabled {
		escalated, err := e.escalate(ctx, doc, existing, now)
		res.escalated = escalated
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// shouldCreate applies the once-per-level rule. Levels never go down, so a
// target at or below the highest existing level is never created. An expired
// document with an unacknowledged earlier alert escalates that alert instead
// of opening a new level 5.
func shouldCreate(existing []store.DocumentAlert, level int) bool {
	for _, a := range existing {
		if a.Level >= level {
			return false
		}
		if level == MaxLevel && a.Status != store.AlertStatusAcknowledged {
			return false
		}
	}
	return true
}

func (e *Engine) expire(ctx context.Context, doc store.Document, now time.Time) (bool, error) {
	changed, err := e.store.TransitionDocumentStatus(ctx, doc.ID, store.DocumentStatusExpired,
		store.ClosedDocumentStatuses, now)
	if err != nil {
		return false, fmt.Errorf("expire document: %w", err)
	}
	if changed {
		e.audit(ctx, nil, "document.expire", "document", doc.ID, string(doc.Status), string(store.DocumentStatusExpired), now)
		e.logger.Info("document expired", "document_id", doc.ID)
	}
	return changed, nil
}

func (e *Engine) createAlert(ctx context.Context, doc store.Document, level, days int, now time.Time) (bool, error) {
	alert := &store.DocumentAlert{
		ID:         uuid.New(),
		DocumentID: doc.ID,
		Level:      level,
		Status:     store.AlertStatusSent,
		SentAt:     now,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("create alert: %w", err)
	}

	e.metrics.AlertCreated(ctx, level)
	e.audit(ctx, nil, "alert.create", "document_alert", alert.ID, "", string(store.AlertStatusSent), now)

	title, body := expirationMessage(doc, level, days)
	if err := e.deliver(ctx, *alert, doc, doc.AuthorID, store.NotificationExpiration, title, body, now); err != nil {
		return true, err
	}
	e.logger.Info("alert created", "document_id", doc.ID, "alert_id", alert.ID, "level", level, "days", days)
	return true, nil
}

func (e *Engine) escalate(ctx context.Context, doc store.Document, existing []store.DocumentAlert, now time.Time) (bool, error) {
	if len(existing) == 0 {
		return false, nil
	}
	latest := existing[len(existing)-1]
	if latest.Status == store.AlertStatusAcknowledged {
		return false, nil
	}
	if latest.Level >= e.cfg.MaxEscalationLevel {
		return false, nil
	}
	if now.Sub(latest.LastActivity()) <= e.cfg.EscalationInterval {
		return false, nil
	}

	target, resolver, err := e.policy(latest).Resolve(ctx, doc, latest)
	if err != nil {
		return false, fmt.Errorf("resolve escalation target: %w", err)
	}
	if target == nil {
		e.logger.Warn("no escalation target, skipping", "document_id", doc.ID, "alert_id", latest.ID, "level", latest.Level)
		return false, nil
	}

	next := latest.Level + 1
	changed, err := e.store.EscalateAlert(ctx, latest.ID, latest.Level, next, target.ID, now)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("escalate alert: %w", err)
	}
	if !changed {
		return false, nil
	}

	e.metrics.Escalated(ctx, next)
	e.audit(ctx, nil, "alert.escalate", "document_alert", latest.ID, string(latest.Status), string(store.AlertStatusEscalated), now)

	latest.Level = next
	title, body := escalationMessage(doc, next)
	if err := e.deliver(ctx, latest, doc, target.ID, store.NotificationEscalation, title, body, now); err != nil {
		return true, err
	}
	e.logger.Info("alert escalated",
		"document_id", doc.ID, "alert_id", latest.ID, "level", next, "escalated_to", target.ID, "resolver", resolver)
	return true, nil
}

// deliver writes the in-app notification and its delivery row, then attempts
// the email. Email failure is logged and swallowed.
func (e *Engine) deliver(ctx context.Context, alert store.DocumentAlert, doc store.Document, userID uuid.UUID, kind store.NotificationType, title, body string, now time.Time) error {
	docID := doc.ID
	n := &store.Notification{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       kind,
		Title:      title,
		Message:    body,
		DocumentID: &docID,
		CreatedAt:  now,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	delivery := &store.DocumentAlertNotification{
		ID:             uuid.New(),
		AlertID:        alert.ID,
		UserID:         userID,
		NotificationID: n.ID,
		CreatedAt:      now,
	}
	if err := e.store.CreateAlertNotification(ctx, delivery); err != nil {
		return fmt.Errorf("create alert notification: %w", err)
	}

	log := e.logger.With("document_id", doc.ID, "alert_id", alert.ID, "user_id", userID)

	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		log.Warn("email skipped, recipient lookup failed", "error", err)
		return nil
	}
	if err := e.sender.Send(ctx, notify.Message{To: user.Email, Subject: title, Body: body}); err != nil {
		log.Warn("email delivery failed", "error", err)
		return nil
	}
	if err := e.store.MarkAlertEmailSent(ctx, delivery.ID, e.now()); err != nil {
		log.Warn("failed to mark email sent", "error", err)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, actor *uuid.UUID, action, entityType string, id uuid.UUID, from, to string, at time.Time) {
	entry := &store.AuditEntry{
		ID:         uuid.New(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   id,
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

func expirationMessage(doc store.Document, level, days int) (string, string) {
	if days <= 0 {
		return fmt.Sprintf("Document expired: %s", doc.Title),
			fmt.Sprintf("The document %q has expired and needs to be renewed or archived (alert level %d).", doc.Title, level)
	}
	return fmt.Sprintf("Document expires in %d day(s): %s", days, doc.Title),
		fmt.Sprintf("The document %q expires on %s (alert level %d).", doc.Title, doc.ExpirationDate.Format("2006-01-02"), level)
}

func escalationMessage(doc store.Document, level int) (string, string) {
	return fmt.Sprintf("Escalation: expired document %s", doc.Title),
		fmt.Sprintf("The document %q expired on %s and its alert was not acknowledged. It has been escalated to you (level %d).",
			doc.Title, doc.ExpirationDate.Format("2006-01-02"), level)
}

// Acknowledge marks an alert handled. The document author, the current
// escalation target and admins may acknowledge. Acknowledging twice is a no-op.
func (e *Engine) Acknowledge(ctx context.Context, alertID uuid.UUID, p auth.Principal) (*store.DocumentAlert, error) {
	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", alertID, err)
	}
	doc, err := e.store.GetDocument(ctx, alert.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", alert.DocumentID, err)
	}

	allowed := p.CanOverride() || p.ID == doc.AuthorID ||
		(alert.EscalatedTo != nil && *alert.EscalatedTo == p.ID)
	if !allowed {
		return nil, fmt.Errorf("acknowledge alert %s: %w", alertID, errs.ErrForbidden)
	}

	now := e.now()
	changed, err := e.store.AcknowledgeAlert(ctx, alertID, p.ID, now)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}
	if changed {
		actor := p.ID
		e.audit(ctx, &actor, "alert.acknowledge", "document_alert", alertID,
			string(alert.Status), string(store.AlertStatusAcknowledged), now)
	}

	return e.store.GetAlert(ctx, alertID)
}
