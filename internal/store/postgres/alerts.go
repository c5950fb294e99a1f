package postgres

import (
	"context"
	"database/sql"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

const alertColumns = "id, document_id, level, status, sent_at, escalated_at, escalated_to, acknowledged_at, acknowledged_by"

func scanAlert(row interface{ Scan(...any) error }) (*store.DocumentAlert, error) {
	var a store.DocumentAlert
	err := row.Scan(&a.ID, &a.DocumentID, &a.Level, &a.Status, &a.SentAt,
		&a.EscalatedAt, &a.EscalatedTo, &a.AcknowledgedAt, &a.AcknowledgedBy)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *Store) ListAlerts(ctx context.Context, documentID uuid.UUID) ([]store.DocumentAlert, error) {
	query := "SELECT " + alertColumns + " FROM document_alerts WHERE document_id = $1 ORDER BY level ASC"

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []store.DocumentAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*store.DocumentAlert, error) {
	query := "SELECT " + alertColumns + " FROM document_alerts WHERE id = $1"
	return scanAlert(s.db.QueryRowContext(ctx, query, id))
}

// CreateAlert relies on UNIQUE (document_id, level) as the idempotency key.
func (s *Store) CreateAlert(ctx context.Context, alert *store.DocumentAlert) error {
	query := `
		INSERT INTO document_alerts (id, document_id, level, status, sent_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query, alert.ID, alert.DocumentID, alert.Level, alert.Status, alert.SentAt)
	return mapError(err)
}

func (s *Store) EscalateAlert(ctx context.Context, id uuid.UUID, fromLevel, toLevel int, target uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_alerts
		SET level = $3, status = $4, escalated_to = $5, escalated_at = $6
		WHERE id = $1 AND level = $2 AND status <> $7
	`, id, fromLevel, toLevel, store.AlertStatusEscalated, target, at, store.AlertStatusAcknowledged)
	if err != nil {
		return false, mapError(err)
	}
	return rowsChanged(res)
}

func (s *Store) AcknowledgeAlert(ctx context.Context, id uuid.UUID, by uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_alerts
		SET status = $2, acknowledged_by = $3, acknowledged_at = $4
		WHERE id = $1 AND status <> $2
	`, id, store.AlertStatusAcknowledged, by, at)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *Store) CreateAlertNotification(ctx context.Context, n *store.DocumentAlertNotification) error {
	query := `
		INSERT INTO document_alert_notifications (id, alert_id, user_id, notification_id, email_sent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query, n.ID, n.AlertID, n.UserID, n.NotificationID, n.EmailSent, n.CreatedAt)
	return mapError(err)
}

func (s *Store) MarkAlertEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE document_alert_notifications SET email_sent = TRUE, email_sent_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return err
	}
	changed, err := rowsChanged(res)
	if err != nil {
		return err
	}
	if !changed {
		return store.ErrNotFound
	}
	return nil
}

// ListExpiring joins every candidate document with its highest-level alert.
func (s *Store) ListExpiring(ctx context.Context, filter store.ExpiringFilter) ([]store.ExpiringDocument, error) {
	var acknowledged sql.NullBool
	if filter.Acknowledged != nil {
		acknowledged = sql.NullBool{Bool: *filter.Acknowledged, Valid: true}
	}

	query := `
		SELECT d.id, d.title, d.status, d.author_id, d.department, d.expiration_date, d.created_at, d.updated_at,
			a.id, a.document_id, a.level, a.status, a.sent_at, a.escalated_at, a.escalated_to, a.acknowledged_at, a.acknowledged_by
		FROM documents d
		LEFT JOIN LATERAL (
			SELECT * FROM document_alerts WHERE document_id = d.id ORDER BY level DESC LIMIT 1
		) a ON TRUE
		WHERE d.expiration_date IS NOT NULL
			AND d.status NOT IN ($1, $2)
			AND d.expiration_date <= $3
			AND ($4 OR d.expiration_date >= $5)
			AND ($6::boolean IS NULL OR COALESCE(a.status = $7, FALSE) = $6)
		ORDER BY d.expiration_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query,
		store.DocumentStatusCanceled, store.DocumentStatusArchived,
		filter.Now.Add(filter.Within), filter.IncludeExpired, filter.Now,
		acknowledged, store.AlertStatusAcknowledged,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ExpiringDocument
	for rows.Next() {
		var (
			d              store.Document
			alertID        uuid.NullUUID
			alertDoc       uuid.NullUUID
			level          sql.NullInt64
			status         sql.NullString
			sentAt         sql.NullTime
			escalatedAt    *time.Time
			escalatedTo    *uuid.UUID
			acknowledgedAt *time.Time
			acknowledgedBy *uuid.UUID
		)
		if err := rows.Scan(
			&d.ID, &d.Title, &d.Status, &d.AuthorID, &d.Department, &d.ExpirationDate, &d.CreatedAt, &d.UpdatedAt,
			&alertID, &alertDoc, &level, &status, &sentAt, &escalatedAt, &escalatedTo, &acknowledgedAt, &acknowledgedBy,
		); err != nil {
			return nil, err
		}

		row := store.ExpiringDocument{Document: d}
		if alertID.Valid {
			row.LatestAlert = &store.DocumentAlert{
				ID:             alertID.UUID,
				DocumentID:     alertDoc.UUID,
				Level:          int(level.Int64),
				Status:         store.AlertStatus(status.String),
				SentAt:         sentAt.Time,
				EscalatedAt:    escalatedAt,
				EscalatedTo:    escalatedTo,
				AcknowledgedAt: acknowledgedAt,
				AcknowledgedBy: acknowledgedBy,
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
