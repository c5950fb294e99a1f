package postgres

import (
	"context"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateNotification(ctx context.Context, n *store.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, message, document_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
	`

	_, err := s.db.ExecContext(ctx, query, n.ID, n.UserID, n.Type, n.Title, n.Message, n.DocumentID, n.CreatedAt)
	return mapError(err)
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
	`, id, userID, at)
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

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]store.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, type, title, message, document_id, read, read_at, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Notification
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&n.DocumentID, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) PurgeReadNotifications(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE read AND created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
