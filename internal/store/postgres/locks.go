package postgres

import (
	"context"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
)

const lockColumns = "document_id, user_id, locked_at, expires_at, session_id"

func scanLock(row interface{ Scan(...any) error }) (*store.DocumentLock, error) {
	var l store.DocumentLock
	if err := row.Scan(&l.DocumentID, &l.UserID, &l.LockedAt, &l.ExpiresAt, &l.SessionID); err != nil {
		return nil, mapError(err)
	}
	return &l, nil
}

// UpsertLock acquires, renews or reclaims the lease in a single statement.
// The conflict branch only fires for the same holder or an expired row; when it
// does not fire, no row is returned and the current holder is read back.
func (s *Store) UpsertLock(ctx context.Context, lock store.DocumentLock, now time.Time) (*store.DocumentLock, bool, error) {
	query := `
		INSERT INTO document_locks (document_id, user_id, locked_at, expires_at, session_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			locked_at = CASE WHEN document_locks.user_id = EXCLUDED.user_id AND document_locks.expires_at > $6
				THEN document_locks.locked_at ELSE EXCLUDED.locked_at END,
			expires_at = EXCLUDED.expires_at,
			session_id = EXCLUDED.session_id
		WHERE document_locks.user_id = EXCLUDED.user_id OR document_locks.expires_at <= $6
		RETURNING ` + lockColumns

	granted, err := scanLock(s.db.QueryRowContext(ctx, query,
		lock.DocumentID, lock.UserID, lock.LockedAt, lock.ExpiresAt, lock.SessionID, now))
	if err == nil {
		return granted, true, nil
	}
	if err != store.ErrNotFound {
		return nil, false, err
	}

	holder, err := s.GetLock(ctx, lock.DocumentID)
	if err != nil {
		return nil, false, err
	}
	return holder, false, nil
}

func (s *Store) GetLock(ctx context.Context, documentID uuid.UUID) (*store.DocumentLock, error) {
	query := "SELECT " + lockColumns + " FROM document_locks WHERE document_id = $1"
	return scanLock(s.db.QueryRowContext(ctx, query, documentID))
}

func (s *Store) DeleteLock(ctx context.Context, documentID uuid.UUID, userID *uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM document_locks WHERE document_id = $1 AND ($2::uuid IS NULL OR user_id = $2)",
		documentID, userID)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *Store) DeleteLockIfExpired(ctx context.Context, documentID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM document_locks WHERE document_id = $1 AND expires_at <= $2", documentID, now)
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

func (s *Store) DeleteExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM document_locks WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
