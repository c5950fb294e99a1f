// Package locks implements the document edit lease.
//
// A document has at most one live holder. Acquire, renew and reclaim are a
// single conditional write in the store. An expired lease is treated as
// absent when read and removed lazily; CleanupExpired purges the rest.
package locks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docflow/internal/auth"
	"docflow/internal/errs"
	"docflow/internal/observability"
	"docflow/internal/store"

	"github.com/google/uuid"
)

// DefaultLease is how long an acquired or renewed lock lives.
const DefaultLease = 30 * time.Minute

// ConflictError is returned when another user holds a live lock.
type ConflictError struct {
	DocumentID uuid.UUID
	Holder     uuid.UUID
	ExpiresAt  time.Time
	Remaining  time.Duration
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %s is locked by %s for another %s", e.DocumentID, e.Holder, e.Remaining.Round(time.Second))
}

func (e *ConflictError) Unwrap() error { return errs.ErrConflict }

// Store is the persistence the manager needs.
type Store interface {
	store.LockStore
	store.AuditStore
	GetDocument(ctx context.Context, id uuid.UUID) (*store.Document, error)
}

// Manager grants and releases document locks.
type Manager struct {
	store   Store
	lease   time.Duration
	logger  *slog.Logger
	metrics *observability.Instruments
	now     func() time.Time
}

type Option func(*Manager)

// WithLease overrides DefaultLease.
func WithLease(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMetrics(i *observability.Instruments) Option { return func(m *Manager) { m.metrics = i } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(st Store, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		lease:  DefaultLease,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease returns the configured lease duration.
func (m *Manager) Lease() time.Duration { return m.lease }

// Acquire grants the lock to p, renews it when p already holds it, or reclaims
// it when the previous lease expired. A live lock held by someone else yields
// a *ConflictError.
func (m *Manager) Acquire(ctx context.Context, documentID uuid.UUID, p auth.Principal, sessionID *string) (*store.DocumentLock, error) {
	if _, err := m.store.GetDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, err)
	}

	now := m.now()
	want := store.DocumentLock{
		DocumentID: documentID,
		UserID:     p.ID,
		LockedAt:   now,
		ExpiresAt:  now.Add(m.lease),
		SessionID:  sessionID,
	}

	lock, granted, err := m.store.UpsertLock(ctx, want, now)
	if errors.Is(err, store.ErrNotFound) {
		// The holder released between our write and the read back.
		lock, granted, err = m.store.UpsertLock(ctx, want, now)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if !granted {
		m.metrics.LockConflict(ctx)
		return nil, &ConflictError{
			DocumentID: documentID,
			Holder:     lock.UserID,
			ExpiresAt:  lock.ExpiresAt,
			Remaining:  lock.ExpiresAt.Sub(now),
		}
	}

	action := "lock.acquire"
	if lock.LockedAt.Before(now) {
		action = "lock.renew"
	}
	m.audit(ctx, p.ID, action, documentID, now)
	m.logger.Debug("lock granted", "document_id", documentID, "user_id", p.ID, "expires_at", lock.ExpiresAt, "action", action)
	return lock, nil
}

// Release drops the caller's lock. Releasing an absent or expired lock is a
// no-op. Releasing someone else's live lock is forbidden unless p is an admin,
// in which case it is force-released.
func (m *Manager) Release(ctx context.Context, documentID uuid.UUID, p auth.Principal) error {
	now := m.now()
	lock, err := m.store.GetLock(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}

	if lock.Expired(now) {
		if _, err := m.store.DeleteLockIfExpired(ctx, documentID, now); err != nil {
			m.logger.Warn("failed to remove expired lock", "document_id", documentID, "error", err)
		}
		return nil
	}

	if lock.UserID != p.ID {
		if !p.CanOverride() {
			return fmt.Errorf("release lock held by %s: %w", lock.UserID, errs.ErrForbidden)
		}
		return m.forceRelease(ctx, documentID, p, now)
	}

	uid := p.ID
	deleted, err := m.store.DeleteLock(ctx, documentID, &uid)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if deleted {
		m.audit(ctx, p.ID, "lock.release", documentID, now)
	}
	return nil
}

// ForceRelease deletes the lock regardless of holder. Admin only.
func (m *Manager) ForceRelease(ctx context.Context, documentID uuid.UUID, p auth.Principal) error {
	if !p.CanOverride() {
		return fmt.Errorf("force release: %w", errs.ErrForbidden)
	}
	return m.forceRelease(ctx, documentID, p, m.now())
}

func (m *Manager) forceRelease(ctx context.Context, documentID uuid.UUID, p auth.Principal, now time.Time) error {
	deleted, err := m.store.DeleteLock(ctx, documentID, nil)
	if err != nil {
		return fmt.Errorf("force release: %w", err)
	}
	if deleted {
		m.audit(ctx, p.ID, "lock.force_release", documentID, now)
		m.logger.Info("lock force-released", "document_id", documentID, "user_id", p.ID)
	}
	return nil
}

// Info describes the lock state of a document as seen by a caller.
type Info struct {
	DocumentID uuid.UUID
	Locked     bool
	Holder     *uuid.UUID
	LockedAt   *time.Time
	ExpiresAt  *time.Time
	Remaining  time.Duration
	Own        bool
}

// Info reports the lock state. An expired lock reads as unlocked and is deleted.
func (m *Manager) Info(ctx context.Context, documentID uuid.UUID, callerID uuid.UUID) (*Info, error) {
	now := m.now()
	info := &Info{DocumentID: documentID}

	lock, err := m.store.GetLock(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}

	if lock.Expired(now) {
		if _, err := m.store.DeleteLockIfExpired(ctx, documentID, now); err != nil {
			m.logger.Warn("failed to remove expired lock", "document_id", documentID, "error", err)
		}
		return info, nil
	}

	info.Locked = true
	info.Holder = &lock.UserID
	info.LockedAt = &lock.LockedAt
	info.ExpiresAt = &lock.ExpiresAt
	info.Remaining = lock.ExpiresAt.Sub(now)
	info.Own = lock.UserID == callerID
	return info, nil
}

// CleanupExpired deletes every lock that expired before now.
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.DeleteExpiredLocks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired locks: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired locks removed", "count", n)
	}
	return n, nil
}

func (m *Manager) audit(ctx context.Context, actor uuid.UUID, action string, documentID uuid.UUID, at time.Time) {
	if err := m.store.RecordAudit(ctx, &store.AuditEntry{
		ID:         uuid.New(),
		ActorID:    &actor,
		Action:     action,
		EntityType: "document_lock",
		EntityID:   documentID,
		CreatedAt:  at,
	}); err != nil {
		m.logger.Warn("failed to record audit", "action", action, "document_id", documentID, "error", err)
	}
}
