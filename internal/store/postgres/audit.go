package postgres

import (
	"context"

	"docflow/internal/store"
)

func (s *Store) RecordAudit(ctx context.Context, entry *store.AuditEntry) error {
	return s.recordAudit(ctx, nil, entry)
}

func (s *Store) recordAudit(ctx context.Context, tx store.DBTransaction, entry *store.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, from_status, to_status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.getExecutor(tx).ExecContext(ctx, query,
		entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID,
		entry.FromStatus, entry.ToStatus, entry.Comment, entry.CreatedAt,
	)
	return err
}
