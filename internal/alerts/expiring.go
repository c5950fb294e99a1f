package alerts

import (
	"context"
	"fmt"
	"time"

	"docflow/internal/errs"
	"docflow/internal/store"
)

// ExpiringQuery selects rows of the expiring-documents projection.
type ExpiringQuery struct {
	Days           int
	IncludeExpired bool
	Acknowledged   *bool
}

// ExpiringItem is one document approaching or past expiration.
type ExpiringItem struct {
	Document      store.Document
	DaysRemaining int
	LatestAlert   *store.DocumentAlert
}

// Expiring is a read-only view of current alert state. It never writes.
func (e *Engine) Expiring(ctx context.Context, q ExpiringQuery) ([]ExpiringItem, error) {
	if q.Days < 0 {
		return nil, fmt.Errorf("days must not be negative: %w", errs.ErrValidation)
	}

	now := e.now()
	rows, err := e.store.ListExpiring(ctx, store.ExpiringFilter{
		Within:         time.Duration(q.Days) * 24 * time.Hour,
		IncludeExpired: q.IncludeExpired,
		Acknowledged:   q.Acknowledged,
		Now:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("list expiring documents: %w", err)
	}

	items := make([]ExpiringItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, ExpiringItem{
			Document:      r.Document,
			DaysRemaining: DaysUntil(*r.Document.ExpirationDate, now),
			LatestAlert:   r.LatestAlert,
		})
	}
	return items, nil
}
