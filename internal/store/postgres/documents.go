package postgres

import (
	"context"
	"database/sql/driver"
	"time"

	"docflow/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const documentColumns = "id, title, status, author_id, department, expiration_date, created_at, updated_at"

func scanDocument(row interface{ Scan(...any) error }) (*store.Document, error) {
	var d store.Document
	err := row.Scan(&d.ID, &d.Title, &d.Status, &d.AuthorID, &d.Department,
		&d.ExpirationDate, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *store.Document) error {
	query := `
		INSERT INTO documents (id, title, status, author_id, department, expiration_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.Status, doc.AuthorID, doc.Department,
		doc.ExpirationDate, doc.CreatedAt, doc.UpdatedAt,
	)
	return mapError(err)
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*store.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE id = $1"
	return scanDocument(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) ListSweepableDocuments(ctx context.Context) ([]store.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE expiration_date IS NOT NULL AND status NOT IN ($1, $2)
		ORDER BY expiration_date ASC
	`

	rows, err := s.db.QueryContext(ctx, query, store.DocumentStatusCanceled, store.DocumentStatusArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// TransitionDocumentStatus is a conditional update; a document whose status is
// listed in except is left untouched.
func (s *Store) TransitionDocumentStatus(ctx context.Context, id uuid.UUID, to store.DocumentStatus, except []store.DocumentStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = $2, updated_at = $3
		WHERE id = $1 AND NOT (status = ANY($4))
	`, id, to, at, statusArray(except))
	if err != nil {
		return false, err
	}
	return rowsChanged(res)
}

// setOpenDocumentStatus moves a document to status unless it is closed.
func setOpenDocumentStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.DocumentStatus, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE documents SET status = $2, updated_at = $3
		WHERE id = $1 AND NOT (status = ANY($4))
	`, id, status, at, statusArray(store.ClosedDocumentStatuses))
	return err
}

func statusArray(statuses []store.DocumentStatus) driver.Valuer {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return pq.Array(out)
}
