package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"docflow/internal/errs"
	"docflow/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), store.ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, store.ErrDuplicate},
		{"other pq error", &pq.Error{Code: "23503"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.want == nil {
				if tt.in == nil && got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				if tt.in != nil && got != tt.in {
					t.Errorf("expected passthrough of %v, got %v", tt.in, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreSentinelsWrapTaxonomy(t *testing.T) {
	if !errors.Is(store.ErrNotFound, errs.ErrNotFound) {
		t.Error("store.ErrNotFound should wrap errs.ErrNotFound")
	}
	if !errors.Is(store.ErrDuplicate, errs.ErrConflict) {
		t.Error("store.ErrDuplicate should wrap errs.ErrConflict")
	}
}
