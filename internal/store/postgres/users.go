package postgres

import (
	"context"

	"docflow/internal/store"

	"github.com/google/uuid"
)

const userColumns = "id, email, name, role, department, created_at"

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Department, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *store.User, hashedKey string) error {
	query := `
		INSERT INTO users (id, email, name, role, department, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Role,
		user.Department,
		hashedKey,
		user.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE api_key_hash = $1"
	return scanUser(s.db.QueryRowContext(ctx, query, hash))
}

func (s *Store) ListUsersByRole(ctx context.Context, role store.Role, department string) ([]store.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = $1 AND ($2 = '' OR department = $2)
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, role, department)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
