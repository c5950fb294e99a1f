package auth

import (
	"context"

	"docflow/internal/store"

	"github.com/google/uuid"
)

// Principal is the caller identity the lifecycle core authorizes against.
type Principal struct {
	ID         uuid.UUID
	Role       store.Role
	Department string
}

// FromUser builds the principal of a stored user.
func FromUser(u *store.User) Principal {
	return Principal{ID: u.ID, Role: u.Role, Department: u.Department}
}

// CanOverride reports whether the principal holds administrative override.
// It gates force lock release, approving any step and cancelling any workflow.
func (p Principal) CanOverride() bool {
	return p.Role == store.RoleAdmin
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
