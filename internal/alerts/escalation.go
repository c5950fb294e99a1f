package alerts

import (
	"context"
	"fmt"

	"docflow/internal/store"
)

// Resolver picks the principal an overdue alert escalates to. It returns
// nil without error when it has no candidate.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, doc store.Document, alert store.DocumentAlert) (*store.User, error)
}

// UserLister is the lookup the built-in resolvers need.
type UserLister interface {
	ListUsersByRole(ctx context.Context, role store.Role, department string) ([]store.User, error)
}

// DepartmentManager resolves to the longest-standing MANAGER of the document's department.
type DepartmentManager struct{ Users UserLister }

func (DepartmentManager) Name() string { return "department-manager" }

func (r DepartmentManager) Resolve(ctx context.Context, doc store.Document, alert store.DocumentAlert) (*store.User, error) {
	if doc.Department == "" {
		return nil, nil
	}
	managers, err := r.Users.ListUsersByRole(ctx, store.RoleManager, doc.Department)
	if err != nil {
		return nil, err
	}
	return pick(managers, alert), nil
}

// AnyAdmin resolves to an ADMIN, preferring one that is not the current target.
type AnyAdmin struct{ Users UserLister }

func (AnyAdmin) Name() string { return "any-admin" }

func (r AnyAdmin) Resolve(ctx context.Context, doc store.Document, alert store.DocumentAlert) (*store.User, error) {
	admins, err := r.Users.ListUsersByRole(ctx, store.RoleAdmin, "")
	if err != nil {
		return nil, err
	}
	return pick(admins, alert), nil
}

func pick(users []store.User, alert store.DocumentAlert) *store.User {
	if len(users) == 0 {
		return nil
	}
	for i := range users {
		if alert.EscalatedTo == nil || users[i].ID != *alert.EscalatedTo {
			return &users[i]
		}
	}
	return &users[0]
}

// Chain tries resolvers in order and returns the first candidate.
type Chain []Resolver

// Resolve returns the target and the name of the resolver that produced it.
func (c Chain) Resolve(ctx context.Context, doc store.Document, alert store.DocumentAlert) (*store.User, string, error) {
	for _, r := range c {
		u, err := r.Resolve(ctx, doc, alert)
		if err != nil {
			return nil, r.Name(), fmt.Errorf("resolver %s: %w", r.Name(), err)
		}
		if u != nil {
			return u, r.Name(), nil
		}
	}
	return nil, "", nil
}

// Policy chooses the resolver chain for an alert about to escalate.
type Policy func(alert store.DocumentAlert) Chain

// DefaultPolicy escalates first to the department manager, falling back to
// any admin; every later escalation goes to an admin.
func DefaultPolicy(users UserLister) Policy {
	first := Chain{DepartmentManager{Users: users}, AnyAdmin{Users: users}}
	later := Chain{AnyAdmin{Users: users}}
	return func(alert store.DocumentAlert) Chain {
		if alert.EscalatedTo == nil {
			return first
		}
		return later
	}
}
