package auth

import (
	"fmt"

	"docflow/internal/store"

	"github.com/google/uuid"
)

// Approver decides whether a principal may act on a bound approval step.
type Approver interface {
	Allows(p Principal) bool
	String() string
}

// ByUser binds a step to one specific user.
type ByUser struct{ UserID uuid.UUID }

func (a ByUser) Allows(p Principal) bool { return p.ID == a.UserID }
func (a ByUser) String() string          { return "user:" + a.UserID.String() }

// ByRole binds a step to every holder of a role.
type ByRole struct{ Role store.Role }

func (a ByRole) Allows(p Principal) bool { return p.Role == a.Role }
func (a ByRole) String() string          { return "role:" + string(a.Role) }

// ByDepartment binds a step to every member of a department.
type ByDepartment struct{ Department string }

func (a ByDepartment) Allows(p Principal) bool {
	return a.Department != "" && p.Department == a.Department
}
func (a ByDepartment) String() string { return "department:" + a.Department }

// ApproverFor converts a stored binding into its predicate.
// The binding must have exactly one field set.
func ApproverFor(b store.StepBinding) (Approver, error) {
	set := 0
	var a Approver
	if b.UserID != nil {
		set++
		a = ByUser{UserID: *b.UserID}
	}
	if b.RoleID != nil {
		set++
		a = ByRole{Role: *b.RoleID}
	}
	if b.DepartmentID != nil {
		set++
		a = ByDepartment{Department: *b.DepartmentID}
	}
	if set != 1 {
		return nil, fmt.Errorf("step binding must set exactly one of user, role, department (got %d)", set)
	}
	return a, nil
}

// CanAct reports whether p may decide a step bound by b, honoring admin override.
func CanAct(p Principal, b store.StepBinding) bool {
	if p.CanOverride() {
		return true
	}
	a, err := ApproverFor(b)
	if err != nil {
		return false
	}
	return a.Allows(p)
}
