package user

import "time"

// Role classifies a user and carries a fixed permission set plus a
// configurable borrowing cap.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLibrarian Role = "LIBRARIAN"
	RoleMember    Role = "MEMBER"
)

// Permission names granted to roles.
const (
	PermManageUsers  = "manage_users"
	PermManageLoans  = "manage_loans"
	PermManageBooks  = "manage_books"
	PermModifyLimits = "modify_limits"
	PermViewAllFines = "view_all_fines"
	PermViewLoans    = "view_loans"
	PermViewBooks    = "view_books"
)

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleLibrarian, RoleMember}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLibrarian, RoleMember:
		return true
	}
	return false
}

// DefaultLoanLimit returns the borrowing cap used when no override is
// configured. Staff roles are not borrowers.
func (r Role) DefaultLoanLimit() int {
	if r == RoleMember {
		return 2
	}
	return 0
}

// Permissions returns the fixed permission set for the role.
func (r Role) Permissions() []string {
	switch r {
	case RoleAdmin:
		return []string{PermManageUsers, PermManageLoans, PermManageBooks, PermModifyLimits}
	case RoleLibrarian:
		return []string{PermManageLoans, PermManageBooks, PermViewAllFines}
	case RoleMember:
		return []string{PermViewLoans, PermViewBooks}
	}
	return nil
}

// HasPermission reports whether the role grants the named permission.
func (r Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions() {
		if p == permission {
			return true
		}
	}
	return false
}

// User is a registered account.
//
// HasPendingFine is set by the overdue sweep the first time one of the
// user's loans goes overdue. It is only ever cleared by an administrative
// action, never by the lending core.
type User struct {
	ID             string
	Name           string
	Surname        string
	Email          string
	PasswordHash   string
	Role           Role
	HasPendingFine bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
