package loan

import (
	"time"

	"github.com/openshelf/library-service/internal/app/domain/user"
)

// Status is the lifecycle state of a loan.
//
// Transitions: ACTIVE -> OVERDUE (overdue sweep only), ACTIVE -> RETURNED
// and OVERDUE -> RETURNED (end-loan only). RETURNED is terminal.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusOverdue  Status = "OVERDUE"
	StatusReturned Status = "RETURNED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOverdue, StatusReturned:
		return true
	}
	return false
}

// Duration is the fixed loan term. The due date is set at creation and
// never recomputed.
const Duration = 20 * 24 * time.Hour

// Loan records one book copy lent to one user.
//
// ReturnDate is nil exactly while the loan is outstanding (ACTIVE or
// OVERDUE) and set when the loan is returned.
type Loan struct {
	ID         string
	BookID     string
	UserID     string
	LoanDate   time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     Status
}

// Outstanding reports whether the loan still holds a book copy.
func (l Loan) Outstanding() bool {
	return l.Status == StatusActive || l.Status == StatusOverdue
}

// LimitConfig is a per-role override of the borrowing cap. Absence of a
// record for a role means the role's default applies.
type LimitConfig struct {
	Role     user.Role
	MaxLoans int
}
