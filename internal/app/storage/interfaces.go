// Package storage defines the persistence interfaces the application
// services depend on. Implementations live in the memory and postgres
// subpackages.
package storage

import (
	"context"

	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
)

// BookStore persists books and their copy counts.
type BookStore interface {
	CreateBook(ctx context.Context, b book.Book) (book.Book, error)
	UpdateBook(ctx context.Context, b book.Book) (book.Book, error)
	GetBook(ctx context.Context, id string) (book.Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (book.Book, error)
	ListBooks(ctx context.Context) ([]book.Book, error)

	// AddCopies atomically raises both the total and available counts of
	// the book with the given ISBN by n, in one write. Intake must not go
	// through a read-modify-write: a borrow landing between a lookup and
	// an update would have its decrement overwritten.
	AddCopies(ctx context.Context, isbn string, n int) (book.Book, error)

	// AdjustAvailableCopies atomically applies delta to the book's
	// available-copy count. It fails with a conflict error when the
	// adjustment would leave the count below zero or above the total,
	// without modifying the record. This is the only way the lending
	// workflows touch copy counts, so two concurrent borrows of a last
	// copy cannot both succeed.
	AdjustAvailableCopies(ctx context.Context, id string, delta int) (book.Book, error)
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	ListUsersByRole(ctx context.Context, role user.Role) ([]user.User, error)
}

// LoanStore persists loans and their lifecycle state.
type LoanStore interface {
	CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	ListLoans(ctx context.Context) ([]loan.Loan, error)
	ListActiveLoans(ctx context.Context) ([]loan.Loan, error)
	ListOverdueLoans(ctx context.Context) ([]loan.Loan, error)
	ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error)

	// ListOutstandingByUser returns the user's loans that still hold a
	// book copy, i.e. status ACTIVE or OVERDUE.
	ListOutstandingByUser(ctx context.Context, userID string) ([]loan.Loan, error)

	// SetLoanStatus transitions a loan. When the new status is RETURNED
	// the return date is set to the current time in the same write;
	// otherwise it is cleared.
	SetLoanStatus(ctx context.Context, id string, status loan.Status) (loan.Loan, error)
}

// ConfigStore persists per-role loan limit overrides.
type ConfigStore interface {
	// GetLoanLimit returns the configured override for the role. ok is
	// false when no override exists; that is the expected common case,
	// not an error.
	GetLoanLimit(ctx context.Context, role user.Role) (limit int, ok bool, err error)
	SetLoanLimit(ctx context.Context, cfg loan.LimitConfig) error
}
