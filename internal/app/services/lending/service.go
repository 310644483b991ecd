// Package lending implements the loan lifecycle workflows: creating a loan
// against an available book copy and ending an outstanding loan.
package lending

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/metrics"
	"github.com/openshelf/library-service/internal/app/services/policy"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// Service orchestrates loan creation and termination. Copy counts are only
// ever touched through the store's atomic adjustment, so concurrent borrows
// of a book's last copy resolve to exactly one success.
type Service struct {
	users  storage.UserStore
	books  storage.BookStore
	loans  storage.LoanStore
	policy *policy.Engine
	log    *logger.Logger
}

// New constructs a lending service.
func New(users storage.UserStore, books storage.BookStore, loans storage.LoanStore, engine *policy.Engine, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lending")
	}
	return &Service{
		users:  users,
		books:  books,
		loans:  loans,
		policy: engine,
		log:    log,
	}
}

// CreateLoan lends one copy of the book to the user. Checks run cheapest and
// most specific first: input validation, existence, availability, then
// policy. The copy is reserved with an atomic decrement before the loan
// record is written; if the loan write fails the reservation is released.
func (s *Service) CreateLoan(ctx context.Context, userID, bookID string) (loan.Loan, error) {
	userID = strings.TrimSpace(userID)
	bookID = strings.TrimSpace(bookID)
	if userID == "" {
		return loan.Loan{}, core.RequiredError("user_id")
	}
	if bookID == "" {
		return loan.Loan{}, core.RequiredError("book_id")
	}

	// The two reads are unrelated, so issue them concurrently.
	type userResult struct {
		u   user.User
		err error
	}
	userCh := make(chan userResult, 1)
	go func() {
		u, err := s.users.GetUser(ctx, userID)
		userCh <- userResult{u: u, err: err}
	}()

	b, bookErr := s.books.GetBook(ctx, bookID)
	ur := <-userCh
	if ur.err != nil {
		return loan.Loan{}, ur.err
	}
	if bookErr != nil {
		return loan.Loan{}, bookErr
	}

	if b.AvailableCopies <= 0 {
		return loan.Loan{}, core.NewConflictError("book", b.ID, "no available copies")
	}

	outstanding, err := s.loans.ListOutstandingByUser(ctx, userID)
	if err != nil {
		return loan.Loan{}, err
	}
	allowed, err := s.policy.CanBorrow(ctx, ur.u, outstanding)
	if err != nil {
		return loan.Loan{}, err
	}
	if !allowed {
		metrics.RecordPolicyDenial()
		return loan.Loan{}, core.NewConflictError("user", userID, "loan policy violation (limit, fine, or role restriction)")
	}

	if _, err := s.books.AdjustAvailableCopies(ctx, bookID, -1); err != nil {
		return loan.Loan{}, err
	}

	now := time.Now().UTC()
	newLoan := loan.Loan{
		ID:       uuid.NewString(),
		BookID:   b.ID,
		UserID:   ur.u.ID,
		LoanDate: now,
		DueDate:  now.Add(loan.Duration),
		Status:   loan.StatusActive,
	}
	created, err := s.loans.CreateLoan(ctx, newLoan)
	if err != nil {
		// Release the reserved copy; a failure here leaves drift that the
		// copy-count repair pass can recompute from outstanding loans.
		if _, releaseErr := s.books.AdjustAvailableCopies(ctx, bookID, 1); releaseErr != nil {
			s.log.WithError(releaseErr).
				WithField("book_id", bookID).
				Error("failed to release reserved copy after loan write failure")
		}
		return loan.Loan{}, err
	}

	metrics.RecordLoanCreated()
	s.log.WithField("loan_id", created.ID).
		WithField("user_id", created.UserID).
		WithField("book_id", created.BookID).
		WithField("due_date", created.DueDate).
		Info("loan created")
	return created, nil
}

// EndLoan completes an outstanding loan and puts its copy back on the shelf.
// Returning an overdue loan is legal and does not touch the user's fine
// flag; returning an already-returned loan is a conflict.
func (s *Service) EndLoan(ctx context.Context, loanID string) (loan.Loan, error) {
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return loan.Loan{}, core.RequiredError("loan_id")
	}

	l, err := s.loans.GetLoan(ctx, loanID)
	if err != nil {
		return loan.Loan{}, err
	}
	if l.Status == loan.StatusReturned {
		return loan.Loan{}, core.NewConflictError("loan", loanID, "already returned")
	}

	updated, err := s.loans.SetLoanStatus(ctx, loanID, loan.StatusReturned)
	if err != nil {
		return loan.Loan{}, err
	}

	if _, err := s.books.AdjustAvailableCopies(ctx, l.BookID, 1); err != nil {
		// The loan is already closed; surface the drift rather than hide it.
		s.log.WithError(err).
			WithField("loan_id", loanID).
			WithField("book_id", l.BookID).
			Error("failed to restore available copy after return")
		return loan.Loan{}, err
	}

	metrics.RecordLoanReturned()
	s.log.WithField("loan_id", updated.ID).
		WithField("book_id", updated.BookID).
		Info("loan returned")
	return updated, nil
}

// GetLoan retrieves a single loan.
func (s *Service) GetLoan(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.loans.GetLoan(ctx, loanID)
}

// ListLoans returns all loans, or the given user's loans when userID is set.
func (s *Service) ListLoans(ctx context.Context, userID string) ([]loan.Loan, error) {
	if userID = strings.TrimSpace(userID); userID != "" {
		return s.loans.ListLoansByUser(ctx, userID)
	}
	return s.loans.ListLoans(ctx)
}

// ListActiveLoans returns loans in status ACTIVE.
func (s *Service) ListActiveLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.loans.ListActiveLoans(ctx)
}

// ListOverdueLoans returns loans in status OVERDUE.
func (s *Service) ListOverdueLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.loans.ListOverdueLoans(ctx)
}

// RepairAvailableCopies recomputes a book's available-copy count from its
// outstanding loans. The two writes in the lending workflows are not covered
// by one transaction, so a crash between them can leave drift; this closes
// it.
func (s *Service) RepairAvailableCopies(ctx context.Context, bookID string) (int, error) {
	b, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}

	loans, err := s.loans.ListLoans(ctx)
	if err != nil {
		return 0, err
	}
	outstanding := 0
	for _, l := range loans {
		if l.BookID == bookID && l.Outstanding() {
			outstanding++
		}
	}

	expected := b.TotalCopies - outstanding
	if expected < 0 {
		expected = 0
	}
	if expected == b.AvailableCopies {
		return expected, nil
	}

	s.log.WithField("book_id", bookID).
		WithField("recorded", b.AvailableCopies).
		WithField("recomputed", expected).
		Warn("available copy drift repaired")

	b.AvailableCopies = expected
	if _, err := s.books.UpdateBook(ctx, b); err != nil {
		return 0, err
	}
	return expected, nil
}
