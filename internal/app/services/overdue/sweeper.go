// Package overdue implements the reconciliation sweep that moves loans past
// their due date to OVERDUE and flags the borrower's pending fine.
package overdue

import (
	"context"

	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/metrics"
	"github.com/openshelf/library-service/internal/app/services/policy"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// Sweeper performs one reconciliation pass over all ACTIVE loans. The sweep
// is idempotent: a second run with no intervening time passage or returns
// transitions nothing, because it only selects ACTIVE loans.
type Sweeper struct {
	loans  storage.LoanStore
	users  storage.UserStore
	policy *policy.Engine
	log    *logger.Logger
}

// NewSweeper constructs a sweeper.
func NewSweeper(loans storage.LoanStore, users storage.UserStore, engine *policy.Engine, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("overdue")
	}
	return &Sweeper{
		loans:  loans,
		users:  users,
		policy: engine,
		log:    log,
	}
}

// Run sweeps all ACTIVE loans and returns the number transitioned to
// OVERDUE. A failure on one loan does not abort the sweep; the remaining
// loans are still processed and the first error is returned alongside the
// count of successful transitions.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	active, err := s.loans.ListActiveLoans(ctx)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	var firstErr error
	for _, l := range active {
		if !s.policy.IsOverdue(l) {
			continue
		}
		marked, err := s.markOverdue(ctx, l)
		if marked {
			transitioned++
		}
		if err != nil {
			s.log.WithError(err).WithField("loan_id", l.ID).Warn("overdue transition failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	metrics.RecordOverdueSweep(transitioned)
	s.log.WithField("active", len(active)).
		WithField("transitioned", transitioned).
		Info("overdue sweep completed")
	return transitioned, firstErr
}

// markOverdue transitions one loan and reports whether it actually did; a
// loan returned or marked between the listing and the re-read is skipped
// and does not count.
func (s *Sweeper) markOverdue(ctx context.Context, l loan.Loan) (bool, error) {
	current, err := s.loans.GetLoan(ctx, l.ID)
	if err != nil {
		return false, err
	}
	if current.Status != loan.StatusActive {
		return false, nil
	}

	if _, err := s.loans.SetLoanStatus(ctx, l.ID, loan.StatusOverdue); err != nil {
		return false, err
	}
	s.log.WithField("loan_id", l.ID).
		WithField("user_id", l.UserID).
		Info("loan marked overdue")

	// Fetch-check-set rather than a blind overwrite, so concurrent
	// unrelated user updates are not clobbered and unchanged users are
	// not rewritten.
	u, err := s.users.GetUser(ctx, l.UserID)
	if err != nil {
		return true, err
	}
	if u.HasPendingFine {
		return true, nil
	}
	u.HasPendingFine = true
	if _, err := s.users.UpdateUser(ctx, u); err != nil {
		return true, err
	}
	s.log.WithField("user_id", u.ID).Info("pending fine flagged")
	return true, nil
}
