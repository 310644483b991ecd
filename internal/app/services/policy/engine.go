// Package policy implements the lending policy decisions: whether a user may
// borrow another book and whether a loan has crossed its due date.
package policy

import (
	"context"
	"time"

	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// Engine evaluates lending policy over already-loaded entity snapshots. The
// only I/O it performs is the loan-limit lookup through the config store.
type Engine struct {
	config storage.ConfigStore
	log    *logger.Logger
}

// New constructs a policy engine.
func New(config storage.ConfigStore, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("policy")
	}
	return &Engine{
		config: config,
		log:    log,
	}
}

// LoanLimit resolves the maximum concurrent outstanding loans for a role:
// the configured override when one exists, otherwise the role's default.
// An unset override is the expected common case, not an error.
func (e *Engine) LoanLimit(ctx context.Context, role user.Role) (int, error) {
	if e.config != nil {
		limit, ok, err := e.config.GetLoanLimit(ctx, role)
		if err != nil {
			return 0, err
		}
		if ok {
			return limit, nil
		}
	}
	return role.DefaultLoanLimit(), nil
}

// CanBorrow decides whether the user may take out another loan given their
// currently outstanding loans. A pending fine is an absolute veto,
// independent of the role limit.
func (e *Engine) CanBorrow(ctx context.Context, u user.User, outstanding []loan.Loan) (bool, error) {
	if u.HasPendingFine {
		e.log.WithField("user_id", u.ID).Debug("borrow denied: pending fine")
		return false, nil
	}

	maxLoans, err := e.LoanLimit(ctx, u.Role)
	if err != nil {
		return false, err
	}
	if len(outstanding) >= maxLoans {
		e.log.WithField("user_id", u.ID).
			WithField("outstanding", len(outstanding)).
			WithField("limit", maxLoans).
			Debug("borrow denied: loan limit reached")
		return false, nil
	}
	return true, nil
}

// IsOverdue reports whether the loan has crossed its due date. A returned
// loan is never overdue regardless of elapsed time. The comparison is
// strict and in UTC.
func (e *Engine) IsOverdue(l loan.Loan) bool {
	if l.ReturnDate != nil {
		return false
	}
	return time.Now().UTC().After(l.DueDate)
}
