// Package users implements account administration: registration, profile
// updates, fine management, and per-role loan limit configuration.
package users

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/services/auth"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// RegisterInput holds the fields for a new account.
type RegisterInput struct {
	Name     string
	Surname  string
	Email    string
	Password string
	Role     user.Role
}

// Service manages user accounts. All administrative operations take the
// executing user's role so the permission check lives with the operation
// rather than in the transport layer.
type Service struct {
	users  storage.UserStore
	loans  storage.LoanStore
	config storage.ConfigStore
	log    *logger.Logger
}

// New constructs a users service.
func New(users storage.UserStore, loans storage.LoanStore, config storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{
		users:  users,
		loans:  loans,
		config: config,
		log:    log,
	}
}

// Register creates a new account. Only ADMIN may register users. The email
// must be unused and the password is stored as a bcrypt hash.
func (s *Service) Register(ctx context.Context, executor user.Role, in RegisterInput) (user.User, error) {
	if !executor.HasPermission(user.PermManageUsers) {
		return user.User{}, core.NewAccessDeniedError("register user", string(executor), "")
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Surname = strings.TrimSpace(in.Surname)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return user.User{}, core.RequiredError("name")
	}
	if in.Email == "" {
		return user.User{}, core.RequiredError("email")
	}
	if in.Password == "" {
		return user.User{}, core.RequiredError("password")
	}
	if !in.Role.Valid() {
		return user.User{}, core.NewValidationError("role", "must be one of ADMIN, LIBRARIAN, MEMBER")
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return user.User{}, core.NewConflictError("user", in.Email, "email already registered")
	} else if !core.IsNotFound(err) {
		return user.User{}, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return user.User{}, err
	}

	created, err := s.users.CreateUser(ctx, user.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Surname:      in.Surname,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", created.ID).
		WithField("role", string(created.Role)).
		Info("user registered")
	return created, nil
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return user.User{}, core.RequiredError("user_id")
	}
	return s.users.GetUser(ctx, id)
}

// List returns all users, or only those with the given role when role is
// non-empty.
func (s *Service) List(ctx context.Context, role user.Role) ([]user.User, error) {
	if role == "" {
		return s.users.ListUsers(ctx)
	}
	if !role.Valid() {
		return nil, core.NewValidationError("role", "must be one of ADMIN, LIBRARIAN, MEMBER")
	}
	return s.users.ListUsersByRole(ctx, role)
}

// UpdateProfile changes a user's name and surname. Blank fields keep their
// current value.
func (s *Service) UpdateProfile(ctx context.Context, id, name, surname string) (user.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		u.Name = name
	}
	if surname = strings.TrimSpace(surname); surname != "" {
		u.Surname = surname
	}
	return s.users.UpdateUser(ctx, u)
}

// HasPendingFine reports whether the user currently owes a fine: either the
// persisted flag is set or an outstanding loan has gone overdue since the
// last sweep.
func (s *Service) HasPendingFine(ctx context.Context, id string) (bool, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if u.HasPendingFine {
		return true, nil
	}
	outstanding, err := s.loans.ListOutstandingByUser(ctx, u.ID)
	if err != nil {
		return false, err
	}
	for _, l := range outstanding {
		if l.Status == loan.StatusOverdue {
			return true, nil
		}
	}
	return false, nil
}

// ClearFine resets a user's pending-fine flag. Staff only.
func (s *Service) ClearFine(ctx context.Context, executor user.Role, id string) (user.User, error) {
	if !executor.HasPermission(user.PermViewAllFines) && !executor.HasPermission(user.PermManageUsers) {
		return user.User{}, core.NewAccessDeniedError("clear fine", string(executor), "")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	if !u.HasPendingFine {
		return u, nil
	}
	u.HasPendingFine = false
	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", id).Info("pending fine cleared")
	return updated, nil
}

// UpdateLoanLimit sets a role's concurrent-loan limit override. Only ADMIN
// may change limits; the limit must be non-negative.
func (s *Service) UpdateLoanLimit(ctx context.Context, executor user.Role, target user.Role, limit int) error {
	if !executor.HasPermission(user.PermModifyLimits) {
		return core.NewAccessDeniedError("update loan limit", string(executor), "")
	}
	if !target.Valid() {
		return core.NewValidationError("role", "must be one of ADMIN, LIBRARIAN, MEMBER")
	}
	if limit < 0 {
		return core.NewValidationError("limit", "must not be negative")
	}
	if err := s.config.SetLoanLimit(ctx, loan.LimitConfig{Role: target, MaxLoans: limit}); err != nil {
		return err
	}
	s.log.WithField("role", string(target)).
		WithField("limit", limit).
		Info("loan limit updated")
	return nil
}
