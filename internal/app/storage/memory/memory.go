package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	books        map[string]book.Book
	booksByISBN  map[string]string
	users        map[string]user.User
	usersByEmail map[string]string
	loans        map[string]loan.Loan
	loanLimits   map[user.Role]int
}

var _ storage.BookStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		books:        make(map[string]book.Book),
		booksByISBN:  make(map[string]string),
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		loans:        make(map[string]loan.Loan),
		loanLimits:   make(map[user.Role]int),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// BookStore implementation ---------------------------------------------------

func (s *Store) CreateBook(_ context.Context, b book.Book) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = s.nextIDLocked()
	} else if _, exists := s.books[b.ID]; exists {
		return book.Book{}, fmt.Errorf("book %s already exists", b.ID)
	}

	isbnKey := strings.TrimSpace(b.ISBN)
	if isbnKey != "" {
		if existing, exists := s.booksByISBN[isbnKey]; exists {
			return book.Book{}, fmt.Errorf("isbn %s already assigned to book %s", b.ISBN, existing)
		}
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.books[b.ID] = b
	if isbnKey != "" {
		s.booksByISBN[isbnKey] = b.ID
	}
	return b, nil
}

func (s *Store) UpdateBook(_ context.Context, b book.Book) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.books[b.ID]
	if !ok {
		return book.Book{}, core.NewNotFoundError("book", b.ID)
	}

	oldKey := strings.TrimSpace(original.ISBN)
	newKey := strings.TrimSpace(b.ISBN)
	if newKey != "" {
		if existing, exists := s.booksByISBN[newKey]; exists && existing != b.ID {
			return book.Book{}, fmt.Errorf("isbn %s already assigned to book %s", b.ISBN, existing)
		}
	}

	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	s.books[b.ID] = b
	if oldKey != "" && oldKey != newKey {
		delete(s.booksByISBN, oldKey)
	}
	if newKey != "" {
		s.booksByISBN[newKey] = b.ID
	}
	return b, nil
}

func (s *Store) GetBook(_ context.Context, id string) (book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[id]
	if !ok {
		return book.Book{}, core.NewNotFoundError("book", id)
	}
	return b, nil
}

func (s *Store) GetBookByISBN(_ context.Context, isbn string) (book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.booksByISBN[strings.TrimSpace(isbn)]; ok {
		return s.books[id], nil
	}
	return book.Book{}, core.NewNotFoundError("book", isbn)
}

func (s *Store) ListBooks(_ context.Context) ([]book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]book.Book, 0, len(s.books))
	for _, b := range s.books {
		result = append(result, b)
	}
	return result, nil
}

func (s *Store) AddCopies(_ context.Context, isbn string, n int) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		return book.Book{}, core.NewValidationError("copies", "must be positive")
	}
	id, ok := s.booksByISBN[strings.TrimSpace(isbn)]
	if !ok {
		return book.Book{}, core.NewNotFoundError("book", isbn)
	}

	b := s.books[id]
	b.TotalCopies += n
	b.AvailableCopies += n
	b.UpdatedAt = time.Now().UTC()
	s.books[id] = b
	return b, nil
}

func (s *Store) AdjustAvailableCopies(_ context.Context, id string, delta int) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[id]
	if !ok {
		return book.Book{}, core.NewNotFoundError("book", id)
	}

	adjusted := b.AvailableCopies + delta
	if adjusted < 0 {
		return book.Book{}, core.NewConflictError("book", id, "no available copies")
	}
	if adjusted > b.TotalCopies {
		return book.Book{}, core.NewConflictError("book", id, "available copies cannot exceed total copies")
	}

	b.AvailableCopies = adjusted
	b.UpdatedAt = time.Now().UTC()
	s.books[id] = b
	return b, nil
}

// UserStore implementation ---------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}

	emailKey := strings.ToLower(strings.TrimSpace(u.Email))
	if emailKey != "" {
		if existing, exists := s.usersByEmail[emailKey]; exists {
			return user.User{}, fmt.Errorf("email %s already assigned to user %s", u.Email, existing)
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	if emailKey != "" {
		s.usersByEmail[emailKey] = u.ID
	}
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, core.NewNotFoundError("user", u.ID)
	}

	oldKey := strings.ToLower(strings.TrimSpace(original.Email))
	newKey := strings.ToLower(strings.TrimSpace(u.Email))
	if newKey != "" {
		if existing, exists := s.usersByEmail[newKey]; exists && existing != u.ID {
			return user.User{}, fmt.Errorf("email %s already assigned to user %s", u.Email, existing)
		}
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = u
	if oldKey != "" && oldKey != newKey {
		delete(s.usersByEmail, oldKey)
	}
	if newKey != "" {
		s.usersByEmail[newKey] = u.ID
	}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, core.NewNotFoundError("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		return s.users[id], nil
	}
	return user.User{}, core.NewNotFoundError("user", email)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	return result, nil
}

func (s *Store) ListUsersByRole(_ context.Context, role user.Role) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0)
	for _, u := range s.users {
		if u.Role == role {
			result = append(result, u)
		}
	}
	return result, nil
}

// LoanStore implementation ---------------------------------------------------

func (s *Store) CreateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = s.nextIDLocked()
	} else if _, exists := s.loans[l.ID]; exists {
		return loan.Loan{}, fmt.Errorf("loan %s already exists", l.ID)
	}

	s.loans[l.ID] = cloneLoan(l)
	return cloneLoan(l), nil
}

func (s *Store) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, core.NewNotFoundError("loan", id)
	}
	return cloneLoan(l), nil
}

func (s *Store) ListLoans(_ context.Context) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0, len(s.loans))
	for _, l := range s.loans {
		result = append(result, cloneLoan(l))
	}
	return result, nil
}

func (s *Store) ListActiveLoans(_ context.Context) ([]loan.Loan, error) {
	return s.listByStatus(loan.StatusActive), nil
}

func (s *Store) ListOverdueLoans(_ context.Context) ([]loan.Loan, error) {
	return s.listByStatus(loan.StatusOverdue), nil
}

func (s *Store) listByStatus(status loan.Status) []loan.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, l := range s.loans {
		if l.Status == status {
			result = append(result, cloneLoan(l))
		}
	}
	return result
}

func (s *Store) ListLoansByUser(_ context.Context, userID string) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, l := range s.loans {
		if l.UserID == userID {
			result = append(result, cloneLoan(l))
		}
	}
	return result, nil
}

func (s *Store) ListOutstandingByUser(_ context.Context, userID string) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loan.Loan, 0)
	for _, l := range s.loans {
		if l.UserID == userID && l.Outstanding() {
			result = append(result, cloneLoan(l))
		}
	}
	return result, nil
}

func (s *Store) SetLoanStatus(_ context.Context, id string, status loan.Status) (loan.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, core.NewNotFoundError("loan", id)
	}

	l.Status = status
	if status == loan.StatusReturned {
		now := time.Now().UTC()
		l.ReturnDate = &now
	} else {
		l.ReturnDate = nil
	}

	s.loans[id] = l
	return cloneLoan(l), nil
}

// ConfigStore implementation -------------------------------------------------

func (s *Store) GetLoanLimit(_ context.Context, role user.Role) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit, ok := s.loanLimits[role]
	return limit, ok, nil
}

func (s *Store) SetLoanLimit(_ context.Context, cfg loan.LimitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loanLimits[cfg.Role] = cfg.MaxLoans
	return nil
}

// Helpers --------------------------------------------------------------------

func cloneLoan(l loan.Loan) loan.Loan {
	if l.ReturnDate != nil {
		returned := *l.ReturnDate
		l.ReturnDate = &returned
	}
	return l
}
