package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.BookStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.LoanStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- BookStore --------------------------------------------------------------

const bookColumns = `id, title, author, isbn, total_copies, available_copies, created_at, updated_at`

func scanBook(row interface{ Scan(...any) error }) (book.Book, error) {
	var b book.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.TotalCopies, &b.AvailableCopies, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *Store) CreateBook(ctx context.Context, b book.Book) (book.Book, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, isbn, total_copies, available_copies, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.Title, b.Author, b.ISBN, b.TotalCopies, b.AvailableCopies, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	return b, nil
}

func (s *Store) UpdateBook(ctx context.Context, b book.Book) (book.Book, error) {
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE books
		SET title = $2, author = $3, isbn = $4, total_copies = $5, available_copies = $6, updated_at = $7
		WHERE id = $1
	`, b.ID, b.Title, b.Author, b.ISBN, b.TotalCopies, b.AvailableCopies, b.UpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return book.Book{}, core.NewNotFoundError("book", b.ID)
	}
	return b, nil
}

func (s *Store) GetBook(ctx context.Context, id string) (book.Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookColumns+` FROM books WHERE id = $1
	`, id)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, core.NewNotFoundError("book", id)
	}
	return b, err
}

func (s *Store) GetBookByISBN(ctx context.Context, isbn string) (book.Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookColumns+` FROM books WHERE isbn = $1
	`, isbn)

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, core.NewNotFoundError("book", isbn)
	}
	return b, err
}

func (s *Store) ListBooks(ctx context.Context) ([]book.Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookColumns+` FROM books ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []book.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// AddCopies raises both counts in one UPDATE so an intake landing next to a
// concurrent borrow cannot overwrite its decrement.
func (s *Store) AddCopies(ctx context.Context, isbn string, n int) (book.Book, error) {
	if n <= 0 {
		return book.Book{}, core.NewValidationError("copies", "must be positive")
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE books
		SET total_copies = total_copies + $2, available_copies = available_copies + $2, updated_at = $3
		WHERE isbn = $1
		RETURNING `+bookColumns+`
	`, isbn, n, time.Now().UTC())

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return book.Book{}, core.NewNotFoundError("book", isbn)
	}
	return b, err
}

// AdjustAvailableCopies applies the delta with a single conditional UPDATE so
// concurrent adjustments cannot drive the count out of bounds.
func (s *Store) AdjustAvailableCopies(ctx context.Context, id string, delta int) (book.Book, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + $2, updated_at = $3
		WHERE id = $1
		  AND available_copies + $2 >= 0
		  AND available_copies + $2 <= total_copies
		RETURNING `+bookColumns+`
	`, id, delta, time.Now().UTC())

	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the book is missing or the guard rejected the delta.
		if _, getErr := s.GetBook(ctx, id); getErr != nil {
			return book.Book{}, getErr
		}
		if delta < 0 {
			return book.Book{}, core.NewConflictError("book", id, "no available copies")
		}
		return book.Book{}, core.NewConflictError("book", id, "available copies cannot exceed total copies")
	}
	return b, err
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, name, surname, email, password_hash, role, has_pending_fine, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.PasswordHash, &u.Role, &u.HasPendingFine, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, surname, email, password_hash, role, has_pending_fine, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Name, u.Surname, u.Email, u.PasswordHash, u.Role, u.HasPendingFine, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, surname = $3, email = $4, password_hash = $5, role = $6, has_pending_fine = $7, updated_at = $8
		WHERE id = $1
	`, u.ID, u.Name, u.Surname, u.Email, u.PasswordHash, u.Role, u.HasPendingFine, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, core.NewNotFoundError("user", u.ID)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, core.NewNotFoundError("user", id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)
	`, email)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, core.NewNotFoundError("user", email)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
}

func (s *Store) ListUsersByRole(ctx context.Context, role user.Role) ([]user.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at`, role)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// --- LoanStore --------------------------------------------------------------

const loanColumns = `id, book_id, user_id, loan_date, due_date, return_date, status`

func scanLoan(row interface{ Scan(...any) error }) (loan.Loan, error) {
	var (
		l        loan.Loan
		returned sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.BookID, &l.UserID, &l.LoanDate, &l.DueDate, &returned, &l.Status); err != nil {
		return loan.Loan{}, err
	}
	if returned.Valid {
		t := returned.Time
		l.ReturnDate = &t
	}
	return l, nil
}

func (s *Store) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	var returned sql.NullTime
	if l.ReturnDate != nil {
		returned = sql.NullTime{Time: *l.ReturnDate, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, book_id, user_id, loan_date, due_date, return_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.BookID, l.UserID, l.LoanDate, l.DueDate, returned, l.Status)
	if err != nil {
		return loan.Loan{}, err
	}
	return l, nil
}

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+loanColumns+` FROM loans WHERE id = $1
	`, id)

	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, core.NewNotFoundError("loan", id)
	}
	return l, err
}

func (s *Store) ListLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY loan_date`)
}

func (s *Store) ListActiveLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY loan_date`, loan.StatusActive)
}

func (s *Store) ListOverdueLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE status = $1 ORDER BY loan_date`, loan.StatusOverdue)
}

func (s *Store) ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY loan_date`, userID)
}

func (s *Store) ListOutstandingByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY loan_date
	`, userID, loan.StatusActive, loan.StatusOverdue)
}

func (s *Store) SetLoanStatus(ctx context.Context, id string, status loan.Status) (loan.Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE loans
		SET status = $2,
		    return_date = CASE WHEN $2 = $3 THEN $4 ELSE NULL END
		WHERE id = $1
		RETURNING `+loanColumns+`
	`, id, status, loan.StatusReturned, time.Now().UTC())

	l, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, core.NewNotFoundError("loan", id)
	}
	return l, err
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]loan.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// --- ConfigStore ------------------------------------------------------------

func (s *Store) GetLoanLimit(ctx context.Context, role user.Role) (int, bool, error) {
	var limit int
	err := s.db.QueryRowContext(ctx, `
		SELECT max_loans FROM loan_limits WHERE role = $1
	`, role).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return limit, true, nil
}

func (s *Store) SetLoanLimit(ctx context.Context, cfg loan.LimitConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loan_limits (role, max_loans, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (role) DO UPDATE SET max_loans = EXCLUDED.max_loans, updated_at = EXCLUDED.updated_at
	`, cfg.Role, cfg.MaxLoans, time.Now().UTC())
	return err
}
