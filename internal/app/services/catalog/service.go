// Package catalog manages the book inventory: intake of new titles and
// copies, lookups, and catalog browsing.
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/pkg/logger"
)

// AddBookInput describes an intake of copies. When the ISBN is already in
// the catalog the copies are added to the existing record; otherwise a new
// record is created.
type AddBookInput struct {
	Title  string
	Author string
	ISBN   string
	Copies int
}

// Service manages the book catalog.
type Service struct {
	books storage.BookStore
	log   *logger.Logger
}

// New constructs a catalog service.
func New(books storage.BookStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{books: books, log: log}
}

// AddBook registers an intake of copies. An intake for an ISBN already in
// the catalog raises both the total and the available count by the intake
// quantity; a new ISBN creates a fresh record with all copies available.
func (s *Service) AddBook(ctx context.Context, in AddBookInput) (book.Book, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	if in.Title == "" {
		return book.Book{}, core.RequiredError("title")
	}
	if in.Author == "" {
		return book.Book{}, core.RequiredError("author")
	}
	if in.ISBN == "" {
		return book.Book{}, core.RequiredError("isbn")
	}
	if in.Copies <= 0 {
		return book.Book{}, core.NewValidationError("copies", "must be positive")
	}

	// The store raises both counts in one write; a read-modify-write here
	// would let a concurrent borrow's decrement be overwritten.
	updated, err := s.books.AddCopies(ctx, in.ISBN, in.Copies)
	if err == nil {
		s.log.WithField("book_id", updated.ID).
			WithField("copies", in.Copies).
			Info("copies added to existing title")
		return updated, nil
	}
	if !core.IsNotFound(err) {
		return book.Book{}, err
	}

	created, err := s.books.CreateBook(ctx, book.Book{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Author:          in.Author,
		ISBN:            in.ISBN,
		TotalCopies:     in.Copies,
		AvailableCopies: in.Copies,
	})
	if err != nil {
		return book.Book{}, err
	}
	s.log.WithField("book_id", created.ID).
		WithField("copies", in.Copies).
		Info("title added to catalog")
	return created, nil
}

// GetBook returns a single book by ID.
func (s *Service) GetBook(ctx context.Context, id string) (book.Book, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return book.Book{}, core.RequiredError("book_id")
	}
	return s.books.GetBook(ctx, id)
}

// GetBookByISBN returns a single book by ISBN.
func (s *Service) GetBookByISBN(ctx context.Context, isbn string) (book.Book, error) {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return book.Book{}, core.RequiredError("isbn")
	}
	return s.books.GetBookByISBN(ctx, isbn)
}

// ListBooks returns the whole catalog.
func (s *Service) ListBooks(ctx context.Context) ([]book.Book, error) {
	return s.books.ListBooks(ctx)
}

// SearchBooks returns books whose title or author contains the query,
// case-insensitively. An empty query returns the whole catalog.
func (s *Service) SearchBooks(ctx context.Context, query string) ([]book.Book, error) {
	all, err := s.books.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all, nil
	}
	matched := make([]book.Book, 0, len(all))
	for _, b := range all {
		if strings.Contains(strings.ToLower(b.Title), query) ||
			strings.Contains(strings.ToLower(b.Author), query) {
			matched = append(matched, b)
		}
	}
	return matched, nil
}
