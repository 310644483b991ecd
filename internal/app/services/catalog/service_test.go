package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/storage/memory"
)

func TestAddBook_NewTitle(t *testing.T) {
	svc := New(memory.New(), nil)

	b, err := svc.AddBook(context.Background(), AddBookInput{
		Title:  "The Go Programming Language",
		Author: "Donovan & Kernighan",
		ISBN:   "978-0134190440",
		Copies: 3,
	})
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	if b.ID == "" {
		t.Fatal("expected generated book ID")
	}
	if b.TotalCopies != 3 || b.AvailableCopies != 3 {
		t.Fatalf("expected 3/3 copies, got %d/%d", b.AvailableCopies, b.TotalCopies)
	}
}

func TestAddBook_ExistingISBNAddsCopies(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	first, err := svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Herbert", ISBN: "978-0441172719", Copies: 2})
	if err != nil {
		t.Fatalf("first intake: %v", err)
	}

	// One copy is on loan when the second intake arrives.
	if _, err := store.AdjustAvailableCopies(ctx, first.ID, -1); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	second, err := svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Herbert", ISBN: "978-0441172719", Copies: 3})
	if err != nil {
		t.Fatalf("second intake: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same record, got %s and %s", first.ID, second.ID)
	}
	if second.TotalCopies != 5 {
		t.Fatalf("expected 5 total copies, got %d", second.TotalCopies)
	}
	if second.AvailableCopies != 4 {
		t.Fatalf("expected 4 available copies, got %d", second.AvailableCopies)
	}
}

func TestAddBook_ConcurrentWithBorrows(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	first, err := svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Herbert", ISBN: "978-0441172719", Copies: 2})
	if err != nil {
		t.Fatalf("seed intake: %v", err)
	}

	// Intakes and borrows race; every borrow that succeeds must stay
	// subtracted from the available count.
	const intakes = 4
	const borrows = 4
	var wg sync.WaitGroup
	var borrowed int32
	for i := 0; i < intakes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Herbert", ISBN: "978-0441172719", Copies: 1}); err != nil {
				t.Errorf("intake: %v", err)
			}
		}()
	}
	for i := 0; i < borrows; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustAvailableCopies(ctx, first.ID, -1); err == nil {
				atomic.AddInt32(&borrowed, 1)
			}
		}()
	}
	wg.Wait()

	got, err := store.GetBook(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalCopies != 2+intakes {
		t.Fatalf("expected %d total copies, got %d", 2+intakes, got.TotalCopies)
	}
	want := got.TotalCopies - int(borrowed)
	if got.AvailableCopies != want {
		t.Fatalf("expected %d available after %d borrows, got %d", want, borrowed, got.AvailableCopies)
	}
}

func TestAddBook_Validation(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		in   AddBookInput
	}{
		{"missing title", AddBookInput{Author: "a", ISBN: "i", Copies: 1}},
		{"missing author", AddBookInput{Title: "t", ISBN: "i", Copies: 1}},
		{"missing isbn", AddBookInput{Title: "t", Author: "a", Copies: 1}},
		{"zero copies", AddBookInput{Title: "t", Author: "a", ISBN: "i", Copies: 0}},
		{"negative copies", AddBookInput{Title: "t", Author: "a", ISBN: "i", Copies: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddBook(ctx, tc.in); !core.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetBook_NotFound(t *testing.T) {
	svc := New(memory.New(), nil)

	_, err := svc.GetBook(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchBooks(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	seed := []AddBookInput{
		{Title: "Dune", Author: "Frank Herbert", ISBN: "1", Copies: 1},
		{Title: "Dune Messiah", Author: "Frank Herbert", ISBN: "2", Copies: 1},
		{Title: "Neuromancer", Author: "William Gibson", ISBN: "3", Copies: 1},
	}
	for _, in := range seed {
		if _, err := svc.AddBook(ctx, in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byTitle, err := svc.SearchBooks(ctx, "dune")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byTitle) != 2 {
		t.Fatalf("expected 2 matches for %q, got %d", "dune", len(byTitle))
	}

	byAuthor, err := svc.SearchBooks(ctx, "gibson")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byAuthor) != 1 {
		t.Fatalf("expected 1 match for %q, got %d", "gibson", len(byAuthor))
	}

	all, err := svc.SearchBooks(ctx, "  ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected whole catalog for blank query, got %d", len(all))
	}
}
