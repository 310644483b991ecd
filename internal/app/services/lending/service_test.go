package lending

import (
	"context"
	"sync"
	"testing"

	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/services/policy"
	"github.com/openshelf/library-service/internal/app/storage/memory"
)

func newService(store *memory.Store) *Service {
	return New(store, store, store, policy.New(store, nil), nil)
}

func seedMember(t *testing.T, store *memory.Store) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Name: "Ada", Surname: "Lovelace", Email: "ada@lib.io", Role: user.RoleMember})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedBook(t *testing.T, store *memory.Store, total, available int) book.Book {
	t.Helper()
	b, err := store.CreateBook(context.Background(), book.Book{Title: "Dune", Author: "Herbert", ISBN: "9780441013593", TotalCopies: total, AvailableCopies: available})
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return b
}

func TestCreateLoan_HappyPath(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 5, 5)

	created, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if created.Status != loan.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", created.Status)
	}
	if created.ReturnDate != nil {
		t.Fatal("new loan must have no return date")
	}
	if got, want := created.DueDate, created.LoanDate.Add(loan.Duration); !got.Equal(want) {
		t.Fatalf("due date %v, want loan date + 20 days (%v)", got, want)
	}

	gotBook, err := store.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if gotBook.AvailableCopies != 4 {
		t.Fatalf("expected 4 available copies, got %d", gotBook.AvailableCopies)
	}
}

func TestCreateLoan_Validation(t *testing.T) {
	svc := newService(memory.New())
	ctx := context.Background()

	if _, err := svc.CreateLoan(ctx, "", "b1"); !core.IsValidationError(err) {
		t.Fatalf("expected validation error for empty user id, got %v", err)
	}
	if _, err := svc.CreateLoan(ctx, "u1", ""); !core.IsValidationError(err) {
		t.Fatalf("expected validation error for empty book id, got %v", err)
	}
}

func TestCreateLoan_NotFound(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	b := seedBook(t, store, 1, 1)
	if _, err := svc.CreateLoan(ctx, "ghost", b.ID); !core.IsNotFound(err) {
		t.Fatalf("expected not found for missing user, got %v", err)
	}

	u := seedMember(t, store)
	if _, err := svc.CreateLoan(ctx, u.ID, "ghost"); !core.IsNotFound(err) {
		t.Fatalf("expected not found for missing book, got %v", err)
	}
}

func TestCreateLoan_NoAvailableCopies(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 3, 0)

	_, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := err.Error(); got != `book "`+b.ID+`": no available copies` {
		t.Fatalf("unexpected message: %s", got)
	}

	loans, _ := store.ListLoans(ctx)
	if len(loans) != 0 {
		t.Fatal("no loan record may be created when no copies are available")
	}
}

func TestCreateLoan_LimitReachedNoWrites(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 5, 5)

	// Default member limit is 2.
	for i := 0; i < 2; i++ {
		if _, err := svc.CreateLoan(ctx, u.ID, b.ID); err != nil {
			t.Fatalf("loan %d: %v", i+1, err)
		}
	}

	_, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict at limit, got %v", err)
	}

	loans, _ := store.ListLoans(ctx)
	if len(loans) != 2 {
		t.Fatalf("denied borrow must not write a loan, got %d loans", len(loans))
	}
	gotBook, _ := store.GetBook(ctx, b.ID)
	if gotBook.AvailableCopies != 3 {
		t.Fatalf("denied borrow must not touch copy counts, got %d", gotBook.AvailableCopies)
	}
}

func TestCreateLoan_OverdueLoansCountTowardLimit(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 5, 5)

	first, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if err != nil {
		t.Fatalf("first loan: %v", err)
	}
	if _, err := svc.CreateLoan(ctx, u.ID, b.ID); err != nil {
		t.Fatalf("second loan: %v", err)
	}

	// An overdue loan is still outstanding and counts toward the cap.
	if _, err := store.SetLoanStatus(ctx, first.ID, loan.StatusOverdue); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if _, err := svc.CreateLoan(ctx, u.ID, b.ID); !core.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateLoan_PendingFineVeto(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, user.User{Name: "Fin", Surname: "Ed", Email: "fin@lib.io", Role: user.RoleMember, HasPendingFine: true})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	b := seedBook(t, store, 1, 1)

	if _, err := svc.CreateLoan(ctx, u.ID, b.ID); !core.IsConflict(err) {
		t.Fatalf("expected conflict for fined user, got %v", err)
	}
}

func TestCreateLoan_ConcurrentLastCopy(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	b := seedBook(t, store, 1, 1)

	const n = 8
	users := make([]user.User, n)
	for i := range users {
		u, err := store.CreateUser(ctx, user.User{Name: "u", Surname: "n", Email: string(rune('a'+i)) + "@lib.io", Role: user.RoleMember})
		if err != nil {
			t.Fatalf("seed user %d: %v", i, err)
		}
		users[i] = u
	}

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(u user.User) {
			defer wg.Done()
			_, err := svc.CreateLoan(ctx, u.ID, b.ID)
			results <- err
		}(users[i])
	}
	wg.Wait()
	close(results)

	var successes, conflicts int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case core.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if successes != 1 || conflicts != n-1 {
		t.Fatalf("expected exactly 1 success and %d conflicts, got %d/%d", n-1, successes, conflicts)
	}

	gotBook, _ := store.GetBook(ctx, b.ID)
	if gotBook.AvailableCopies != 0 {
		t.Fatalf("expected 0 available copies, got %d", gotBook.AvailableCopies)
	}
	loans, _ := store.ListLoans(ctx)
	if len(loans) != 1 {
		t.Fatalf("expected exactly 1 loan record, got %d", len(loans))
	}
}

func TestEndLoan_HappyPathAndDoubleReturn(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 5, 5)

	created, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	returned, err := svc.EndLoan(ctx, created.ID)
	if err != nil {
		t.Fatalf("end loan: %v", err)
	}
	if returned.Status != loan.StatusReturned {
		t.Fatalf("expected RETURNED, got %s", returned.Status)
	}
	if returned.ReturnDate == nil {
		t.Fatal("returned loan must carry a return date")
	}

	gotBook, _ := store.GetBook(ctx, b.ID)
	if gotBook.AvailableCopies != 5 {
		t.Fatalf("expected copy restored to 5, got %d", gotBook.AvailableCopies)
	}

	// Second return is a conflict and must not increment again.
	_, err = svc.EndLoan(ctx, created.ID)
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict on double return, got %v", err)
	}
	gotBook, _ = store.GetBook(ctx, b.ID)
	if gotBook.AvailableCopies != 5 {
		t.Fatalf("double return must increment exactly once, got %d", gotBook.AvailableCopies)
	}
}

func TestEndLoan_OverdueLoanCompletes(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 1, 1)

	created, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	if _, err := store.SetLoanStatus(ctx, created.ID, loan.StatusOverdue); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}

	returned, err := svc.EndLoan(ctx, created.ID)
	if err != nil {
		t.Fatalf("returning an overdue loan must be legal: %v", err)
	}
	if returned.Status != loan.StatusReturned {
		t.Fatalf("expected RETURNED, got %s", returned.Status)
	}
}

func TestEndLoan_NotFound(t *testing.T) {
	svc := newService(memory.New())
	if _, err := svc.EndLoan(context.Background(), "ghost"); !core.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepairAvailableCopies(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	b := seedBook(t, store, 3, 3)
	u := seedMember(t, store)
	if _, err := svc.CreateLoan(ctx, u.ID, b.ID); err != nil {
		t.Fatalf("create loan: %v", err)
	}

	// Inject drift as if a crash had lost the decrement.
	drifted, _ := store.GetBook(ctx, b.ID)
	drifted.AvailableCopies = 3
	if _, err := store.UpdateBook(ctx, drifted); err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	repaired, err := svc.RepairAvailableCopies(ctx, b.ID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if repaired != 2 {
		t.Fatalf("expected recomputed count 2, got %d", repaired)
	}
}

func TestLoanInvariants(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()

	u := seedMember(t, store)
	b := seedBook(t, store, 2, 2)

	checkBook := func(step string) {
		t.Helper()
		got, err := store.GetBook(ctx, b.ID)
		if err != nil {
			t.Fatalf("%s: get book: %v", step, err)
		}
		if got.AvailableCopies < 0 || got.AvailableCopies > got.TotalCopies {
			t.Fatalf("%s: copy invariant violated: %d/%d", step, got.AvailableCopies, got.TotalCopies)
		}
	}

	created, err := svc.CreateLoan(ctx, u.ID, b.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	checkBook("after create")

	if _, err := svc.EndLoan(ctx, created.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	checkBook("after end")

	loans, _ := store.ListLoans(ctx)
	for _, l := range loans {
		returned := l.Status == loan.StatusReturned
		hasDate := l.ReturnDate != nil
		if returned != hasDate {
			t.Fatalf("return-date invariant violated: status=%s returnDate=%v", l.Status, l.ReturnDate)
		}
	}
}
