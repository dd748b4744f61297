package circulation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/circulation/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// stepClock is a mutable clock the tests advance between operations.
type stepClock struct {
	at time.Time
}

func (c *stepClock) Now() time.Time { return c.at }

func (c *stepClock) advanceDays(n int) { c.at = c.at.AddDate(0, 0, n) }

func march1() time.Time {
	return time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
}

func testBook(copies int) *circulation.Book {
	return &circulation.Book{
		ID:              "book-1",
		Title:           "The Go Programming Language",
		Author:          "Donovan & Kernighan",
		ISBN:            "978-0134190440",
		Price:           decimal.NewFromFloat(39.99),
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
}

func testUser(id circulation.UserID) *circulation.User {
	return &circulation.User{ID: id, Username: string(id), Role: "MEMBER", Enabled: true}
}

// newTestEngine seeds one book and one user and returns an engine running on
// the given clock with default policy.
func newTestEngine(t *testing.T, clock circulation.Clock, copies int) (*circulation.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	mem.AddBook(testBook(copies))
	mem.AddUser(testUser("alice"))
	mem.AddUser(testUser("bob"))

	engine, err := circulation.NewEngine(mem, circulation.DefaultPolicy(), circulation.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, mem
}

func getBook(t *testing.T, mem *store.Memory, id circulation.BookID) *circulation.Book {
	t.Helper()
	book, err := mem.Catalog().GetBook(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	return book
}

// =============================================================================
// BORROW TESTS
// =============================================================================

func TestBorrow_CreatesLoanAndDecrementsCopies(t *testing.T) {
	// GIVEN: A book with 3 copies on the shelf
	// WHEN: A user borrows it
	// THEN: A Borrowed record exists with due date 30 days out, and 2 copies remain

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 3)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Status != circulation.StatusBorrowed {
		t.Errorf("expected status %s, got %s", circulation.StatusBorrowed, record.Status)
	}
	wantDue := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	if !record.DueDate.Equal(wantDue) {
		t.Errorf("expected due date %v, got %v", wantDue, record.DueDate)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 2 {
		t.Errorf("expected 2 available copies, got %d", got)
	}
}

func TestBorrow_NoStock(t *testing.T) {
	// GIVEN: A book with a single copy, already out
	// WHEN: A second user tries to borrow it
	// THEN: The borrow fails with a no-stock error and nothing changes

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	if _, err := engine.Borrow(ctx, "alice", "book-1"); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}

	_, err := engine.Borrow(ctx, "bob", "book-1")
	if !errors.Is(err, circulation.ErrNoStock) {
		t.Fatalf("expected ErrNoStock, got %v", err)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 0 {
		t.Errorf("expected 0 available copies, got %d", got)
	}
}

func TestBorrow_DuplicateLoanRejected(t *testing.T) {
	// GIVEN: Alice already has an active loan for the book
	// WHEN: She borrows the same book again
	// THEN: The borrow fails and the copy count is untouched

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 3)

	if _, err := engine.Borrow(ctx, "alice", "book-1"); err != nil {
		t.Fatalf("first borrow failed: %v", err)
	}

	_, err := engine.Borrow(ctx, "alice", "book-1")
	if !errors.Is(err, circulation.ErrAlreadyBorrowed) {
		t.Fatalf("expected ErrAlreadyBorrowed, got %v", err)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 2 {
		t.Errorf("expected 2 available copies after rollback, got %d", got)
	}
}

func TestBorrow_LoanLimitEnforcedWithRollback(t *testing.T) {
	// GIVEN: Alice is at the 5-loan limit
	// WHEN: She borrows a sixth book
	// THEN: The borrow fails with the limit error and the sixth book's copy
	//       count is unchanged (full rollback)

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	mem := store.NewMemory()
	mem.AddUser(testUser("alice"))
	for i := 0; i < 6; i++ {
		book := testBook(1)
		book.ID = circulation.BookID(string(rune('a' + i)))
		mem.AddBook(book)
	}
	engine, err := circulation.NewEngine(mem, circulation.DefaultPolicy(), circulation.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		id := circulation.BookID(string(rune('a' + i)))
		if _, err := engine.Borrow(ctx, "alice", id); err != nil {
			t.Fatalf("borrow %d failed: %v", i, err)
		}
	}

	_, err = engine.Borrow(ctx, "alice", "f")
	if !errors.Is(err, circulation.ErrLoanLimitExceeded) {
		t.Fatalf("expected ErrLoanLimitExceeded, got %v", err)
	}

	var limitErr *circulation.LoanLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected structured LoanLimitError, got %T", err)
	}
	if limitErr.Active != 5 || limitErr.Limit != 5 {
		t.Errorf("expected active=5 limit=5, got active=%d limit=%d", limitErr.Active, limitErr.Limit)
	}
	if got := getBook(t, mem, "f").AvailableCopies; got != 1 {
		t.Errorf("expected book f untouched at 1 copy, got %d", got)
	}
}

func TestBorrow_UnknownUserOrBook(t *testing.T) {
	// GIVEN: A seeded store
	// WHEN: Borrowing with an unknown user or unknown book
	// THEN: Both fail with a not-found error

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	if _, err := engine.Borrow(ctx, "nobody", "book-1"); !circulation.IsNotFound(err) {
		t.Errorf("expected not-found for unknown user, got %v", err)
	}
	if _, err := engine.Borrow(ctx, "alice", "no-such-book"); !circulation.IsNotFound(err) {
		t.Errorf("expected not-found for unknown book, got %v", err)
	}
}

// =============================================================================
// RETURN TESTS
// =============================================================================

func TestReturn_OnTime_NoFine(t *testing.T) {
	// GIVEN: An active loan returned before the due date
	// WHEN: The book is returned
	// THEN: The receipt shows a zero fine and the copy is back on the shelf

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(10)
	receipt, err := engine.Return(ctx, record.ID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if !receipt.Fine.IsZero() {
		t.Errorf("expected zero fine, got %v", receipt.Fine)
	}
	if receipt.OverdueDays != 0 {
		t.Errorf("expected 0 overdue days, got %d", receipt.OverdueDays)
	}
	if receipt.Record.Status != circulation.StatusReturned {
		t.Errorf("expected status %s, got %s", circulation.StatusReturned, receipt.Record.Status)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 1 {
		t.Errorf("expected 1 available copy, got %d", got)
	}
}

func TestReturn_FiveDaysLate_FineAccrues(t *testing.T) {
	// GIVEN: A loan due 30 days after borrow, returned 35 days after borrow
	// WHEN: The book is returned
	// THEN: The fine is 5 days at 0.50/day = 2.50

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(35)
	receipt, err := engine.Return(ctx, record.ID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if receipt.OverdueDays != 5 {
		t.Errorf("expected 5 overdue days, got %d", receipt.OverdueDays)
	}
	want := decimal.NewFromFloat(2.50)
	if !receipt.Fine.Equal(want) {
		t.Errorf("expected fine %v, got %v", want, receipt.Fine)
	}
}

func TestReturn_AfterOverdueSweep_FineBasisUnchanged(t *testing.T) {
	// GIVEN: A loan the overdue sweep already flipped to Overdue
	// WHEN: The book finally comes back 40 days after borrow
	// THEN: The fine still derives from the original due date (10 days late)

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(35)
	if n, err := engine.SweepOverdue(ctx); err != nil || n != 1 {
		t.Fatalf("expected sweep to flip 1 record, got n=%d err=%v", n, err)
	}

	clock.advanceDays(5)
	receipt, err := engine.Return(ctx, record.ID)
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if receipt.OverdueDays != 10 {
		t.Errorf("expected 10 overdue days, got %d", receipt.OverdueDays)
	}
	want := decimal.NewFromFloat(5.00)
	if !receipt.Fine.Equal(want) {
		t.Errorf("expected fine %v, got %v", want, receipt.Fine)
	}
}

func TestReturn_Twice_Rejected(t *testing.T) {
	// GIVEN: A loan that was already returned
	// WHEN: The same record is returned again
	// THEN: The second return fails and the copy count stays correct

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Return(ctx, record.ID); err != nil {
		t.Fatalf("first return failed: %v", err)
	}

	_, err = engine.Return(ctx, record.ID)
	if !errors.Is(err, circulation.ErrAlreadyReturned) {
		t.Fatalf("expected ErrAlreadyReturned, got %v", err)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 1 {
		t.Errorf("expected 1 available copy, got %d", got)
	}
}

func TestReturn_NotifiesReservationQueue(t *testing.T) {
	// GIVEN: Bob holds a reservation for the only copy, currently out to Alice
	// WHEN: Alice returns the book
	// THEN: The availability hook fires once for that book

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	mem := store.NewMemory()
	mem.AddBook(testBook(1))
	mem.AddUser(testUser("alice"))
	mem.AddUser(testUser("bob"))

	var notified []circulation.BookID
	engine, err := circulation.NewEngine(mem, circulation.DefaultPolicy(),
		circulation.WithClock(clock),
		circulation.WithAvailabilityHook(func(_ context.Context, id circulation.BookID) error {
			notified = append(notified, id)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Reserve(ctx, "bob", "book-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if _, err := engine.Return(ctx, record.ID); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	if len(notified) != 1 || notified[0] != "book-1" {
		t.Errorf("expected one notification for book-1, got %v", notified)
	}
}

func TestReturn_HookFailureDoesNotFailReturn(t *testing.T) {
	// GIVEN: An availability hook that always errors
	// WHEN: A reserved book is returned
	// THEN: The return still succeeds; the hook failure is swallowed

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	mem := store.NewMemory()
	mem.AddBook(testBook(1))
	mem.AddUser(testUser("alice"))
	mem.AddUser(testUser("bob"))

	engine, err := circulation.NewEngine(mem, circulation.DefaultPolicy(),
		circulation.WithClock(clock),
		circulation.WithAvailabilityHook(func(context.Context, circulation.BookID) error {
			return errors.New("smtp down")
		}),
	)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Reserve(ctx, "bob", "book-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	receipt, err := engine.Return(ctx, record.ID)
	if err != nil {
		t.Fatalf("return should succeed despite hook failure, got %v", err)
	}
	if receipt.Record.Status != circulation.StatusReturned {
		t.Errorf("expected status %s, got %s", circulation.StatusReturned, receipt.Record.Status)
	}
}

// =============================================================================
// RENEW TESTS
// =============================================================================

func TestRenew_WithinWindow_ExtendsDueDate(t *testing.T) {
	// GIVEN: An active loan 10 days in
	// WHEN: The loan is renewed
	// THEN: The due date moves out 15 days and the renewal count increments

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	originalDue := record.DueDate

	clock.advanceDays(10)
	renewed, err := engine.Renew(ctx, record.ID)
	if err != nil {
		t.Fatalf("renew failed: %v", err)
	}

	wantDue := originalDue.AddDate(0, 0, 15)
	if !renewed.DueDate.Equal(wantDue) {
		t.Errorf("expected due date %v, got %v", wantDue, renewed.DueDate)
	}
	if renewed.RenewalCount != 1 {
		t.Errorf("expected renewal count 1, got %d", renewed.RenewalCount)
	}
}

func TestRenew_LimitReached(t *testing.T) {
	// GIVEN: A loan already renewed once (the policy maximum)
	// WHEN: Renewing again
	// THEN: The renewal fails with the limit error

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Renew(ctx, record.ID); err != nil {
		t.Fatalf("first renew failed: %v", err)
	}

	_, err = engine.Renew(ctx, record.ID)
	if !errors.Is(err, circulation.ErrRenewalLimitExceeded) {
		t.Fatalf("expected ErrRenewalLimitExceeded, got %v", err)
	}
}

func TestRenew_TenDaysLate_OutsideGrace(t *testing.T) {
	// GIVEN: A loan 10 days past due with a 7 day grace window
	// WHEN: Renewing
	// THEN: The renewal fails with the window error

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(40)
	_, err = engine.Renew(ctx, record.ID)
	if !errors.Is(err, circulation.ErrRenewalWindowExceeded) {
		t.Fatalf("expected ErrRenewalWindowExceeded, got %v", err)
	}
}

func TestRenew_ThreeDaysLate_InsideGrace_ClearsOverdue(t *testing.T) {
	// GIVEN: A loan 3 days past due that the sweep flipped to Overdue
	// WHEN: Renewing inside the 7 day grace window
	// THEN: The renewal succeeds and the record returns to Borrowed

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(33)
	if _, err := engine.SweepOverdue(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	renewed, err := engine.Renew(ctx, record.ID)
	if err != nil {
		t.Fatalf("renew inside grace failed: %v", err)
	}
	if renewed.Status != circulation.StatusBorrowed {
		t.Errorf("expected status %s after renewal, got %s", circulation.StatusBorrowed, renewed.Status)
	}
}

func TestRenew_ReturnedLoan_Rejected(t *testing.T) {
	// GIVEN: A loan that was already returned
	// WHEN: Renewing it
	// THEN: The renewal fails with an invalid-state error

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Return(ctx, record.ID); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	_, err = engine.Renew(ctx, record.ID)
	if !errors.Is(err, circulation.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// =============================================================================
// RESERVATION TESTS
// =============================================================================

func TestReserve_SetsHoldWindow(t *testing.T) {
	// GIVEN: A book with no copies available
	// WHEN: Bob reserves it
	// THEN: A Reserved record exists expiring 3 days out, and stock is untouched

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	if _, err := engine.Borrow(ctx, "alice", "book-1"); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if reservation.Status != circulation.StatusReserved {
		t.Errorf("expected status %s, got %s", circulation.StatusReserved, reservation.Status)
	}
	wantExpiry := time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC)
	if !reservation.ReservationExpiry.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, reservation.ReservationExpiry)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 0 {
		t.Errorf("reserve must not touch stock, got %d copies", got)
	}
}

func TestReserve_WhileBorrowed_Rejected(t *testing.T) {
	// GIVEN: Alice has the book on loan
	// WHEN: She also tries to reserve it
	// THEN: The reservation is rejected

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 2)

	if _, err := engine.Borrow(ctx, "alice", "book-1"); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	_, err := engine.Reserve(ctx, "alice", "book-1")
	if !errors.Is(err, circulation.ErrAlreadyReservedOrBorrowed) {
		t.Fatalf("expected ErrAlreadyReservedOrBorrowed, got %v", err)
	}
}

func TestReserve_Twice_Rejected(t *testing.T) {
	// GIVEN: Bob already holds a valid reservation
	// WHEN: He reserves the same book again
	// THEN: The second reservation is rejected

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	if _, err := engine.Reserve(ctx, "bob", "book-1"); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}

	_, err := engine.Reserve(ctx, "bob", "book-1")
	if !errors.Is(err, circulation.ErrAlreadyReservedOrBorrowed) {
		t.Fatalf("expected ErrAlreadyReservedOrBorrowed, got %v", err)
	}
}

func TestBorrow_PromotesReservationInPlace(t *testing.T) {
	// GIVEN: Bob holds a valid reservation and a copy is on the shelf
	// WHEN: Bob borrows within the hold window
	// THEN: The reservation record itself becomes the loan: same id,
	//       reservation fields cleared, loan fields set, one decrement

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	clock.advanceDays(1)
	loan, err := engine.Borrow(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	if loan.ID != reservation.ID {
		t.Errorf("expected promotion in place, got new record %s (reservation was %s)", loan.ID, reservation.ID)
	}
	if loan.Status != circulation.StatusBorrowed {
		t.Errorf("expected status %s, got %s", circulation.StatusBorrowed, loan.Status)
	}
	if !loan.ReservedAt.IsZero() || !loan.ReservationExpiry.IsZero() {
		t.Errorf("expected reservation fields cleared, got reservedAt=%v expiry=%v", loan.ReservedAt, loan.ReservationExpiry)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 0 {
		t.Errorf("expected exactly one decrement, got %d copies", got)
	}
}

func TestBorrow_LapsedReservation_ExpiredAndBorrowProceeds(t *testing.T) {
	// GIVEN: Bob's reservation lapsed 2 days ago but a copy is on the shelf
	// WHEN: Bob borrows
	// THEN: The old reservation is marked expired and a fresh loan record is created

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	clock.advanceDays(5)
	loan, err := engine.Borrow(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	if loan.ID == reservation.ID {
		t.Error("lapsed reservation must not be promoted")
	}
	old, err := mem.Ledger().Get(ctx, reservation.ID)
	if err != nil {
		t.Fatalf("ledger get failed: %v", err)
	}
	if old.Status != circulation.StatusReservationExpired {
		t.Errorf("expected old reservation %s, got %s", circulation.StatusReservationExpired, old.Status)
	}
}

func TestCancelReservation_OwnerOnly(t *testing.T) {
	// GIVEN: Bob's reservation
	// WHEN: Alice cancels it without override, then with override
	// THEN: The first attempt is forbidden, the second succeeds

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	_, err = engine.CancelReservation(ctx, "alice", reservation.ID, false)
	if !errors.Is(err, circulation.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	canceled, err := engine.CancelReservation(ctx, "alice", reservation.ID, true)
	if err != nil {
		t.Fatalf("override cancel failed: %v", err)
	}
	if canceled.Status != circulation.StatusReservationCanceled {
		t.Errorf("expected status %s, got %s", circulation.StatusReservationCanceled, canceled.Status)
	}
}

func TestCancelReservation_NonReservedRecord_Rejected(t *testing.T) {
	// GIVEN: An active loan record
	// WHEN: Cancelling it as a reservation
	// THEN: The cancel fails with an invalid-state error

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	_, err = engine.CancelReservation(ctx, "alice", record.ID, false)
	if !errors.Is(err, circulation.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// =============================================================================
// LOST / DAMAGED TESTS
// =============================================================================

func TestMarkLost_ShrinksStockedTotal(t *testing.T) {
	// GIVEN: Alice has one of 3 copies on loan
	// WHEN: The copy is marked lost
	// THEN: The stocked total drops to 2 and available stays at 2

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 3)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	lost, err := engine.MarkLost(ctx, record.ID)
	if err != nil {
		t.Fatalf("mark lost failed: %v", err)
	}
	if lost.Status != circulation.StatusLost {
		t.Errorf("expected status %s, got %s", circulation.StatusLost, lost.Status)
	}

	book := getBook(t, mem, "book-1")
	if book.TotalCopies != 2 || book.AvailableCopies != 2 {
		t.Errorf("expected total=2 available=2, got total=%d available=%d", book.TotalCopies, book.AvailableCopies)
	}
}

func TestMarkDamaged_OnReturnedLoan_Rejected(t *testing.T) {
	// GIVEN: A loan already returned
	// WHEN: Marking it damaged
	// THEN: The transition is rejected

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, _ := newTestEngine(t, clock, 1)

	record, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	if _, err := engine.Return(ctx, record.ID); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	_, err = engine.MarkDamaged(ctx, record.ID)
	if !errors.Is(err, circulation.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// =============================================================================
// SWEEP TESTS
// =============================================================================

func TestSweepOverdue_FlipsPastDueAndIsIdempotent(t *testing.T) {
	// GIVEN: One loan past due, one loan current
	// WHEN: The overdue sweep runs twice
	// THEN: The first run flips exactly one record; the second flips none

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	mem := store.NewMemory()
	mem.AddUser(testUser("alice"))
	mem.AddUser(testUser("bob"))
	early := testBook(1)
	early.ID = "early"
	late := testBook(1)
	late.ID = "late"
	mem.AddBook(early)
	mem.AddBook(late)

	engine, err := circulation.NewEngine(mem, circulation.DefaultPolicy(), circulation.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	overdueLoan, err := engine.Borrow(ctx, "alice", "early")
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	clock.advanceDays(20)
	if _, err := engine.Borrow(ctx, "bob", "late"); err != nil {
		t.Fatalf("borrow failed: %v", err)
	}

	clock.advanceDays(15) // first loan now 5 days past due, second well inside
	n, err := engine.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record flipped, got %d", n)
	}

	flipped, err := mem.Ledger().Get(ctx, overdueLoan.ID)
	if err != nil {
		t.Fatalf("ledger get failed: %v", err)
	}
	if flipped.Status != circulation.StatusOverdue {
		t.Errorf("expected status %s, got %s", circulation.StatusOverdue, flipped.Status)
	}

	n, err = engine.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected idempotent second sweep, got %d", n)
	}
}

func TestSweepReservations_ExpiresLapsedHolds(t *testing.T) {
	// GIVEN: A reservation whose 3 day hold window lapsed
	// WHEN: The reservation sweep runs
	// THEN: The record flips to ReservationExpired; a second run flips nothing

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	clock.advanceDays(5)
	n, err := engine.SweepReservations(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reservation expired, got %d", n)
	}

	expired, err := mem.Ledger().Get(ctx, reservation.ID)
	if err != nil {
		t.Fatalf("ledger get failed: %v", err)
	}
	if expired.Status != circulation.StatusReservationExpired {
		t.Errorf("expected status %s, got %s", circulation.StatusReservationExpired, expired.Status)
	}

	n, err = engine.SweepReservations(ctx)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected idempotent second sweep, got %d", n)
	}
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestScenario_ReserveThenPickupAfterReturn(t *testing.T) {
	// GIVEN: A single-copy book out to Alice, reserved by Bob
	// WHEN: Alice returns it and Bob borrows within his hold window
	// THEN: Bob's reservation converts to a loan in place and the net copy
	//       count works out to zero available, one stocked

	ctx := context.Background()
	clock := &stepClock{at: march1()}
	engine, mem := newTestEngine(t, clock, 1)

	aliceLoan, err := engine.Borrow(ctx, "alice", "book-1")
	if err != nil {
		t.Fatalf("alice borrow failed: %v", err)
	}

	// Bob cannot borrow; he reserves instead.
	if _, err := engine.Borrow(ctx, "bob", "book-1"); !errors.Is(err, circulation.ErrNoStock) {
		t.Fatalf("expected ErrNoStock for bob, got %v", err)
	}
	reservation, err := engine.Reserve(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("bob reserve failed: %v", err)
	}

	clock.advanceDays(1)
	if _, err := engine.Return(ctx, aliceLoan.ID); err != nil {
		t.Fatalf("alice return failed: %v", err)
	}
	if got := getBook(t, mem, "book-1").AvailableCopies; got != 1 {
		t.Fatalf("expected 1 copy back on shelf, got %d", got)
	}

	clock.advanceDays(1)
	bobLoan, err := engine.Borrow(ctx, "bob", "book-1")
	if err != nil {
		t.Fatalf("bob borrow failed: %v", err)
	}

	if bobLoan.ID != reservation.ID {
		t.Errorf("expected bob's reservation promoted in place")
	}
	book := getBook(t, mem, "book-1")
	if book.TotalCopies != 1 || book.AvailableCopies != 0 {
		t.Errorf("expected total=1 available=0, got total=%d available=%d", book.TotalCopies, book.AvailableCopies)
	}

	history, err := engine.History(ctx, "bob")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected one lifecycle record for bob, got %d", len(history))
	}
}
