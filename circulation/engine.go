/*
engine.go - The borrowing/reservation engine

PURPOSE:
  Decision logic and orchestration for every loan lifecycle transition:
  borrow, return, renew, reserve, cancel-reservation, and the time-driven
  overdue/expiry sweeps. Each operation performs its full read-decide-write
  sequence inside one Store.WithTx call and returns either an updated
  record snapshot or a typed error from errors.go.

OPERATION FLOW (borrow):
  ┌───────────────────────────────────────────────────────────────────┐
  │                                                                   │
  │  Resolve user    Check stock,     Convert reservation   Decrement │
  │  and book   ──▶  limit, dupes ──▶ or create record  ──▶ copies    │
  │                                                                   │
  │          everything above commits or rolls back as one unit       │
  └───────────────────────────────────────────────────────────────────┘

RESERVATIONS:
  A reservation grants queue priority, not earmarked stock: reserve never
  touches the copy counter. When the holder borrows within the hold
  window, the reservation record itself is promoted to a loan in place -
  same id, reservation fields cleared, loan fields populated - so the
  history stays a single lifecycle instance.

TIME:
  The clock is injected. Due dates and expiries compare at calendar-day
  granularity (DateOf); fines derive from the original due date even
  after the overdue sweep has run.

CONCURRENCY:
  The engine holds no state of its own and never retries internally. The
  store's transaction isolation is what prevents two concurrent borrows
  of the last copy from both committing; on conflict the caller re-drives
  the whole operation from scratch.

SEE ALSO:
  - ledger.go: The persistence contracts
  - fine.go: Fine derivation for return receipts
  - status.go: The transition table
*/
package circulation

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine applies circulation policy to loan lifecycle transitions.
// Construct with NewEngine; the zero value is not usable.
type Engine struct {
	store       Store
	policy      Policy
	clock       Clock
	onAvailable AvailabilityHook
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithClock injects a time source. Defaults to the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithAvailabilityHook registers the callback fired after a return when
// the book's reservation queue is non-empty.
func WithAvailabilityHook(h AvailabilityHook) Option {
	return func(e *Engine) { e.onAvailable = h }
}

// NewEngine validates the policy and builds an engine.
func NewEngine(store Store, policy Policy, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	e := &Engine{
		store:  store,
		policy: policy,
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the policy the engine was constructed with.
func (e *Engine) Policy() Policy { return e.policy }

// =============================================================================
// BORROW
// =============================================================================

// Borrow lends a copy of the book to the user. A valid reservation held by
// the same user is promoted to a loan in place; an expired one is marked
// ReservationExpired and the borrow proceeds as if it never existed.
func (e *Engine) Borrow(ctx context.Context, userID UserID, bookID BookID) (*LoanRecord, error) {
	now := e.clock.Now()
	var result *LoanRecord

	err := e.store.WithTx(ctx, func(s Stores) error {
		if _, err := s.Users().GetUser(ctx, userID); err != nil {
			return err
		}
		book, err := s.Catalog().GetBook(ctx, bookID)
		if err != nil {
			return err
		}

		reservation, err := s.Ledger().FindActiveReservation(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if reservation != nil && !reservation.ActiveReservation(now) {
			// Hold window lapsed before pickup. Expire it and treat the
			// borrow as if no reservation existed.
			reservation.Status = StatusReservationExpired
			reservation.UpdatedAt = now
			if err := s.Ledger().Save(ctx, reservation); err != nil {
				return err
			}
			reservation = nil
		}

		if book.AvailableCopies <= 0 && reservation == nil {
			return &NoStockError{BookID: book.ID, Title: book.Title}
		}

		active, err := s.Ledger().CountActiveLoans(ctx, userID)
		if err != nil {
			return err
		}
		if active >= e.policy.MaxActiveLoans {
			return &LoanLimitError{UserID: userID, Active: active, Limit: e.policy.MaxActiveLoans}
		}

		existing, err := s.Ledger().FindActiveLoan(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyBorrowed
		}

		record := reservation
		if record != nil {
			// Promote the reservation in place: same record id, loan
			// fields populated, reservation fields cleared.
			record.Status = StatusBorrowed
			record.BorrowedAt = now
			record.DueDate = DateOf(now).AddDate(0, 0, e.policy.LoanPeriodDays)
			record.ReservedAt = time.Time{}
			record.ReservationExpiry = time.Time{}
			record.UpdatedAt = now
		} else {
			record = &LoanRecord{
				ID:         NewRecordID(),
				UserID:     userID,
				BookID:     bookID,
				Status:     StatusBorrowed,
				BorrowedAt: now,
				DueDate:    DateOf(now).AddDate(0, 0, e.policy.LoanPeriodDays),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
		}
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}

		// Exactly one decrement regardless of which path created the loan.
		book.AvailableCopies--
		if err := s.Catalog().SaveBook(ctx, book); err != nil {
			return err
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// RETURN
// =============================================================================

// Return closes out a loan, restores the copy to the shelf count, and
// derives any fine from the original due date. After the transaction
// commits, the availability hook fires if anyone is waiting on the book.
func (e *Engine) Return(ctx context.Context, recordID RecordID) (*ReturnReceipt, error) {
	now := e.clock.Now()
	var receipt *ReturnReceipt

	err := e.store.WithTx(ctx, func(s Stores) error {
		record, err := s.Ledger().Get(ctx, recordID)
		if err != nil {
			return err
		}
		if record.Status == StatusReturned {
			return ErrAlreadyReturned
		}
		if !record.ActiveLoan() {
			return &InvalidStateError{RecordID: record.ID, Status: record.Status, Op: "return"}
		}

		record.ReturnedAt = &now
		record.Status = StatusReturned
		record.UpdatedAt = now
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}

		book, err := s.Catalog().GetBook(ctx, record.BookID)
		if err != nil {
			return err
		}
		book.AvailableCopies++
		if err := s.Catalog().SaveBook(ctx, book); err != nil {
			return err
		}

		overdue := OverdueDays(record.DueDate, now)
		receipt = &ReturnReceipt{
			Record:      record,
			OverdueDays: overdue,
			Fine:        FineFor(e.policy, overdue),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifyIfReserved(ctx, receipt.Record.BookID)
	return receipt, nil
}

// notifyIfReserved fires the availability hook for the head of the
// reservation queue. Hook failures are logged and swallowed: a delivery
// problem must never turn a committed return into a reported failure.
func (e *Engine) notifyIfReserved(ctx context.Context, bookID BookID) {
	if e.onAvailable == nil {
		return
	}
	queue, err := e.store.Ledger().ReservationQueue(ctx, bookID)
	if err != nil {
		log.Printf("[Engine] reservation queue lookup failed for book %s: %v", bookID, err)
		return
	}
	if len(queue) == 0 {
		return
	}
	if err := e.onAvailable(ctx, bookID); err != nil {
		log.Printf("[Engine] availability hook failed for book %s: %v", bookID, err)
	}
}

// =============================================================================
// RENEW
// =============================================================================

// Renew extends a loan's due date by the policy's renewal extension. An
// overdue loan that renews inside the grace window becomes Borrowed again,
// since its new due date is in the future.
func (e *Engine) Renew(ctx context.Context, recordID RecordID) (*LoanRecord, error) {
	now := e.clock.Now()
	var result *LoanRecord

	err := e.store.WithTx(ctx, func(s Stores) error {
		record, err := s.Ledger().Get(ctx, recordID)
		if err != nil {
			return err
		}
		if !record.ActiveLoan() {
			return &InvalidStateError{RecordID: record.ID, Status: record.Status, Op: "renew"}
		}
		if record.RenewalCount >= e.policy.MaxRenewals {
			return ErrRenewalLimitExceeded
		}
		grace := record.DueDate.AddDate(0, 0, e.policy.RenewalGraceDays)
		if DateOf(now).After(grace) {
			return ErrRenewalWindowExceeded
		}

		record.DueDate = record.DueDate.AddDate(0, 0, e.policy.RenewalExtensionDays)
		record.RenewalCount++
		record.Status = StatusBorrowed
		record.UpdatedAt = now
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve queues the user for the book. No stock is earmarked: the
// reservation only grants first-come-first-served priority when a copy
// comes back.
func (e *Engine) Reserve(ctx context.Context, userID UserID, bookID BookID) (*LoanRecord, error) {
	now := e.clock.Now()
	var result *LoanRecord

	err := e.store.WithTx(ctx, func(s Stores) error {
		if _, err := s.Users().GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := s.Catalog().GetBook(ctx, bookID); err != nil {
			return err
		}

		loan, err := s.Ledger().FindActiveLoan(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if loan != nil {
			return ErrAlreadyReservedOrBorrowed
		}

		reservation, err := s.Ledger().FindActiveReservation(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if reservation != nil {
			if reservation.ActiveReservation(now) {
				return ErrAlreadyReservedOrBorrowed
			}
			// Lapsed but not yet swept. Expire it so the new hold can exist.
			reservation.Status = StatusReservationExpired
			reservation.UpdatedAt = now
			if err := s.Ledger().Save(ctx, reservation); err != nil {
				return err
			}
		}

		record := &LoanRecord{
			ID:                NewRecordID(),
			UserID:            userID,
			BookID:            bookID,
			Status:            StatusReserved,
			ReservedAt:        now,
			ReservationExpiry: DateOf(now).AddDate(0, 0, e.policy.ReservationHoldDays),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelReservation cancels a Reserved record. Only the reservation's
// owner may cancel, unless allowOverride is set (an administrative
// decision made by the caller, not the engine).
func (e *Engine) CancelReservation(ctx context.Context, callerID UserID, reservationID RecordID, allowOverride bool) (*LoanRecord, error) {
	now := e.clock.Now()
	var result *LoanRecord

	err := e.store.WithTx(ctx, func(s Stores) error {
		record, err := s.Ledger().Get(ctx, reservationID)
		if err != nil {
			return err
		}
		if record.Status != StatusReserved {
			return &InvalidStateError{RecordID: record.ID, Status: record.Status, Op: "cancel"}
		}
		if record.UserID != callerID && !allowOverride {
			return ErrForbidden
		}

		record.Status = StatusReservationCanceled
		record.UpdatedAt = now
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// LOST / DAMAGED
// =============================================================================

// MarkLost closes an active loan as Lost. The copy leaves circulation, so
// the stocked total shrinks instead of the shelf count growing.
func (e *Engine) MarkLost(ctx context.Context, recordID RecordID) (*LoanRecord, error) {
	return e.retire(ctx, recordID, StatusLost)
}

// MarkDamaged closes an active loan as Damaged. Same stock accounting as
// MarkLost.
func (e *Engine) MarkDamaged(ctx context.Context, recordID RecordID) (*LoanRecord, error) {
	return e.retire(ctx, recordID, StatusDamaged)
}

func (e *Engine) retire(ctx context.Context, recordID RecordID, to Status) (*LoanRecord, error) {
	now := e.clock.Now()
	var result *LoanRecord

	err := e.store.WithTx(ctx, func(s Stores) error {
		record, err := s.Ledger().Get(ctx, recordID)
		if err != nil {
			return err
		}
		if !record.ActiveLoan() || !CanTransition(record.Status, to) {
			return &InvalidStateError{RecordID: record.ID, Status: record.Status, Op: string(to)}
		}

		record.Status = to
		record.UpdatedAt = now
		if err := s.Ledger().Save(ctx, record); err != nil {
			return err
		}

		book, err := s.Catalog().GetBook(ctx, record.BookID)
		if err != nil {
			return err
		}
		book.TotalCopies--
		if err := s.Catalog().SaveBook(ctx, book); err != nil {
			return err
		}

		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// TIME-DRIVEN SWEEPS
// =============================================================================

// SweepOverdue flips Borrowed records past their due date to Overdue and
// returns how many it advanced. Idempotent: records already Overdue are
// not matched, so repeated runs are safe alongside live traffic.
func (e *Engine) SweepOverdue(ctx context.Context) (int, error) {
	now := e.clock.Now()
	count := 0

	err := e.store.WithTx(ctx, func(s Stores) error {
		records, err := s.Ledger().FindOverdue(ctx, now)
		if err != nil {
			return err
		}
		for _, record := range records {
			record.Status = StatusOverdue
			record.UpdatedAt = now
			if err := s.Ledger().Save(ctx, record); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SweepReservations flips Reserved records whose hold window has lapsed to
// ReservationExpired and returns how many it advanced. Idempotent.
func (e *Engine) SweepReservations(ctx context.Context) (int, error) {
	now := e.clock.Now()
	count := 0

	err := e.store.WithTx(ctx, func(s Stores) error {
		records, err := s.Ledger().ExpiredReservations(ctx, now)
		if err != nil {
			return err
		}
		for _, record := range records {
			record.Status = StatusReservationExpired
			record.UpdatedAt = now
			if err := s.Ledger().Save(ctx, record); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// =============================================================================
// READ-ONLY QUERIES
// =============================================================================

// History returns the user's full borrowing history, most recent first.
func (e *Engine) History(ctx context.Context, userID UserID) ([]*LoanRecord, error) {
	if _, err := e.store.Users().GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.store.Ledger().History(ctx, userID)
}

// Overdue returns the Borrowed records currently past their due date.
func (e *Engine) Overdue(ctx context.Context) ([]*LoanRecord, error) {
	return e.store.Ledger().FindOverdue(ctx, e.clock.Now())
}
