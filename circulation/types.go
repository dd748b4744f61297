/*
Package circulation provides the library circulation engine.

PURPOSE:
  This package contains the core domain types and decision logic for
  tracking physical book copies, the users who borrow them, and the full
  lifecycle of a loan: borrow, return, renew, reserve, expire, cancel.

KEY CONCEPTS IN THIS FILE (types.go):
  - Book: A catalog entry with a live available-copy counter
  - User: A borrower identity (resolved by the caller, read-only here)
  - LoanRecord: One loan-or-reservation lifecycle instance
  - Typed IDs: Strong typing prevents mixing user/book/record ids

DESIGN PRINCIPLES:
  1. Plain references: LoanRecord holds UserID/BookID, never object
     back-pointers. Relationships resolve through explicit store lookups.
  2. Precision: Fine amounts and prices use decimal.Decimal, never float.
  3. History is permanent: records are never deleted; cancellation and
     expiry are terminal statuses.

SEE ALSO:
  - status.go: Loan status set and transition table
  - engine.go: The operations that mutate these types
  - ledger.go: Persistence contracts
*/
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookID string
type UserID string
type RecordID string

func NewBookID() BookID     { return BookID(uuid.NewString()) }
func NewUserID() UserID     { return UserID(uuid.NewString()) }
func NewRecordID() RecordID { return RecordID(uuid.NewString()) }

// =============================================================================
// BOOK - Catalog entry referenced by the engine
// =============================================================================

// Book is owned by the catalog store. The engine mutates AvailableCopies
// on the borrow/return paths and nowhere else.
type Book struct {
	ID        BookID
	Title     string
	Author    string
	ISBN      string
	Publisher string
	Price     decimal.Decimal

	// TotalCopies is the stocked total; AvailableCopies must always equal
	// TotalCopies minus the count of active (Borrowed/Overdue) records.
	TotalCopies     int
	AvailableCopies int
}

// =============================================================================
// USER - Borrower identity, read-only from the engine's perspective
// =============================================================================

type User struct {
	ID       UserID
	Username string
	Role     string
	Enabled  bool
}

// =============================================================================
// LOAN RECORD - One loan-or-reservation lifecycle instance
// =============================================================================

// LoanRecord tracks a single lifecycle instance. A record is either a loan
// (BorrowedAt/DueDate set) or a reservation (ReservedAt/ReservationExpiry
// set), never both at once. The one exception: a reservation promoted to a
// loan keeps its record id, clears the reservation fields, and populates
// the loan fields.
type LoanRecord struct {
	ID     RecordID
	UserID UserID
	BookID BookID
	Status Status

	BorrowedAt time.Time
	DueDate    time.Time // date granularity; midnight UTC
	ReturnedAt *time.Time

	ReservedAt        time.Time
	ReservationExpiry time.Time // date granularity; midnight UTC

	RenewalCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveLoan reports whether the record is a live loan (Borrowed or Overdue).
func (r *LoanRecord) ActiveLoan() bool {
	return r.Status == StatusBorrowed || r.Status == StatusOverdue
}

// ActiveReservation reports whether the record is a reservation that has
// not expired as of the given time.
func (r *LoanRecord) ActiveReservation(now time.Time) bool {
	return r.Status == StatusReserved && !DateOf(now).After(r.ReservationExpiry)
}
