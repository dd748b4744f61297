/*
errors.go - Centralized error types for the circulation engine

PURPOSE:
  All caller-facing failure kinds in one place. Every engine operation
  either returns an updated record or one of these errors - never a bare
  unstructured failure, and none of them crash the process.

ERROR CATEGORIES:
  1. Lookup errors - user/book/record absent
  2. Rule violations - stock, limits, duplicate loans/reservations
  3. State errors - operation not valid for the record's current status
  4. Authorization - ownership mismatch on cancellation

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, circulation.ErrNoStock) {
        // 409 Conflict
    }

SEE ALSO:
  - engine.go: The operations that return these errors
  - api/handlers.go: Mapping to HTTP status codes
*/
package circulation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced user, book, or record is absent.
	ErrNotFound = errors.New("not found")

	// ErrNoStock is returned when a borrow finds no available copies and no
	// valid reservation earmarked for the caller.
	ErrNoStock = errors.New("no copies available")

	// ErrLoanLimitExceeded is returned when the user already holds the maximum
	// number of concurrent active loans.
	ErrLoanLimitExceeded = errors.New("loan limit exceeded")

	// ErrAlreadyBorrowed is returned when an active loan for the same
	// (user, book) pair already exists.
	ErrAlreadyBorrowed = errors.New("book already borrowed by user")

	// ErrAlreadyReturned is returned on a second return of the same record.
	ErrAlreadyReturned = errors.New("book already returned")

	// ErrInvalidState is returned when an operation is not valid for the
	// record's current status.
	ErrInvalidState = errors.New("operation not valid for record status")

	// ErrRenewalWindowExceeded is returned when a renewal is attempted too
	// long past the due date.
	ErrRenewalWindowExceeded = errors.New("renewal window exceeded")

	// ErrRenewalLimitExceeded is returned when the record has already been
	// renewed the maximum number of times.
	ErrRenewalLimitExceeded = errors.New("renewal limit exceeded")

	// ErrAlreadyReservedOrBorrowed is returned when a reservation is attempted
	// while an active loan or reservation already exists for the pair.
	ErrAlreadyReservedOrBorrowed = errors.New("book already reserved or borrowed by user")

	// ErrForbidden is returned when a caller tries to cancel a reservation
	// that belongs to someone else without an override.
	ErrForbidden = errors.New("not allowed to modify this record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which kind of entity was missing.
type NotFoundError struct {
	Kind string // "user", "book", "record"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NoStockError reports a stock shortage for a specific book.
type NoStockError struct {
	BookID BookID
	Title  string
}

func (e *NoStockError) Error() string {
	return fmt.Sprintf("no copies of %q (%s) available", e.Title, e.BookID)
}

func (e *NoStockError) Unwrap() error { return ErrNoStock }

// LoanLimitError reports how many active loans the user already holds.
type LoanLimitError struct {
	UserID UserID
	Active int
	Limit  int
}

func (e *LoanLimitError) Error() string {
	return fmt.Sprintf("user %s holds %d active loans, limit is %d", e.UserID, e.Active, e.Limit)
}

func (e *LoanLimitError) Unwrap() error { return ErrLoanLimitExceeded }

// InvalidStateError reports the status that made an operation illegal.
type InvalidStateError struct {
	RecordID RecordID
	Status   Status
	Op       string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s record %s in status %s", e.Op, e.RecordID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing user/book/record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a business-rule conflict the caller
// can resolve by changing the request (retrying unchanged will fail again).
func IsConflict(err error) bool {
	return errors.Is(err, ErrNoStock) ||
		errors.Is(err, ErrLoanLimitExceeded) ||
		errors.Is(err, ErrAlreadyBorrowed) ||
		errors.Is(err, ErrAlreadyReturned) ||
		errors.Is(err, ErrAlreadyReservedOrBorrowed) ||
		errors.Is(err, ErrRenewalWindowExceeded) ||
		errors.Is(err, ErrRenewalLimitExceeded)
}

// IsClientError returns true for any recoverable, caller-facing failure.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		IsConflict(err) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden)
}
