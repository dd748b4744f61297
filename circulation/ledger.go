/*
ledger.go - Persistence contracts consumed by the engine

PURPOSE:
  Defines the interfaces between the decision logic and the database.
  The engine reads and writes loan records and book copy counts as a
  single atomic unit per operation; these contracts make that explicit.

KEY INTERFACES:
  Ledger:       Loan record persistence and the secondary lookups
  CatalogStore: Book lookup and copy-count mutation
  UserStore:    Borrower lookup (read-only)
  Stores:       The three contracts bundled for one operation
  Store:        Stores plus WithTx, the injected transactional unit

ATOMICITY CONTRACT:
  Every engine operation runs its full read-decide-write sequence inside
  a single WithTx call. If the callback returns an error the transaction
  rolls back and no partial state is visible. Two concurrent borrows of
  the last copy of a book must not both commit; implementations provide
  that isolation with database transactions or an equivalent lock.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite persistence
  - circulation/store: In-memory, for tests and development

SEE ALSO:
  - engine.go: The only caller of these contracts
  - store/sqlite/sqlite.go: Concrete implementation
*/
package circulation

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER - Loan record persistence
// =============================================================================

// Ledger stores loan records. The engine is the only writer. Records are
// mutated in place by status transitions and never physically deleted.
type Ledger interface {
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id RecordID) (*LoanRecord, error)

	// FindActiveLoan returns the Borrowed/Overdue record for the pair,
	// or nil when there is none.
	FindActiveLoan(ctx context.Context, userID UserID, bookID BookID) (*LoanRecord, error)

	// FindActiveReservation returns the Reserved record for the pair,
	// or nil when there is none. Expiry is the engine's concern.
	FindActiveReservation(ctx context.Context, userID UserID, bookID BookID) (*LoanRecord, error)

	// CountActiveLoans counts Borrowed/Overdue records held by the user.
	CountActiveLoans(ctx context.Context, userID UserID) (int, error)

	// Save upserts a record by id.
	Save(ctx context.Context, record *LoanRecord) error

	// FindOverdue returns Borrowed records whose due date precedes asOf.
	FindOverdue(ctx context.Context, asOf time.Time) ([]*LoanRecord, error)

	// ExpiredReservations returns Reserved records whose expiry precedes asOf.
	ExpiredReservations(ctx context.Context, asOf time.Time) ([]*LoanRecord, error)

	// ReservationQueue returns Reserved records for the book ordered by
	// reservation time ascending: first come, first served.
	ReservationQueue(ctx context.Context, bookID BookID) ([]*LoanRecord, error)

	// History returns all records for a user, most recent borrow first.
	History(ctx context.Context, userID UserID) ([]*LoanRecord, error)
}

// =============================================================================
// CATALOG AND USER STORES - External collaborators
// =============================================================================

// CatalogStore resolves books and persists copy-count changes.
type CatalogStore interface {
	// GetBook returns the book, or ErrNotFound.
	GetBook(ctx context.Context, id BookID) (*Book, error)

	// SaveBook upserts a book, including its copy counter.
	SaveBook(ctx context.Context, book *Book) error
}

// UserStore resolves borrower identities. Read-only from the engine.
type UserStore interface {
	// GetUser returns the user, or ErrNotFound.
	GetUser(ctx context.Context, id UserID) (*User, error)
}

// =============================================================================
// TRANSACTIONAL UNIT
// =============================================================================

// Stores bundles the contracts an engine operation touches.
type Stores interface {
	Ledger() Ledger
	Catalog() CatalogStore
	Users() UserStore
}

// Store is the full persistence surface handed to the engine: direct access
// for read-only queries plus WithTx for atomic read-decide-write sequences.
type Store interface {
	Stores

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction rolls back; otherwise it commits. The Stores passed to fn
	// are bound to the open transaction.
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// =============================================================================
// NOTIFICATION HOOK
// =============================================================================

// AvailabilityHook is invoked after a successful return when the book's
// reservation queue is non-empty. Delivery is an external concern; a hook
// failure never rolls back the return.
type AvailabilityHook func(ctx context.Context, bookID BookID) error
