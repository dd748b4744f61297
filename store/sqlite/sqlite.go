/*
Package sqlite provides a SQLite-backed implementation of the circulation
storage contracts.

PURPOSE:
  Implements circulation.Store (Ledger, CatalogStore, UserStore, WithTx)
  on SQLite. The same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  books:         Catalog entries with the live available-copy counter
  users:         Borrower identities
  loan_records:  One row per loan-or-reservation lifecycle instance

INDEXES:
  - idx_records_pair_status:  Active loan/reservation lookups (hot path)
  - idx_records_status_due:   Overdue sweep
  - idx_records_book_queue:   Reservation queue ordering
  - idx_records_user_history: Borrowing history

ATOMICITY:
  WithTx wraps the engine's read-decide-write sequence in one database
  transaction. Combined with the store-level write lock this guarantees
  two concurrent borrows of the last copy cannot both commit.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite allows a single writer at a
  time; with PostgreSQL, row-level locking would replace the mutex.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging) so readers do not
  block and crash recovery is cleaner.

USAGE:
  store, err := sqlite.New("./data/circulation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := circulation.NewEngine(store, circulation.DefaultPolicy())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - circulation/ledger.go: Contract definitions
  - circulation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
)

// Store implements circulation.Store using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		publisher TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '0',
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'member',
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS loan_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		book_id TEXT NOT NULL REFERENCES books(id),
		status TEXT NOT NULL,
		borrowed_at TEXT,
		due_date TEXT,
		returned_at TEXT,
		reserved_at TEXT,
		reservation_expiry TEXT,
		renewal_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Active loan / active reservation lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_records_pair_status
		ON loan_records(user_id, book_id, status);

	-- Overdue sweep
	CREATE INDEX IF NOT EXISTS idx_records_status_due
		ON loan_records(status, due_date);

	-- Reservation queue, oldest first
	CREATE INDEX IF NOT EXISTS idx_records_book_queue
		ON loan_records(book_id, status, reserved_at);

	-- Borrowing history
	CREATE INDEX IF NOT EXISTS idx_records_user_history
		ON loan_records(user_id, borrowed_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

func (s *Store) Ledger() circulation.Ledger        { return &views{ext: s.db, mu: &s.mu} }
func (s *Store) Catalog() circulation.CatalogStore { return &views{ext: s.db, mu: &s.mu} }
func (s *Store) Users() circulation.UserStore      { return &views{ext: s.db, mu: &s.mu} }

// WithTx executes fn within a database transaction. The Stores handed to
// fn are bound to that transaction; rollback on error, commit otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(circulation.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&views{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// views implements the storage contracts against either the root handle
// or an open transaction. mu is nil inside WithTx: the store-level lock
// is already held there.
type views struct {
	ext sqlx.ExtContext
	mu  *sync.RWMutex
}

func (v *views) Ledger() circulation.Ledger        { return v }
func (v *views) Catalog() circulation.CatalogStore { return v }
func (v *views) Users() circulation.UserStore      { return v }

func (v *views) rlock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.RLock()
	return v.mu.RUnlock
}

func (v *views) wlock() func() {
	if v.mu == nil {
		return func() {}
	}
	v.mu.Lock()
	return v.mu.Unlock
}

// =============================================================================
// ROW TYPES AND ENCODING
// =============================================================================

type bookRow struct {
	ID              string `db:"id"`
	Title           string `db:"title"`
	Author          string `db:"author"`
	ISBN            string `db:"isbn"`
	Publisher       string `db:"publisher"`
	Price           string `db:"price"`
	TotalCopies     int    `db:"total_copies"`
	AvailableCopies int    `db:"available_copies"`
}

func (r bookRow) toDomain() (*circulation.Book, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price for book %s: %w", r.ID, err)
	}
	return &circulation.Book{
		ID:              circulation.BookID(r.ID),
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Publisher:       r.Publisher,
		Price:           price,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
	}, nil
}

type userRow struct {
	ID       string `db:"id"`
	Username string `db:"username"`
	Role     string `db:"role"`
	Enabled  bool   `db:"enabled"`
}

type recordRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	BookID            string         `db:"book_id"`
	Status            string         `db:"status"`
	BorrowedAt        sql.NullString `db:"borrowed_at"`
	DueDate           sql.NullString `db:"due_date"`
	ReturnedAt        sql.NullString `db:"returned_at"`
	ReservedAt        sql.NullString `db:"reserved_at"`
	ReservationExpiry sql.NullString `db:"reservation_expiry"`
	RenewalCount      int            `db:"renewal_count"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
}

func encodeTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func decodeTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	return t
}

func (r recordRow) toDomain() *circulation.LoanRecord {
	record := &circulation.LoanRecord{
		ID:                circulation.RecordID(r.ID),
		UserID:            circulation.UserID(r.UserID),
		BookID:            circulation.BookID(r.BookID),
		Status:            circulation.Status(r.Status),
		BorrowedAt:        decodeTime(r.BorrowedAt),
		DueDate:           decodeTime(r.DueDate),
		ReservedAt:        decodeTime(r.ReservedAt),
		ReservationExpiry: decodeTime(r.ReservationExpiry),
		RenewalCount:      r.RenewalCount,
	}
	record.CreatedAt, _ = time.Parse(time.RFC3339, r.CreatedAt)
	record.UpdatedAt, _ = time.Parse(time.RFC3339, r.UpdatedAt)
	if r.ReturnedAt.Valid {
		at := decodeTime(r.ReturnedAt)
		record.ReturnedAt = &at
	}
	return record
}

const recordColumns = `id, user_id, book_id, status, borrowed_at, due_date, returned_at,
	reserved_at, reservation_expiry, renewal_count, created_at, updated_at`

// =============================================================================
// CATALOG STORE
// =============================================================================

func (v *views) GetBook(ctx context.Context, id circulation.BookID) (*circulation.Book, error) {
	defer v.rlock()()

	var row bookRow
	err := sqlx.GetContext(ctx, v.ext, &row,
		`SELECT id, title, author, isbn, publisher, price, total_copies, available_copies
		 FROM books WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Kind: "book", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query book: %w", err)
	}
	return row.toDomain()
}

func (v *views) SaveBook(ctx context.Context, book *circulation.Book) error {
	defer v.wlock()()

	_, err := v.ext.ExecContext(ctx,
		`INSERT INTO books (id, title, author, isbn, publisher, price, total_copies, available_copies)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			isbn = excluded.isbn,
			publisher = excluded.publisher,
			price = excluded.price,
			total_copies = excluded.total_copies,
			available_copies = excluded.available_copies`,
		string(book.ID), book.Title, book.Author, book.ISBN, book.Publisher,
		book.Price.String(), book.TotalCopies, book.AvailableCopies)
	if err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// ListBooks returns the whole catalog ordered by title. Used by the HTTP
// layer; not part of the engine's contract.
func (s *Store) ListBooks(ctx context.Context) ([]*circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []bookRow
	err := sqlx.SelectContext(ctx, s.db, &rows,
		`SELECT id, title, author, isbn, publisher, price, total_copies, available_copies
		 FROM books ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]*circulation.Book, 0, len(rows))
	for _, row := range rows {
		book, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

// =============================================================================
// USER STORE
// =============================================================================

func (v *views) GetUser(ctx context.Context, id circulation.UserID) (*circulation.User, error) {
	defer v.rlock()()

	var row userRow
	err := sqlx.GetContext(ctx, v.ext, &row,
		`SELECT id, username, role, enabled FROM users WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &circulation.User{
		ID:       circulation.UserID(row.ID),
		Username: row.Username,
		Role:     row.Role,
		Enabled:  row.Enabled,
	}, nil
}

// SaveUser upserts a borrower. The engine treats users as read-only; this
// exists for the HTTP layer and seeding.
func (s *Store) SaveUser(ctx context.Context, user *circulation.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, enabled)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			role = excluded.role,
			enabled = excluded.enabled`,
		string(user.ID), user.Username, user.Role, user.Enabled)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (v *views) Get(ctx context.Context, id circulation.RecordID) (*circulation.LoanRecord, error) {
	defer v.rlock()()

	var row recordRow
	err := sqlx.GetContext(ctx, v.ext, &row,
		`SELECT `+recordColumns+` FROM loan_records WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Kind: "record", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	return row.toDomain(), nil
}

func (v *views) FindActiveLoan(ctx context.Context, userID circulation.UserID, bookID circulation.BookID) (*circulation.LoanRecord, error) {
	defer v.rlock()()

	var row recordRow
	err := sqlx.GetContext(ctx, v.ext, &row,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE user_id = ? AND book_id = ? AND status IN (?, ?)
		 LIMIT 1`,
		string(userID), string(bookID),
		string(circulation.StatusBorrowed), string(circulation.StatusOverdue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active loan: %w", err)
	}
	return row.toDomain(), nil
}

func (v *views) FindActiveReservation(ctx context.Context, userID circulation.UserID, bookID circulation.BookID) (*circulation.LoanRecord, error) {
	defer v.rlock()()

	var row recordRow
	err := sqlx.GetContext(ctx, v.ext, &row,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE user_id = ? AND book_id = ? AND status = ?
		 LIMIT 1`,
		string(userID), string(bookID), string(circulation.StatusReserved))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active reservation: %w", err)
	}
	return row.toDomain(), nil
}

func (v *views) CountActiveLoans(ctx context.Context, userID circulation.UserID) (int, error) {
	defer v.rlock()()

	var count int
	err := sqlx.GetContext(ctx, v.ext, &count,
		`SELECT COUNT(*) FROM loan_records WHERE user_id = ? AND status IN (?, ?)`,
		string(userID),
		string(circulation.StatusBorrowed), string(circulation.StatusOverdue))
	if err != nil {
		return 0, fmt.Errorf("failed to count active loans: %w", err)
	}
	return count, nil
}

func (v *views) Save(ctx context.Context, record *circulation.LoanRecord) error {
	defer v.wlock()()

	var returnedAt sql.NullString
	if record.ReturnedAt != nil {
		returnedAt = encodeTime(*record.ReturnedAt)
	}

	_, err := v.ext.ExecContext(ctx,
		`INSERT INTO loan_records
		 (id, user_id, book_id, status, borrowed_at, due_date, returned_at,
		  reserved_at, reservation_expiry, renewal_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			borrowed_at = excluded.borrowed_at,
			due_date = excluded.due_date,
			returned_at = excluded.returned_at,
			reserved_at = excluded.reserved_at,
			reservation_expiry = excluded.reservation_expiry,
			renewal_count = excluded.renewal_count,
			updated_at = excluded.updated_at`,
		string(record.ID), string(record.UserID), string(record.BookID), string(record.Status),
		encodeTime(record.BorrowedAt), encodeTime(record.DueDate), returnedAt,
		encodeTime(record.ReservedAt), encodeTime(record.ReservationExpiry),
		record.RenewalCount,
		record.CreatedAt.UTC().Format(time.RFC3339),
		record.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

func (v *views) FindOverdue(ctx context.Context, asOf time.Time) ([]*circulation.LoanRecord, error) {
	defer v.rlock()()

	cutoff := circulation.DateOf(asOf).Format(time.RFC3339)
	return v.selectRecords(ctx,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE status = ? AND due_date < ?
		 ORDER BY due_date ASC`,
		string(circulation.StatusBorrowed), cutoff)
}

func (v *views) ExpiredReservations(ctx context.Context, asOf time.Time) ([]*circulation.LoanRecord, error) {
	defer v.rlock()()

	cutoff := circulation.DateOf(asOf).Format(time.RFC3339)
	return v.selectRecords(ctx,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE status = ? AND reservation_expiry < ?
		 ORDER BY reservation_expiry ASC`,
		string(circulation.StatusReserved), cutoff)
}

func (v *views) ReservationQueue(ctx context.Context, bookID circulation.BookID) ([]*circulation.LoanRecord, error) {
	defer v.rlock()()

	return v.selectRecords(ctx,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE book_id = ? AND status = ?
		 ORDER BY reserved_at ASC`,
		string(bookID), string(circulation.StatusReserved))
}

func (v *views) History(ctx context.Context, userID circulation.UserID) ([]*circulation.LoanRecord, error) {
	defer v.rlock()()

	return v.selectRecords(ctx,
		`SELECT `+recordColumns+` FROM loan_records
		 WHERE user_id = ?
		 ORDER BY borrowed_at DESC, created_at DESC`,
		string(userID))
}

func (v *views) selectRecords(ctx context.Context, query string, args ...any) ([]*circulation.LoanRecord, error) {
	var rows []recordRow
	if err := sqlx.SelectContext(ctx, v.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records := make([]*circulation.LoanRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}
