// Package store provides an in-memory circulation.Store implementation
// for tests and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps the catalog, users, and loan ledger in maps. WithTx is
// simulated with a snapshot taken before the callback and restored if the
// callback fails, so partial writes never become visible.
type Memory struct {
	mu      sync.RWMutex
	books   map[circulation.BookID]*circulation.Book
	users   map[circulation.UserID]*circulation.User
	records map[circulation.RecordID]*circulation.LoanRecord
}

func NewMemory() *Memory {
	return &Memory{
		books:   make(map[circulation.BookID]*circulation.Book),
		users:   make(map[circulation.UserID]*circulation.User),
		records: make(map[circulation.RecordID]*circulation.LoanRecord),
	}
}

// AddBook seeds a catalog entry.
func (m *Memory) AddBook(book *circulation.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *book
	m.books[book.ID] = &cp
}

// AddUser seeds a borrower.
func (m *Memory) AddUser(user *circulation.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.users[user.ID] = &cp
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

func (m *Memory) Ledger() circulation.Ledger        { return &ledgerView{m: m, locking: true} }
func (m *Memory) Catalog() circulation.CatalogStore { return &catalogView{m: m, locking: true} }
func (m *Memory) Users() circulation.UserStore      { return &userView{m: m, locking: true} }

// WithTx executes fn under the store's write lock with rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(circulation.Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txStores{m: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	books   map[circulation.BookID]*circulation.Book
	users   map[circulation.UserID]*circulation.User
	records map[circulation.RecordID]*circulation.LoanRecord
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		books:   make(map[circulation.BookID]*circulation.Book, len(m.books)),
		users:   make(map[circulation.UserID]*circulation.User, len(m.users)),
		records: make(map[circulation.RecordID]*circulation.LoanRecord, len(m.records)),
	}
	for id, b := range m.books {
		cp := *b
		s.books[id] = &cp
	}
	for id, u := range m.users {
		cp := *u
		s.users[id] = &cp
	}
	for id, r := range m.records {
		s.records[id] = copyRecord(r)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.books = s.books
	m.users = s.users
	m.records = s.records
}

// txStores is the Stores view bound to an open WithTx callback. The lock
// is already held, so its views bypass locking.
type txStores struct {
	m *Memory
}

func (t *txStores) Ledger() circulation.Ledger        { return &ledgerView{m: t.m} }
func (t *txStores) Catalog() circulation.CatalogStore { return &catalogView{m: t.m} }
func (t *txStores) Users() circulation.UserStore      { return &userView{m: t.m} }

// =============================================================================
// CATALOG VIEW
// =============================================================================

type catalogView struct {
	m       *Memory
	locking bool
}

func (v *catalogView) GetBook(_ context.Context, id circulation.BookID) (*circulation.Book, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	book, ok := v.m.books[id]
	if !ok {
		return nil, &circulation.NotFoundError{Kind: "book", ID: string(id)}
	}
	cp := *book
	return &cp, nil
}

func (v *catalogView) SaveBook(_ context.Context, book *circulation.Book) error {
	if v.locking {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	cp := *book
	v.m.books[book.ID] = &cp
	return nil
}

// =============================================================================
// USER VIEW
// =============================================================================

type userView struct {
	m       *Memory
	locking bool
}

func (v *userView) GetUser(_ context.Context, id circulation.UserID) (*circulation.User, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	user, ok := v.m.users[id]
	if !ok {
		return nil, &circulation.NotFoundError{Kind: "user", ID: string(id)}
	}
	cp := *user
	return &cp, nil
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

type ledgerView struct {
	m       *Memory
	locking bool
}

func (v *ledgerView) Get(_ context.Context, id circulation.RecordID) (*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	record, ok := v.m.records[id]
	if !ok {
		return nil, &circulation.NotFoundError{Kind: "record", ID: string(id)}
	}
	return copyRecord(record), nil
}

func (v *ledgerView) FindActiveLoan(_ context.Context, userID circulation.UserID, bookID circulation.BookID) (*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	for _, r := range v.m.records {
		if r.UserID == userID && r.BookID == bookID && r.ActiveLoan() {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (v *ledgerView) FindActiveReservation(_ context.Context, userID circulation.UserID, bookID circulation.BookID) (*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	for _, r := range v.m.records {
		if r.UserID == userID && r.BookID == bookID && r.Status == circulation.StatusReserved {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (v *ledgerView) CountActiveLoans(_ context.Context, userID circulation.UserID) (int, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	count := 0
	for _, r := range v.m.records {
		if r.UserID == userID && r.ActiveLoan() {
			count++
		}
	}
	return count, nil
}

func (v *ledgerView) Save(_ context.Context, record *circulation.LoanRecord) error {
	if v.locking {
		v.m.mu.Lock()
		defer v.m.mu.Unlock()
	}
	v.m.records[record.ID] = copyRecord(record)
	return nil
}

func (v *ledgerView) FindOverdue(_ context.Context, asOf time.Time) ([]*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	var result []*circulation.LoanRecord
	cutoff := circulation.DateOf(asOf)
	for _, r := range v.m.records {
		if r.Status == circulation.StatusBorrowed && r.DueDate.Before(cutoff) {
			result = append(result, copyRecord(r))
		}
	}
	sortByDueDate(result)
	return result, nil
}

func (v *ledgerView) ExpiredReservations(_ context.Context, asOf time.Time) ([]*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	var result []*circulation.LoanRecord
	cutoff := circulation.DateOf(asOf)
	for _, r := range v.m.records {
		if r.Status == circulation.StatusReserved && r.ReservationExpiry.Before(cutoff) {
			result = append(result, copyRecord(r))
		}
	}
	return result, nil
}

func (v *ledgerView) ReservationQueue(_ context.Context, bookID circulation.BookID) ([]*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	var result []*circulation.LoanRecord
	for _, r := range v.m.records {
		if r.BookID == bookID && r.Status == circulation.StatusReserved {
			result = append(result, copyRecord(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReservedAt.Before(result[j].ReservedAt)
	})
	return result, nil
}

func (v *ledgerView) History(_ context.Context, userID circulation.UserID) ([]*circulation.LoanRecord, error) {
	if v.locking {
		v.m.mu.RLock()
		defer v.m.mu.RUnlock()
	}
	var result []*circulation.LoanRecord
	for _, r := range v.m.records {
		if r.UserID == userID {
			result = append(result, copyRecord(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].BorrowedAt.Equal(result[j].BorrowedAt) {
			return result[i].BorrowedAt.After(result[j].BorrowedAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func copyRecord(r *circulation.LoanRecord) *circulation.LoanRecord {
	cp := *r
	if r.ReturnedAt != nil {
		at := *r.ReturnedAt
		cp.ReturnedAt = &at
	}
	return &cp
}

func sortByDueDate(records []*circulation.LoanRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].DueDate.Before(records[j].DueDate)
	})
}
