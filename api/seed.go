/*
seed.go - Demo data loader for development and demos

PURPOSE:
  Populates the catalog and user tables with a small realistic data set so
  the API is explorable immediately after startup. Loan records are not
  seeded; drive those through the loan endpoints.

USAGE VIA API:
  POST /api/admin/seed

NOTE:
  Seeding upserts by fixed ids, so repeated loads are harmless. Only use
  in development/demo environments.

SEE ALSO:
  - handlers.go: The endpoints to exercise against the seeded data
*/
package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
)

var seedBooks = []circulation.Book{
	{
		ID: "seed-book-gopl", Title: "The Go Programming Language", Author: "Alan Donovan, Brian Kernighan",
		ISBN: "978-0134190440", Publisher: "Addison-Wesley", Price: decimal.NewFromFloat(39.99),
		TotalCopies: 3, AvailableCopies: 3,
	},
	{
		ID: "seed-book-ddd", Title: "Domain-Driven Design", Author: "Eric Evans",
		ISBN: "978-0321125217", Publisher: "Addison-Wesley", Price: decimal.NewFromFloat(54.99),
		TotalCopies: 2, AvailableCopies: 2,
	},
	{
		ID: "seed-book-sicp", Title: "Structure and Interpretation of Computer Programs", Author: "Abelson, Sussman",
		ISBN: "978-0262510875", Publisher: "MIT Press", Price: decimal.NewFromFloat(49.95),
		TotalCopies: 1, AvailableCopies: 1,
	},
}

var seedUsers = []circulation.User{
	{ID: "seed-user-alice", Username: "alice", Role: "member", Enabled: true},
	{ID: "seed-user-bob", Username: "bob", Role: "member", Enabled: true},
	{ID: "seed-user-admin", Username: "admin", Role: "admin", Enabled: true},
}

// SeedDemo upserts the demo catalog and borrowers.
func (h *Handler) SeedDemo(ctx context.Context) error {
	for i := range seedBooks {
		book := seedBooks[i]
		if err := h.Store.Catalog().SaveBook(ctx, &book); err != nil {
			return err
		}
	}
	for i := range seedUsers {
		user := seedUsers[i]
		if err := h.Store.SaveUser(ctx, &user); err != nil {
			return err
		}
	}
	return nil
}

// LoadSeed handles POST /api/admin/seed.
func (h *Handler) LoadSeed(w http.ResponseWriter, r *http.Request) {
	if err := h.SeedDemo(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"books": len(seedBooks),
		"users": len(seedUsers),
	})
}
