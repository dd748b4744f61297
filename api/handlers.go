/*
handlers.go - HTTP API handlers for the circulation system

PURPOSE:
  Exposes the circulation engine via REST. Handles HTTP request/response
  and JSON serialization, then delegates every decision to the engine.
  The handlers resolve nothing themselves: they pass identifiers through
  and translate typed engine errors into status codes.

ENDPOINTS:
  Catalog:
    GET    /api/books                     List catalog
    POST   /api/books                     Add a book
    GET    /api/books/{id}                Get one book
    GET    /api/books/{id}/queue          Reservation queue, oldest first

  Users:
    POST   /api/users                     Register a borrower
    GET    /api/users/{id}                Get one borrower
    GET    /api/users/{id}/history        Borrowing history

  Loans:
    POST   /api/loans                     Borrow a book
    GET    /api/loans/overdue             Currently overdue loans
    POST   /api/loans/{id}/return         Return (response carries the fine)
    POST   /api/loans/{id}/renew          Renew
    POST   /api/loans/{id}/lost           Close out as lost
    POST   /api/loans/{id}/damaged        Close out as damaged

  Reservations:
    POST   /api/reservations              Reserve a book
    POST   /api/reservations/{id}/cancel  Cancel a reservation

  Admin:
    POST   /api/admin/sweep               Run overdue + expiry sweeps now
    POST   /api/admin/seed                Load demo catalog and users

ERROR HANDLING:
  - 400: Malformed request body or parameters
  - 403: Cancelling someone else's reservation without override
  - 404: Unknown user/book/record
  - 409: Business-rule conflicts (no stock, limits, duplicate loans,
         wrong status, renewal window)
  - 500: Store failures

SECURITY NOTE:
  Authentication is the deployment's concern; handlers trust the user ids
  they are given. The cancel endpoint's allow_override flag stands in for
  the admin check an auth layer would perform.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *circulation.Engine
}

// NewHandler creates a new handler around the store and engine.
func NewHandler(store *sqlite.Store, engine *circulation.Engine) *Handler {
	return &Handler{Store: store, Engine: engine}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListBooks returns the whole catalog.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.Store.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list books", err)
		return
	}

	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = toBookDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBook adds a catalog entry with its stocked copy count.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Title == "" || req.ISBN == "" || req.Copies <= 0 {
		writeError(w, http.StatusBadRequest, "title, isbn and a positive copies count are required", nil)
		return
	}

	price := decimal.Zero
	if req.Price != "" {
		var err error
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid price", err)
			return
		}
	}

	book := &circulation.Book{
		ID:              circulation.NewBookID(),
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		Publisher:       req.Publisher,
		Price:           price,
		TotalCopies:     req.Copies,
		AvailableCopies: req.Copies,
	}
	if err := h.Store.Catalog().SaveBook(r.Context(), book); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// GetBook returns a single catalog entry.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	book, err := h.Store.Catalog().GetBook(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// GetReservationQueue returns the book's reservation queue, oldest first.
func (h *Handler) GetReservationQueue(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	queue, err := h.Store.Ledger().ReservationQueue(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reservation queue", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(queue))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// CreateUser registers a borrower.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required", nil)
		return
	}
	role := req.Role
	if role == "" {
		role = "member"
	}

	user := &circulation.User{
		ID:       circulation.NewUserID(),
		Username: req.Username,
		Role:     role,
		Enabled:  true,
	}
	if err := h.Store.SaveUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// GetUser returns a single borrower.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := circulation.UserID(chi.URLParam(r, "id"))

	user, err := h.Store.Users().GetUser(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// GetHistory returns the user's borrowing history, most recent first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := circulation.UserID(chi.URLParam(r, "id"))

	records, err := h.Engine.History(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// Borrow lends a copy to a user.
func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Engine.Borrow(r.Context(), circulation.UserID(req.UserID), circulation.BookID(req.BookID))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(record))
}

// Return closes out a loan. The response carries the derived fine.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	id := circulation.RecordID(chi.URLParam(r, "id"))

	receipt, err := h.Engine.Return(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReturnReceiptDTO{
		Record:      toRecordDTO(receipt.Record),
		OverdueDays: receipt.OverdueDays,
		Fine:        receipt.Fine.StringFixed(2),
	})
}

// Renew extends a loan's due date.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	id := circulation.RecordID(chi.URLParam(r, "id"))

	record, err := h.Engine.Renew(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// MarkLost closes out a loan as lost.
func (h *Handler) MarkLost(w http.ResponseWriter, r *http.Request) {
	id := circulation.RecordID(chi.URLParam(r, "id"))

	record, err := h.Engine.MarkLost(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// MarkDamaged closes out a loan as damaged.
func (h *Handler) MarkDamaged(w http.ResponseWriter, r *http.Request) {
	id := circulation.RecordID(chi.URLParam(r, "id"))

	record, err := h.Engine.MarkDamaged(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// ListOverdue returns loans currently past their due date.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	records, err := h.Engine.Overdue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list overdue loans", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// Reserve queues a user for a book.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Engine.Reserve(r.Context(), circulation.UserID(req.UserID), circulation.BookID(req.BookID))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(record))
}

// CancelReservation cancels a reservation on behalf of its owner, or of an
// administrator when allow_override is set.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := circulation.RecordID(chi.URLParam(r, "id"))

	var req CancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	record, err := h.Engine.CancelReservation(r.Context(), circulation.UserID(req.UserID), id, req.AllowOverride)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweeps triggers the overdue and reservation-expiry sweeps immediately.
func (h *Handler) RunSweeps(w http.ResponseWriter, r *http.Request) {
	overdue, err := h.Engine.SweepOverdue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Overdue sweep failed", err)
		return
	}
	expired, err := h.Engine.SweepReservations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reservation sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{Overdue: overdue, ExpiredReservations: expired})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case circulation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, circulation.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case circulation.IsClientError(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
