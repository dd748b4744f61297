/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Pure data-shape adapters between domain types and JSON. Dates cross the
  wire as YYYY-MM-DD, instants as RFC3339, money as decimal strings.
  Status values carry both the machine code and the display label so
  clients never need their own mapping table.
*/
package api

import (
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateBookRequest struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	ISBN      string `json:"isbn"`
	Publisher string `json:"publisher"`
	Price     string `json:"price"`
	Copies    int    `json:"copies"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type BorrowRequest struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

type ReserveRequest struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
}

type CancelReservationRequest struct {
	UserID        string `json:"user_id"`
	AllowOverride bool   `json:"allow_override"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type BookDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Publisher       string `json:"publisher,omitempty"`
	Price           string `json:"price"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

type UserDTO struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Enabled  bool   `json:"enabled"`
}

type LoanRecordDTO struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	BookID            string `json:"book_id"`
	Status            string `json:"status"`
	StatusLabel       string `json:"status_label"`
	BorrowedAt        string `json:"borrowed_at,omitempty"`
	DueDate           string `json:"due_date,omitempty"`
	ReturnedAt        string `json:"returned_at,omitempty"`
	ReservedAt        string `json:"reserved_at,omitempty"`
	ReservationExpiry string `json:"reservation_expiry,omitempty"`
	RenewalCount      int    `json:"renewal_count"`
}

type ReturnReceiptDTO struct {
	Record      LoanRecordDTO `json:"record"`
	OverdueDays int           `json:"overdue_days"`
	Fine        string        `json:"fine"`
}

type SweepResultDTO struct {
	Overdue             int `json:"overdue"`
	ExpiredReservations int `json:"expired_reservations"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBookDTO(b *circulation.Book) BookDTO {
	return BookDTO{
		ID:              string(b.ID),
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Publisher:       b.Publisher,
		Price:           b.Price.String(),
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
	}
}

func toUserDTO(u *circulation.User) UserDTO {
	return UserDTO{
		ID:       string(u.ID),
		Username: u.Username,
		Role:     u.Role,
		Enabled:  u.Enabled,
	}
}

func toRecordDTO(r *circulation.LoanRecord) LoanRecordDTO {
	dto := LoanRecordDTO{
		ID:           string(r.ID),
		UserID:       string(r.UserID),
		BookID:       string(r.BookID),
		Status:       string(r.Status),
		StatusLabel:  circulation.DisplayLabel(r.Status),
		RenewalCount: r.RenewalCount,
	}
	if !r.BorrowedAt.IsZero() {
		dto.BorrowedAt = r.BorrowedAt.Format(time.RFC3339)
	}
	if !r.DueDate.IsZero() {
		dto.DueDate = r.DueDate.Format("2006-01-02")
	}
	if r.ReturnedAt != nil {
		dto.ReturnedAt = r.ReturnedAt.Format(time.RFC3339)
	}
	if !r.ReservedAt.IsZero() {
		dto.ReservedAt = r.ReservedAt.Format(time.RFC3339)
	}
	if !r.ReservationExpiry.IsZero() {
		dto.ReservationExpiry = r.ReservationExpiry.Format("2006-01-02")
	}
	return dto
}

func toRecordDTOs(records []*circulation.LoanRecord) []LoanRecordDTO {
	dtos := make([]LoanRecordDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}
