/*
status.go - Loan status set and transition table

PURPOSE:
  Defines the closed set of loan record statuses and which transitions
  between them are legal. The state machine:

    Reserved ──▶ Borrowed | ReservationCanceled | ReservationExpired
    Borrowed ──▶ Returned | Overdue | Lost | Damaged
    Overdue  ──▶ Returned | Borrowed (via renewal) | Lost | Damaged

  Everything else is terminal. No transition ever reverses a terminal
  status; history is preserved, not rewritten.

DISPLAY METADATA:
  Human-readable labels live in a plain lookup table (DisplayLabel) kept
  apart from the state machine. The status value itself carries no
  presentation concerns.

SEE ALSO:
  - engine.go: The only code that performs transitions
*/
package circulation

// =============================================================================
// STATUS - Closed tagged set
// =============================================================================

type Status string

const (
	StatusBorrowed            Status = "borrowed"
	StatusReturned            Status = "returned"
	StatusOverdue             Status = "overdue"
	StatusReserved            Status = "reserved"
	StatusReservationCanceled Status = "reservation_canceled"
	StatusReservationExpired  Status = "reservation_expired"
	StatusLost                Status = "lost"
	StatusDamaged             Status = "damaged"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReturned, StatusReservationCanceled, StatusReservationExpired, StatusLost, StatusDamaged:
		return true
	}
	return false
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

var validTransitions = map[Status][]Status{
	StatusReserved: {StatusBorrowed, StatusReservationCanceled, StatusReservationExpired},
	StatusBorrowed: {StatusReturned, StatusOverdue, StatusLost, StatusDamaged},
	// Renewal on an overdue loan moves it back to Borrowed because the
	// new due date is in the future.
	StatusOverdue: {StatusReturned, StatusBorrowed, StatusLost, StatusDamaged},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// DISPLAY LOOKUP - Presentation only, not part of the state machine
// =============================================================================

var statusLabels = map[Status]string{
	StatusBorrowed:            "Borrowed",
	StatusReturned:            "Returned",
	StatusOverdue:             "Overdue",
	StatusReserved:            "Reserved",
	StatusReservationCanceled: "Reservation Canceled",
	StatusReservationExpired:  "Reservation Expired",
	StatusLost:                "Lost",
	StatusDamaged:             "Damaged",
}

// DisplayLabel returns the human-readable label for a status.
func DisplayLabel(s Status) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}
