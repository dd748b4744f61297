/*
fine.go - Overdue and fine derivation

PURPOSE:
  Pure helpers that derive overdue days and fine amounts from a record and
  the policy. The fine is a computed value exposed on the return receipt;
  settlement is out of scope. The Overdue sweep never changes the fine
  basis - fines always derive from the original due date.
*/
package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverdueDays returns the number of whole calendar days a return at the
// given instant is past the due date. Zero when returned on time.
func OverdueDays(dueDate time.Time, returnedAt time.Time) int {
	days := DaysBetween(dueDate, returnedAt)
	if days < 0 {
		return 0
	}
	return days
}

// FineFor computes the fine for a number of overdue days at the policy's
// daily rate. Exact decimal arithmetic; never floats.
func FineFor(p Policy, overdueDays int) decimal.Decimal {
	if overdueDays <= 0 {
		return decimal.Zero
	}
	return p.DailyFineRate.Mul(decimal.NewFromInt(int64(overdueDays)))
}

// ReturnReceipt is the result of a return: the updated record plus the
// derived fine. A zero fine means the book came back on time.
type ReturnReceipt struct {
	Record      *LoanRecord
	OverdueDays int
	Fine        decimal.Decimal
}
