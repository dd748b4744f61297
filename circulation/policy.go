/*
policy.go - Circulation policy knobs

PURPOSE:
  A small set of named numeric values supplied at startup. The engine is
  parameterized by a Policy and hard-codes none of these numbers. Changing
  policy means restarting with new values; there is no runtime mutation.

KNOBS:
  LoanPeriodDays        How long a borrow lasts before it is due
  MaxActiveLoans        Concurrent active loans allowed per user
  DailyFineRate         Fine accrued per calendar day overdue
  MaxRenewals           How many times a single loan may be renewed
  RenewalExtensionDays  Days added to the due date per renewal
  ReservationHoldDays   How long a reservation holds queue priority
  RenewalGraceDays      Days past due beyond which renewal is refused

SEE ALSO:
  - engine.go: Consumes the policy at construction
  - fine.go: Uses DailyFineRate
*/
package circulation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POLICY - Immutable configuration for the engine
// =============================================================================

type Policy struct {
	LoanPeriodDays       int
	MaxActiveLoans       int
	DailyFineRate        decimal.Decimal
	MaxRenewals          int
	RenewalExtensionDays int
	ReservationHoldDays  int
	RenewalGraceDays     int
}

// DefaultPolicy returns the standard library policy: 30-day loans, five
// concurrent loans, 0.50/day fines, one 15-day renewal, 3-day reservation
// holds, and a 7-day renewal grace window.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:       30,
		MaxActiveLoans:       5,
		DailyFineRate:        decimal.NewFromFloat(0.50),
		MaxRenewals:          1,
		RenewalExtensionDays: 15,
		ReservationHoldDays:  3,
		RenewalGraceDays:     7,
	}
}

// Validate rejects policies that would make the engine misbehave.
func (p Policy) Validate() error {
	if p.LoanPeriodDays <= 0 {
		return fmt.Errorf("loan period must be positive, got %d", p.LoanPeriodDays)
	}
	if p.MaxActiveLoans <= 0 {
		return fmt.Errorf("max active loans must be positive, got %d", p.MaxActiveLoans)
	}
	if p.DailyFineRate.IsNegative() {
		return fmt.Errorf("daily fine rate must not be negative, got %s", p.DailyFineRate)
	}
	if p.MaxRenewals < 0 {
		return fmt.Errorf("max renewals must not be negative, got %d", p.MaxRenewals)
	}
	if p.RenewalExtensionDays <= 0 {
		return fmt.Errorf("renewal extension must be positive, got %d", p.RenewalExtensionDays)
	}
	if p.ReservationHoldDays <= 0 {
		return fmt.Errorf("reservation hold must be positive, got %d", p.ReservationHoldDays)
	}
	if p.RenewalGraceDays < 0 {
		return fmt.Errorf("renewal grace must not be negative, got %d", p.RenewalGraceDays)
	}
	return nil
}
