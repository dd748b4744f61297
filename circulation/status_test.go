package circulation_test

import (
	"testing"

	"github.com/warp/circulation-engine/circulation"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to circulation.Status }{
		{circulation.StatusReserved, circulation.StatusBorrowed},
		{circulation.StatusReserved, circulation.StatusReservationCanceled},
		{circulation.StatusReserved, circulation.StatusReservationExpired},
		{circulation.StatusBorrowed, circulation.StatusReturned},
		{circulation.StatusBorrowed, circulation.StatusOverdue},
		{circulation.StatusBorrowed, circulation.StatusLost},
		{circulation.StatusOverdue, circulation.StatusReturned},
		{circulation.StatusOverdue, circulation.StatusBorrowed},
		{circulation.StatusOverdue, circulation.StatusDamaged},
	}
	for _, tr := range allowed {
		if !circulation.CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be legal", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to circulation.Status }{
		{circulation.StatusReturned, circulation.StatusBorrowed},
		{circulation.StatusLost, circulation.StatusReturned},
		{circulation.StatusReservationExpired, circulation.StatusBorrowed},
		{circulation.StatusBorrowed, circulation.StatusReserved},
	}
	for _, tr := range denied {
		if circulation.CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be illegal", tr.from, tr.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []circulation.Status{
		circulation.StatusReturned,
		circulation.StatusReservationCanceled,
		circulation.StatusReservationExpired,
		circulation.StatusLost,
		circulation.StatusDamaged,
	} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []circulation.Status{
		circulation.StatusBorrowed,
		circulation.StatusOverdue,
		circulation.StatusReserved,
	} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := circulation.DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}

	bad := circulation.DefaultPolicy()
	bad.LoanPeriodDays = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero loan period")
	}

	bad = circulation.DefaultPolicy()
	bad.MaxActiveLoans = -1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for negative loan limit")
	}
}
