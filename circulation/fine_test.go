package circulation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/circulation-engine/circulation"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOverdueDays(t *testing.T) {
	due := date(2026, time.March, 31)

	cases := []struct {
		name       string
		returnedAt time.Time
		want       int
	}{
		{"on the due date", date(2026, time.March, 31), 0},
		{"early", date(2026, time.March, 20), 0},
		{"one day late", date(2026, time.April, 1), 1},
		{"five days late", date(2026, time.April, 5), 5},
		{"late in the evening still counts whole days", time.Date(2026, time.April, 5, 23, 30, 0, 0, time.UTC), 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := circulation.OverdueDays(due, tc.returnedAt); got != tc.want {
				t.Errorf("OverdueDays(%v) = %d, want %d", tc.returnedAt, got, tc.want)
			}
		})
	}
}

func TestFineFor(t *testing.T) {
	policy := circulation.DefaultPolicy() // 0.50/day

	if got := circulation.FineFor(policy, 0); !got.IsZero() {
		t.Errorf("expected zero fine for 0 days, got %v", got)
	}
	if got := circulation.FineFor(policy, 5); !got.Equal(decimal.NewFromFloat(2.50)) {
		t.Errorf("expected 2.50 for 5 days, got %v", got)
	}
	// Exact decimal arithmetic: 3 days at 0.10 is exactly 0.30
	policy.DailyFineRate = decimal.NewFromFloat(0.10)
	if got := circulation.FineFor(policy, 3); got.String() != "0.3" {
		t.Errorf("expected exact 0.3, got %v", got)
	}
}

func TestDateArithmetic(t *testing.T) {
	// DateOf truncates to midnight UTC regardless of zone
	est := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, time.March, 1, 22, 30, 0, 0, est) // 03:30 UTC on March 2
	if got := circulation.DateOf(at); !got.Equal(date(2026, time.March, 2)) {
		t.Errorf("DateOf(%v) = %v, want 2026-03-02", at, got)
	}

	if got := circulation.DaysBetween(date(2026, time.March, 1), date(2026, time.March, 31)); got != 30 {
		t.Errorf("DaysBetween = %d, want 30", got)
	}
	if got := circulation.DaysBetween(date(2026, time.March, 31), date(2026, time.March, 1)); got != -30 {
		t.Errorf("DaysBetween reversed = %d, want -30", got)
	}
}
