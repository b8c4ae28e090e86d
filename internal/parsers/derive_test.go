package parsers

import (
	"testing"
	"time"
)

func TestATMStrikeIncrements(t *testing.T) {
	t.Parallel()

	cases := []struct {
		price, want float64
	}{
		{12.3, 12.5},
		{24.9, 25},
		{101.0, 100},
		{102.6, 105},
		{199.0, 200},
		{432.1, 430},
		{506.0, 510},
	}
	for _, c := range cases {
		if got := atmStrike(c.price); got != c.want {
			t.Errorf("atmStrike(%v) = %v, want %v", c.price, got, c.want)
		}
	}
}

func TestNextMonthlyExpirationIsThirdFriday(t *testing.T) {
	t.Parallel()

	// 2026-08-03 is a Monday; the third Friday of August 2026 is the 21st.
	now := time.Date(2026, time.August, 3, 10, 0, 0, 0, time.UTC)
	exp := nextMonthlyExpiration(now)
	if exp.Weekday() != time.Friday {
		t.Fatalf("expiration %v is not a Friday", exp)
	}
	if exp.Day() != 21 || exp.Month() != time.August {
		t.Errorf("expiration = %v, want 2026-08-21", exp.Format("2006-01-02"))
	}

	// After the third Friday the derivation rolls to next month.
	late := time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC)
	exp = nextMonthlyExpiration(late)
	if exp.Month() != time.September || exp.Day() != 18 {
		t.Errorf("rolled expiration = %v, want 2026-09-18", exp.Format("2006-01-02"))
	}
}

func TestNextWeeklyExpirationStrictlyAfter(t *testing.T) {
	t.Parallel()

	// From a Friday the next weekly is the following Friday, never today.
	friday := time.Date(2026, time.August, 21, 9, 0, 0, 0, time.UTC)
	exp := nextWeeklyExpiration(friday)
	if exp.Day() != 28 {
		t.Errorf("from Friday, next weekly = %v, want the 28th", exp.Format("2006-01-02"))
	}

	wednesday := time.Date(2026, time.August, 19, 9, 0, 0, 0, time.UTC)
	exp = nextWeeklyExpiration(wednesday)
	if exp.Day() != 21 {
		t.Errorf("from Wednesday, next weekly = %v, want the 21st", exp.Format("2006-01-02"))
	}
}

func TestDeriveQuantityClamps(t *testing.T) {
	t.Parallel()

	if q := deriveQuantity(0, 0, 0.08); q != 1 {
		t.Errorf("zero confidence quantity = %d, want floor 1", q)
	}
	if q := deriveQuantity(100, 5, 0.08); q != 10 {
		t.Errorf("oversized quantity = %d, want cap 10", q)
	}
	if q := deriveQuantity(85, 1, 0.08); q != 8 {
		t.Errorf("quantity = %d, want 8", q)
	}
}
