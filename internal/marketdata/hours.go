package marketdata

import (
	"time"
)

// MarketHours describes the current session.
type MarketHours struct {
	IsOpen    bool      `json:"is_open"`
	Opens     time.Time `json:"opens"`
	Closes    time.Time `json:"closes"`
	CheckedAt time.Time `json:"checked_at"`
}

var easternTZ = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Fixed offset fallback for containers without tzdata. EST only;
		// acceptable because market hours are advisory, not an invariant.
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// marketHoursAt computes the regular session for the instant t.
// Weekdays 09:30–16:00 Eastern, inclusive of open, exclusive of close.
// No holiday calendar.
func marketHoursAt(t time.Time) MarketHours {
	et := t.In(easternTZ)
	opens := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, easternTZ)
	closes := time.Date(et.Year(), et.Month(), et.Day(), 16, 0, 0, 0, easternTZ)

	open := et.Weekday() != time.Saturday && et.Weekday() != time.Sunday &&
		!et.Before(opens) && et.Before(closes)

	return MarketHours{IsOpen: open, Opens: opens, Closes: closes, CheckedAt: t}
}
