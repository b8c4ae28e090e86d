package parsers

import (
	"math"
	"time"
)

// Option-parameter derivation for sources that send equity-only signals.
// Every dialect funnels through these helpers so strikes, expirations, and
// quantities stay consistent across the pipeline.

// atmStrike snaps a price to the nearest standard strike increment:
// 2.5 below $25, 5 below $200, 10 above.
func atmStrike(price float64) float64 {
	var inc float64
	switch {
	case price < 25:
		inc = 2.5
	case price < 200:
		inc = 5
	default:
		inc = 10
	}
	return math.Round(price/inc) * inc
}

// nextMonthlyExpiration returns the third Friday of the current month, or
// of the next month when the current one has passed.
func nextMonthlyExpiration(now time.Time) time.Time {
	for m := 0; ; m++ {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, m, 0)
		// Walk to the first Friday, then add two weeks.
		offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
		third := first.AddDate(0, 0, offset+14)
		if third.After(now) {
			return third
		}
	}
}

// nextWeeklyExpiration returns the next Friday strictly after now.
func nextWeeklyExpiration(now time.Time) time.Time {
	offset := (int(time.Friday) - int(now.Weekday()) + 7) % 7
	if offset == 0 {
		offset = 7
	}
	d := now.AddDate(0, 0, offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
}

// deriveQuantity scales contract count linearly from source confidence:
// base + confidence*scale, clamped to [1, 10]. Base and scale are
// per-dialect; confidence is on the source's own 0-100 scale.
func deriveQuantity(confidence, base, scale float64) int {
	q := int(math.Round(base + confidence*scale))
	if q < 1 {
		q = 1
	}
	if q > 10 {
		q = 10
	}
	return q
}
