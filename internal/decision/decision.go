// Package decision implements the multi-factor orchestrator: the entry,
// hold, and exit rule stacks that turn normalized signals and market
// context into trade decisions.
//
// All three stacks share one confidence model: start at a base score, apply
// additive adjustments from independent factor blocks, clamp to [0,100],
// and reject below the minimum threshold. Every adjustment is recorded with
// its reason so decisions replay from the audit trail.
package decision

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/models"
)

// Confidence model constants.
const (
	BaseConfidence         = 50.0
	MinConfidenceThreshold = 35.0
	BaseHoldConfidence     = 70.0
)

// highConvictionStrength is the |GEX strength| above which a zero-gamma
// breakout counts as HIGH conviction.
const highConvictionStrength = 0.6

// wallProximityPct is how close (fraction of spot) price must be to a
// gamma wall for the proximity rule to fire.
const wallProximityPct = 0.01

// Exit urgencies.
const (
	UrgencyImmediate = "IMMEDIATE"
	UrgencySoon      = "SOON"
	UrgencyOptional  = "OPTIONAL"
)

// Alert priorities for the exit-signals surface.
const (
	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
)

// Exit actions.
const (
	ActionCloseFull    = "CLOSE_FULL"
	ActionClosePartial = "CLOSE_PARTIAL"
	ActionTightenStop  = "TIGHTEN_STOP"
	ActionPartialExit  = "PARTIAL_EXIT"
	ActionExit         = "EXIT"
	ActionHold         = "HOLD"
)

// TradePlan is attached to every ENTER decision.
type TradePlan struct {
	StopLossPct     float64 `json:"stop_loss_pct"`
	Target1Pct      float64 `json:"target_1_pct"`
	Target2Pct      float64 `json:"target_2_pct"`
	TrailingStopPct float64 `json:"trailing_stop_pct"`
	MaxHoldHours    int     `json:"max_hold_hours"`
}

// scorecard accumulates adjustments with reasons.
type scorecard struct {
	score     float64
	reasoning []string
	calc      models.JSONMap
}

func newScorecard(base float64) *scorecard {
	return &scorecard{score: base, calc: models.JSONMap{}}
}

func (s *scorecard) adjust(delta float64, reason string) {
	s.score += delta
	s.reasoning = append(s.reasoning, fmt.Sprintf("%+.0f %s", delta, reason))
}

func (s *scorecard) note(reason string) {
	s.reasoning = append(s.reasoning, reason)
}

func (s *scorecard) clamped() float64 {
	return math.Max(0, math.Min(100, s.score))
}

// Orchestrator evaluates entries, holds, and exits. Stateless: every input
// arrives as a snapshot, every output is a value.
type Orchestrator struct{}

func New() *Orchestrator {
	return &Orchestrator{}
}

// directionAligned reports whether a GEX bias label agrees with the trade
// direction.
func directionAligned(bias string, dir models.Direction) int {
	switch bias {
	case gex.Bullish:
		if dir == models.DirectionCall {
			return 1
		}
		return -1
	case gex.Bearish:
		if dir == models.DirectionPut {
			return 1
		}
		return -1
	}
	return 0
}

// contextAligned reports whether the market-regime bias agrees with the
// direction.
func contextAligned(bias string, dir models.Direction) int {
	switch bias {
	case "BULLISH", "BULL", "RISK_ON":
		if dir == models.DirectionCall {
			return 1
		}
		return -1
	case "BEARISH", "BEAR", "RISK_OFF":
		if dir == models.DirectionPut {
			return 1
		}
		return -1
	}
	return 0
}

func pctOf(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	f, _ := a.Sub(b).Div(b).Float64()
	return f
}
