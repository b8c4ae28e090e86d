package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// ExitInput is the context for the exit rule stack.
type ExitInput struct {
	Position     *models.Position
	Rules        *models.ExitRules
	Context      *models.ContextSnapshot
	GEX          *models.GEXSignal
	PartialTaken bool    // a prior partial exit already banked half
	ThetaDaily   float64 // estimated daily theta decay as a fraction of price
	Now          time.Time
}

// ExitSignal is one exit instruction. Urgency maps to order type downstream:
// IMMEDIATE is a market order, SOON and OPTIONAL are limits at the current
// price.
type ExitSignal struct {
	PositionID uint          `json:"position_id"`
	Symbol     string        `json:"symbol"`
	Action     string        `json:"action"`
	Urgency    string        `json:"urgency"`
	Priority   string        `json:"priority"`
	Fraction   float64       `json:"fraction"` // of current quantity
	Reason     string        `json:"reason"`
	Warnings   []HoldWarning `json:"warnings,omitempty"` // advisories from the hold stack
}

// priorityFor maps urgency onto the alert priority the exit-signals surface
// sorts by. IMMEDIATE and SOON both demand an order this cycle.
func priorityFor(urgency string) string {
	switch urgency {
	case UrgencyImmediate:
		return PriorityCritical
	case UrgencySoon:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

func exitSignal(pos *models.Position, action, urgency string, fraction float64, reason string) *ExitSignal {
	return &ExitSignal{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Action:     action,
		Urgency:    urgency,
		Priority:   priorityFor(urgency),
		Fraction:   fraction,
		Reason:     reason,
	}
}

// EvaluateExit walks the exit rules in strict priority order and returns
// the first that fires, or nil to hold. Rules below the first hit are never
// evaluated.
func (o *Orchestrator) EvaluateExit(in ExitInput) *ExitSignal {
	pos := in.Position
	rules := in.Rules
	if pos.CurrentPrice == nil {
		return nil
	}
	current, _ := pos.CurrentPrice.Float64()
	entry, _ := pos.EntryPrice.Float64()
	if entry <= 0 {
		return nil
	}
	gainPct := (current - entry) / entry

	// 1. Stop-loss.
	if gainPct <= -rules.StopLossPct {
		return exitSignal(pos, ActionCloseFull, UrgencyImmediate, 1,
			fmt.Sprintf("stop-loss: %.1f%% <= -%.1f%%", gainPct*100, rules.StopLossPct*100))
	}

	// 2. Target 2.
	if gainPct >= rules.Target2Pct {
		return exitSignal(pos, ActionCloseFull, UrgencyImmediate, 1,
			fmt.Sprintf("target-2 hit: %.1f%%", gainPct*100))
	}

	// 3. Target 1, once.
	if gainPct >= rules.Target1Pct && !in.PartialTaken {
		return exitSignal(pos, ActionClosePartial, UrgencySoon, 0.5,
			fmt.Sprintf("target-1 hit: %.1f%%, taking half", gainPct*100))
	}

	// 4. Trailing stop off the high-water mark, winners only.
	if pos.HighWaterMark != nil && gainPct > 0 {
		hwm, _ := pos.HighWaterMark.Float64()
		if hwm > 0 && current < hwm*(1-rules.TrailingStopPct) {
			return exitSignal(pos, ActionCloseFull, UrgencyImmediate, 1,
				fmt.Sprintf("trailing stop: %.2f below %.1f%% of high %.2f", current, (1-rules.TrailingStopPct)*100, hwm))
		}
	}

	if g := in.GEX; g != nil {
		// 5. Gamma flip against a profitable position.
		if g.FlipDetected && directionAligned(g.Direction, pos.Direction) == -1 && gainPct > 0.10 {
			return exitSignal(pos, ActionCloseFull, UrgencySoon, 1,
				"gamma flip against position with profit")
		}

		// 6. High-conviction zero-gamma breakout against.
		zg, _ := g.ZeroGamma.Float64()
		if zg > 0 && math.Abs(g.Strength) >= highConvictionStrength {
			spot := underlyingOf(pos, current)
			against := (pos.Direction == models.DirectionCall && spot < zg) ||
				(pos.Direction == models.DirectionPut && spot > zg)
			if against {
				return exitSignal(pos, ActionCloseFull, UrgencyImmediate, 1,
					fmt.Sprintf("zero-gamma breakout against position (level %.2f)", zg))
			}
		}
	}

	// 7. Confident regime change against.
	if c := in.Context; c != nil {
		if contextAligned(c.Bias, pos.Direction) == -1 && c.RegimeConfidence >= 70 {
			return exitSignal(pos, ActionCloseFull, UrgencySoon, 1,
				fmt.Sprintf("regime %s at %.0f%% against position", c.Bias, c.RegimeConfidence))
		}
	}

	// 8. Expiration risk.
	if pos.DTE(in.Now) <= rules.MinDTE {
		return exitSignal(pos, ActionCloseFull, UrgencyImmediate, 1,
			fmt.Sprintf("DTE %d at minimum", pos.DTE(in.Now)))
	}

	// 9. Stale trade: a week in with nothing to show.
	if in.Now.Sub(pos.EntryTime) >= time.Duration(in.Rules.MaxDaysInTrade)*24*time.Hour && gainPct < 0.10 {
		return exitSignal(pos, ActionCloseFull, UrgencyOptional, 1,
			fmt.Sprintf("%.0fh in trade with %.1f%% gain", in.Now.Sub(pos.EntryTime).Hours(), gainPct*100))
	}

	// 10. Theta bleed.
	if in.ThetaDaily > 0.05 {
		return exitSignal(pos, ActionCloseFull, UrgencySoon, 1,
			fmt.Sprintf("theta decay %.1f%%/day", in.ThetaDaily*100))
	}

	return nil
}

// OrderTypeFor maps urgency to execution style.
func OrderTypeFor(urgency string) models.OrderType {
	if urgency == UrgencyImmediate {
		return models.OrderMarket
	}
	return models.OrderLimit
}
