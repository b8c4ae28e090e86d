package decision

import (
	"fmt"
	"time"

	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/models"
)

// Warning severities attached to hold evaluations.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// Warning codes.
const (
	WarnRegimeChange = "REGIME_CHANGE"
	WarnDealerFlip   = "DEALER_FLIP"
	WarnZeroGamma    = "ZERO_GAMMA_CROSS"
	WarnWall         = "WALL_PROXIMITY"
	WarnPCRatio      = "PC_CONTRARIAN"
	WarnMaxPain      = "MAX_PAIN_PULL"
	WarnProfitTarget = "PROFIT_TARGET"
	WarnTimeDecay    = "TIME_DECAY"
)

// HoldWarning is one advisory raised during hold evaluation.
type HoldWarning struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// HoldInput is the context for evaluating one open position.
type HoldInput struct {
	Position *models.Position
	Context  *models.ContextSnapshot
	GEX      *models.GEXSignal
	Now      time.Time
}

// HoldResult is the hold stack's recommendation.
type HoldResult struct {
	Action         string  // HOLD, PARTIAL_EXIT, EXIT, TIGHTEN_STOP
	HoldConfidence float64 // clamped [0,100]
	ExitFraction   float64 // set for PARTIAL_EXIT
	TightenStopTo  float64 // set for TIGHTEN_STOP
	Warnings       []HoldWarning
	Reasoning      []string
}

// EvaluateHold scores how comfortable the position still is. Starts from
// the base hold confidence and subtracts for each adverse development.
func (o *Orchestrator) EvaluateHold(in HoldInput) *HoldResult {
	sc := newScorecard(BaseHoldConfidence)
	pos := in.Position
	var warnings []HoldWarning
	partialExit := false

	profitPct := 0.0
	current := 0.0
	if pos.CurrentPrice != nil {
		current, _ = pos.CurrentPrice.Float64()
		profitPct = pctOf(*pos.CurrentPrice, pos.EntryPrice)
	}

	// Regime turned against the position.
	if c := in.Context; c != nil {
		if contextAligned(c.Bias, pos.Direction) == -1 {
			sc.adjust(-25, fmt.Sprintf("regime %s turned against position", c.Bias))
			warnings = append(warnings, HoldWarning{
				Code: WarnRegimeChange, Severity: SeverityHigh,
				Detail: fmt.Sprintf("regime %s at %.0f%%", c.Bias, c.RegimeConfidence),
			})
		}
	}

	if g := in.GEX; g != nil {
		// Dealers flipped short gamma while the trade is in profit:
		// volatility regime changed under a winner, bank half.
		if g.FlipDetected && g.DealerPosition == gex.ShortGamma && profitPct > 0.10 {
			partialExit = true
			warnings = append(warnings, HoldWarning{
				Code: WarnDealerFlip, Severity: SeverityHigh,
				Detail: "dealer flip to short gamma with profit, take half",
			})
			sc.note("dealer flip to SHORT_GAMMA with >10% profit")
		}

		// Zero-gamma crossed against the position.
		zg, _ := g.ZeroGamma.Float64()
		if zg > 0 && current > 0 {
			spot := underlyingOf(pos, current)
			crossed := (pos.Direction == models.DirectionCall && spot < zg) ||
				(pos.Direction == models.DirectionPut && spot > zg)
			if crossed {
				sc.adjust(-20, "zero-gamma crossed against position")
				warnings = append(warnings, HoldWarning{
					Code: WarnZeroGamma, Severity: SeverityMedium,
					Detail: fmt.Sprintf("zero-gamma %.2f", zg),
				})
			}
		}

		// Adverse wall ahead of the position's path.
		if adverse, detail := adverseWall(pos, g); adverse != 0 {
			sc.adjust(adverse, detail)
			warnings = append(warnings, HoldWarning{Code: WarnWall, Severity: SeverityLow, Detail: detail})
		}

		// P/C contrarian read against the position.
		if (g.PCRatio >= 1.2 && pos.Direction == models.DirectionPut) ||
			(g.PCRatio > 0 && g.PCRatio <= 0.7 && pos.Direction == models.DirectionCall) {
			sc.adjust(-10, fmt.Sprintf("P/C %.2f contrarian against position", g.PCRatio))
			warnings = append(warnings, HoldWarning{
				Code: WarnPCRatio, Severity: SeverityLow,
				Detail: fmt.Sprintf("P/C %.2f", g.PCRatio),
			})
		}

		// Max-pain dragging the underlying the wrong way.
		mp, _ := g.MaxPain.Float64()
		strike, _ := pos.Strike.Float64()
		if mp > 0 && strike > 0 {
			adversePull := (pos.Direction == models.DirectionCall && mp < strike) ||
				(pos.Direction == models.DirectionPut && mp > strike)
			if adversePull {
				sc.adjust(-8, fmt.Sprintf("max pain %.2f pulls against position", mp))
				warnings = append(warnings, HoldWarning{
					Code: WarnMaxPain, Severity: SeverityLow,
					Detail: fmt.Sprintf("max pain %.2f vs strike %.2f", mp, strike),
				})
			}
		}
	}

	// Advisories that do not move the score.
	if profitPct >= 0.50 {
		warnings = append(warnings, HoldWarning{
			Code: WarnProfitTarget, Severity: SeverityMedium,
			Detail: fmt.Sprintf("profit %.0f%%", profitPct*100),
		})
	}
	if in.Now.Sub(pos.EntryTime) >= 72*time.Hour && profitPct < 0.10 {
		warnings = append(warnings, HoldWarning{
			Code: WarnTimeDecay, Severity: SeverityMedium,
			Detail: "72h+ in trade with <10% gain",
		})
	}

	confidence := sc.clamped()
	res := &HoldResult{
		Action:         ActionHold,
		HoldConfidence: confidence,
		Warnings:       warnings,
		Reasoning:      sc.reasoning,
	}

	nonHigh := 0
	for _, w := range warnings {
		if w.Severity != SeverityHigh {
			nonHigh++
		}
	}

	switch {
	case confidence < 30:
		res.Action = ActionExit
	case confidence < 50 && profitPct > 0.20:
		res.Action = ActionPartialExit
		res.ExitFraction = 0.5
	case partialExit:
		res.Action = ActionPartialExit
		res.ExitFraction = 0.5
	case nonHigh >= 3 && current > 0:
		res.Action = ActionTightenStop
		res.TightenStopTo = current * 0.9
	}
	return res
}

// underlyingOf estimates the underlying price for wall/zero-gamma checks.
// The refresher tracks the option's own price; the strike plus intrinsic
// recovered from the option price approximates the underlying.
func underlyingOf(pos *models.Position, optionPrice float64) float64 {
	strike, _ := pos.Strike.Float64()
	if pos.Direction == models.DirectionCall {
		return strike + optionPrice
	}
	return strike - optionPrice
}

// adverseWall returns a -5..-10 adjustment when a gamma wall blocks the
// position's path.
func adverseWall(pos *models.Position, g *models.GEXSignal) (float64, string) {
	strike, _ := pos.Strike.Float64()
	if strike <= 0 {
		return 0, ""
	}
	cw, _ := g.CallWall.Float64()
	pw, _ := g.PutWall.Float64()
	if pos.Direction == models.DirectionCall && cw > 0 && cw > strike && (cw-strike)/strike <= wallProximityPct {
		return -10, fmt.Sprintf("call wall %.2f caps upside", cw)
	}
	if pos.Direction == models.DirectionPut && pw > 0 && pw < strike && (strike-pw)/strike <= wallProximityPct {
		return -10, fmt.Sprintf("put wall %.2f floors downside", pw)
	}
	if pos.Direction == models.DirectionCall && cw > 0 && cw > strike && (cw-strike)/strike <= 2*wallProximityPct {
		return -5, fmt.Sprintf("call wall %.2f approaching", cw)
	}
	if pos.Direction == models.DirectionPut && pw > 0 && pw < strike && (strike-pw)/strike <= 2*wallProximityPct {
		return -5, fmt.Sprintf("put wall %.2f approaching", pw)
	}
	return 0, ""
}
