package decision

import (
	"fmt"
	"math"

	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/models"
)

// EntryInput is everything the entry stack reads. Context and GEX may be
// nil when their feeds are degraded; the corresponding rules then skip.
type EntryInput struct {
	Signal        *models.Signal
	Context       *models.ContextSnapshot
	GEX           *models.GEXSignal
	Risk          *models.RiskLimits
	VIX           float64
	Spot          float64 // current underlying price
	DTE           int     // days to the derived expiration
	OpenPositions int
	BaseQuantity  int
}

// EntryResult is the orchestrator's answer for one signal.
type EntryResult struct {
	Verdict      models.Verdict
	Confidence   float64
	Quantity     int
	Reasoning    []string
	Calculations models.JSONMap
	Plan         TradePlan
	Conflict     bool
}

// EvaluateEntry runs the ordered entry rule stack. Each rule records its
// adjustment with a reason; the final score is clamped to [0,100] and
// anything below the minimum threshold rejects.
func (o *Orchestrator) EvaluateEntry(in EntryInput) *EntryResult {
	sc := newScorecard(BaseConfidence)
	dir := in.Signal.Direction
	qtyMult := 1.0
	shortGamma := false
	conflict := false

	// Hard gates before scoring.
	if in.Risk != nil && in.OpenPositions >= in.Risk.MaxOpenPositions {
		return rejected(sc, fmt.Sprintf("max open positions reached (%d)", in.OpenPositions))
	}
	if in.Risk != nil && in.VIX > in.Risk.MaxVixForEntry {
		if in.Risk.VixHardReject {
			return rejected(sc, fmt.Sprintf("VIX %.1f above cap %.1f", in.VIX, in.Risk.MaxVixForEntry))
		}
		qtyMult *= in.Risk.VixSizeReduction
		sc.note(fmt.Sprintf("VIX %.1f above cap %.1f, size reduced", in.VIX, in.Risk.MaxVixForEntry))
	}

	if g := in.GEX; g != nil {
		// 1. Direction alignment with the overall GEX bias.
		switch directionAligned(g.Direction, dir) {
		case 1:
			sc.adjust(20, "GEX bias aligned with direction")
		case -1:
			sc.adjust(-20, "GEX bias opposes direction")
		}

		// 2. Gamma flip matching direction also scales size. A NEUTRAL flip
		// carries no directional information and moves nothing.
		if g.FlipDetected {
			switch directionAligned(g.Direction, dir) {
			case 1:
				sc.adjust(15, "gamma flip supports direction")
				qtyMult *= 1.25
			case -1:
				sc.adjust(-15, "gamma flip against direction")
				qtyMult *= 0.75
			}
		}

		// 3. Zero-gamma breakout with HIGH conviction.
		zg, _ := g.ZeroGamma.Float64()
		if zg > 0 && math.Abs(g.Strength) >= highConvictionStrength {
			breakout := (dir == models.DirectionCall && in.Spot > zg) ||
				(dir == models.DirectionPut && in.Spot < zg)
			if breakout {
				sc.adjust(18, "zero-gamma breakout aligned, high conviction")
			} else {
				sc.adjust(-12, "price on wrong side of zero-gamma")
			}
		}

		// 4. Max-pain magnet.
		mp, _ := g.MaxPain.Float64()
		if mp > 0 && in.Spot > 0 {
			pull := (mp - in.Spot) / in.Spot
			aligned := (dir == models.DirectionCall && pull > 0) ||
				(dir == models.DirectionPut && pull < 0)
			if aligned {
				sc.adjust(12, "max-pain magnet pulls with direction")
			} else {
				sc.adjust(-15, "max-pain magnet pulls against direction")
			}
			if math.Abs(pull) > 0.02 && in.DTE <= 3 {
				conflict = true
				sc.note("strong max-pain magnet with DTE <= 3, conflict flagged")
			}
			sc.calc["max_pain_pull_pct"] = pull * 100
		}

		// 5. P/C-ratio extremes read contrarian.
		if g.PCRatio >= 1.2 {
			if dir == models.DirectionCall {
				sc.adjust(10, fmt.Sprintf("P/C %.2f extreme, contrarian bullish", g.PCRatio))
			} else {
				sc.adjust(-10, fmt.Sprintf("P/C %.2f extreme opposes puts", g.PCRatio))
			}
		} else if g.PCRatio > 0 && g.PCRatio <= 0.7 {
			if dir == models.DirectionPut {
				sc.adjust(10, fmt.Sprintf("P/C %.2f extreme, contrarian bearish", g.PCRatio))
			} else {
				sc.adjust(-10, fmt.Sprintf("P/C %.2f extreme opposes calls", g.PCRatio))
			}
		}
		sc.calc["pc_ratio"] = g.PCRatio
		sc.calc["net_gex"] = g.NetGEX
	}

	// 6. Market-regime alignment. A confident opposing regime rejects
	// outright regardless of the running score.
	if c := in.Context; c != nil {
		align := contextAligned(c.Bias, dir)
		if align == -1 && c.RegimeConfidence >= 70 {
			return rejected(sc, fmt.Sprintf("regime %s (%.0f%%) opposes direction", c.Bias, c.RegimeConfidence))
		}
		if align != 0 {
			delta := float64(align) * 15 * c.RegimeConfidence / 100
			sc.adjust(delta, fmt.Sprintf("regime %s at %.0f%% confidence", c.Bias, c.RegimeConfidence))
		}
	}

	if g := in.GEX; g != nil && in.Spot > 0 {
		// 7. Gamma-wall proximity with direction polarity.
		cw, _ := g.CallWall.Float64()
		pw, _ := g.PutWall.Float64()
		if cw > 0 && math.Abs(in.Spot-cw)/in.Spot <= wallProximityPct {
			if dir == models.DirectionCall {
				sc.adjust(-10, "call wall overhead resists upside")
			} else {
				sc.adjust(8, "call wall overhead supports downside")
			}
		}
		if pw > 0 && math.Abs(in.Spot-pw)/in.Spot <= wallProximityPct {
			if dir == models.DirectionPut {
				sc.adjust(-10, "put wall below resists downside")
			} else {
				sc.adjust(8, "put wall below supports upside")
			}
		}

		// 8. Short-gamma tape: smaller size, wider stops.
		if g.DealerPosition == gex.ShortGamma {
			shortGamma = true
			qtyMult *= 0.75
			sc.note("dealers short gamma: size x0.75, stops widened")
		}
	}

	confidence := sc.clamped()
	sc.calc["confidence"] = confidence
	sc.calc["qty_multiplier"] = qtyMult

	if confidence < MinConfidenceThreshold {
		sc.note(fmt.Sprintf("confidence %.0f below threshold %.0f", confidence, MinConfidenceThreshold))
		return &EntryResult{
			Verdict:      models.VerdictReject,
			Confidence:   confidence,
			Reasoning:    sc.reasoning,
			Calculations: sc.calc,
			Conflict:     conflict,
		}
	}

	qty := o.size(in, qtyMult)
	plan := buildPlan(shortGamma)

	return &EntryResult{
		Verdict:      models.VerdictEnter,
		Confidence:   confidence,
		Quantity:     qty,
		Reasoning:    sc.reasoning,
		Calculations: sc.calc,
		Plan:         plan,
		Conflict:     conflict,
	}
}

// size computes quantity = round(base * multiplier) clamped to the
// configured bounds.
func (o *Orchestrator) size(in EntryInput, qtyMult float64) int {
	base := in.BaseQuantity
	if base <= 0 {
		base = 1
	}
	minSize, maxSize := 1, 10
	if in.Risk != nil {
		if in.Risk.MinPositionSize > 0 {
			minSize = in.Risk.MinPositionSize
		}
		if in.Risk.MaxPositionSize > 0 {
			maxSize = in.Risk.MaxPositionSize
		}
	}
	qty := int(math.Round(float64(base) * qtyMult))
	if qty < minSize {
		qty = minSize
	}
	if qty > maxSize {
		qty = maxSize
	}
	return qty
}

// buildPlan derives the trade plan; short-gamma tape widens stops 20%.
func buildPlan(shortGamma bool) TradePlan {
	plan := TradePlan{
		StopLossPct:     0.50,
		Target1Pct:      0.25,
		Target2Pct:      0.50,
		TrailingStopPct: 0.15,
		MaxHoldHours:    72,
	}
	if shortGamma {
		plan.StopLossPct *= 1.2
		plan.TrailingStopPct *= 1.2
	}
	return plan
}

func rejected(sc *scorecard, reason string) *EntryResult {
	sc.note("REJECT: " + reason)
	return &EntryResult{
		Verdict:      models.VerdictReject,
		Confidence:   sc.clamped(),
		Reasoning:    sc.reasoning,
		Calculations: sc.calc,
	}
}
