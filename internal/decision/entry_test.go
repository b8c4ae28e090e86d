package decision

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/models"
)

func callSignal() *models.Signal {
	return &models.Signal{
		ID:        "sig-1",
		Symbol:    "SPY",
		Direction: models.DirectionCall,
		Metadata:  models.JSONMap{"confidence": 70.0, "current_price": 500.0},
	}
}

func defaultRisk() *models.RiskLimits {
	return &models.RiskLimits{
		MaxOpenPositions: 5,
		MaxVixForEntry:   30,
		VixSizeReduction: 0.5,
		MinPositionSize:  1,
		MaxPositionSize:  10,
	}
}

func TestEvaluateEntryBaseCase(t *testing.T) {
	t.Parallel()

	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal:       callSignal(),
		Risk:         defaultRisk(),
		VIX:          15,
		Spot:         500,
		BaseQuantity: 2,
	})
	// No GEX, no context: the base confidence of 50 clears the threshold.
	if res.Verdict != models.VerdictEnter {
		t.Fatalf("verdict = %q, want ENTER (reasons %v)", res.Verdict, res.Reasoning)
	}
	if res.Confidence != BaseConfidence {
		t.Errorf("confidence = %v, want base %v", res.Confidence, BaseConfidence)
	}
	if res.Quantity != 2 {
		t.Errorf("quantity = %d, want base 2", res.Quantity)
	}
}

func TestEvaluateEntryGEXAlignment(t *testing.T) {
	t.Parallel()

	o := New()
	aligned := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		GEX:    &models.GEXSignal{Direction: gex.Bullish, DealerPosition: gex.LongGamma},
		VIX:    15,
		Spot:   500,
	})
	opposed := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		GEX:    &models.GEXSignal{Direction: gex.Bearish, DealerPosition: gex.LongGamma},
		VIX:    15,
		Spot:   500,
	})
	if aligned.Confidence != 70 {
		t.Errorf("aligned confidence = %v, want 70", aligned.Confidence)
	}
	if opposed.Confidence != 30 {
		t.Errorf("opposed confidence = %v, want 30", opposed.Confidence)
	}
	if opposed.Verdict != models.VerdictReject {
		t.Errorf("30 is below the threshold, want REJECT, got %q", opposed.Verdict)
	}
}

func TestEvaluateEntryNeutralFlipMovesNothing(t *testing.T) {
	t.Parallel()

	// A flip with a NEUTRAL bias has no directional read: neither the
	// flip bonus nor the size scaling applies.
	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		GEX: &models.GEXSignal{
			Direction:      gex.Neutral,
			DealerPosition: gex.LongGamma,
			FlipDetected:   true,
		},
		VIX:          15,
		Spot:         500,
		BaseQuantity: 2,
	})
	if res.Verdict != models.VerdictEnter {
		t.Fatalf("verdict = %q, want ENTER", res.Verdict)
	}
	if res.Confidence != BaseConfidence {
		t.Errorf("confidence = %v, want base %v", res.Confidence, BaseConfidence)
	}
	if res.Quantity != 2 {
		t.Errorf("quantity = %d, want unscaled 2", res.Quantity)
	}
}

func TestEvaluateEntryMaxPositionsGate(t *testing.T) {
	t.Parallel()

	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal:        callSignal(),
		Risk:          defaultRisk(),
		OpenPositions: 5,
		VIX:           15,
		Spot:          500,
	})
	if res.Verdict != models.VerdictReject {
		t.Fatalf("at max positions, verdict = %q, want REJECT", res.Verdict)
	}
}

func TestEvaluateEntryVIXGate(t *testing.T) {
	t.Parallel()

	o := New()

	// Soft cap: size halves but the trade proceeds.
	soft := o.EvaluateEntry(EntryInput{
		Signal:       callSignal(),
		Risk:         defaultRisk(),
		VIX:          35,
		Spot:         500,
		BaseQuantity: 4,
	})
	if soft.Verdict != models.VerdictEnter {
		t.Fatalf("soft VIX cap should still enter, got %q", soft.Verdict)
	}
	if soft.Quantity != 2 {
		t.Errorf("size above VIX cap = %d, want 2 (halved)", soft.Quantity)
	}

	// Hard reject.
	risk := defaultRisk()
	risk.VixHardReject = true
	hard := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   risk,
		VIX:    35,
		Spot:   500,
	})
	if hard.Verdict != models.VerdictReject {
		t.Errorf("hard VIX cap verdict = %q, want REJECT", hard.Verdict)
	}
}

func TestEvaluateEntryConfidentOpposingRegimeRejects(t *testing.T) {
	t.Parallel()

	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		Context: &models.ContextSnapshot{
			Bias:             "BEARISH",
			RegimeConfidence: 80,
		},
		VIX:  15,
		Spot: 500,
	})
	if res.Verdict != models.VerdictReject {
		t.Fatalf("confident opposing regime must reject, got %q", res.Verdict)
	}
}

func TestEvaluateEntryShortGammaShrinksSizeAndWidensStops(t *testing.T) {
	t.Parallel()

	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		GEX: &models.GEXSignal{
			Direction:      gex.Bullish,
			DealerPosition: gex.ShortGamma,
		},
		VIX:          15,
		Spot:         500,
		BaseQuantity: 4,
	})
	if res.Verdict != models.VerdictEnter {
		t.Fatalf("verdict = %q, want ENTER", res.Verdict)
	}
	if res.Quantity != 3 {
		t.Errorf("short-gamma size = %d, want 3 (4 x 0.75)", res.Quantity)
	}
	if res.Plan.StopLossPct <= 0.50 {
		t.Errorf("short-gamma stop = %v, want widened beyond 0.50", res.Plan.StopLossPct)
	}
}

func TestEvaluateEntryMaxPainConflictFlag(t *testing.T) {
	t.Parallel()

	o := New()
	res := o.EvaluateEntry(EntryInput{
		Signal: callSignal(),
		Risk:   defaultRisk(),
		GEX: &models.GEXSignal{
			Direction: gex.Bullish,
			MaxPain:   decimal.NewFromInt(480), // 4% below spot, against the call
		},
		VIX:  15,
		Spot: 500,
		DTE:  2,
	})
	if !res.Conflict {
		t.Error("strong opposing max-pain pull with DTE <= 3 should flag a conflict")
	}
}
