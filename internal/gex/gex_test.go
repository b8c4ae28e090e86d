package gex

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
)

func contract(strike float64, typ string, gamma float64, oi, vol int64) marketdata.OptionContract {
	return marketdata.OptionContract{
		Strike:       decimal.NewFromFloat(strike),
		Type:         typ,
		Gamma:        gamma,
		OpenInterest: oi,
		Volume:       vol,
	}
}

func TestComputeCallHeavyChain(t *testing.T) {
	t.Parallel()

	chain := []marketdata.OptionContract{
		contract(490, "put", 0.01, 1000, 200),
		contract(495, "put", 0.02, 2000, 300),
		contract(500, "call", 0.05, 8000, 4000),
		contract(505, "call", 0.04, 5000, 2000),
		contract(510, "call", 0.02, 3000, 1000),
	}
	g := Compute("SPY", "1D", 502, chain, nil, time.Now())

	if g.NetGEX <= 0 {
		t.Errorf("call-heavy chain should have positive net GEX, got %v", g.NetGEX)
	}
	if g.DealerPosition != LongGamma {
		t.Errorf("dealer position = %q, want LONG_GAMMA", g.DealerPosition)
	}
	cw, _ := g.CallWall.Float64()
	if cw != 500 {
		t.Errorf("call wall = %v, want 500 (max call gamma strike)", cw)
	}
	pw, _ := g.PutWall.Float64()
	if pw != 495 {
		t.Errorf("put wall = %v, want 495", pw)
	}
	if g.PCRatio >= 1 {
		t.Errorf("P/C ratio = %v, want < 1 for call-heavy volume", g.PCRatio)
	}
	if g.FlipDetected {
		t.Error("flip detected with no previous summary")
	}
}

func TestComputeFlipDetection(t *testing.T) {
	t.Parallel()

	chain := []marketdata.OptionContract{
		contract(500, "put", 0.05, 9000, 5000),
		contract(505, "call", 0.01, 1000, 500),
	}
	prev := &models.GEXSignal{DealerPosition: LongGamma}
	g := Compute("SPY", "1D", 502, chain, prev, time.Now())

	if g.DealerPosition != ShortGamma {
		t.Fatalf("put-heavy chain should be SHORT_GAMMA, got %q", g.DealerPosition)
	}
	if !g.FlipDetected {
		t.Error("expected flip from LONG_GAMMA to SHORT_GAMMA")
	}
	if g.Regime != RegimeTrending && g.Regime != RegimeMixed {
		t.Errorf("short-gamma regime = %q", g.Regime)
	}
}

func TestComputeMaxPainMinimizesPayout(t *testing.T) {
	t.Parallel()

	// Call OI concentrated at 500 and put OI at 510 pulls pain between
	// them; settling at either extreme pays one side heavily.
	rows := []painRow{
		{strike: 490, callOI: 0, putOI: 5000},
		{strike: 500, callOI: 5000, putOI: 0},
		{strike: 510, callOI: 0, putOI: 0},
	}
	pain := computeMaxPain(rows)
	if pain != 490 && pain != 500 {
		t.Errorf("max pain = %v, expected inside the OI cluster", pain)
	}

	if computeMaxPain(nil) != 0 {
		t.Error("empty chain should give zero max pain")
	}
}

func TestComputePCRatioFallsBackToOI(t *testing.T) {
	t.Parallel()

	// No volume anywhere: the ratio must come from open interest.
	chain := []marketdata.OptionContract{
		contract(500, "call", 0.03, 1000, 0),
		contract(500, "put", 0.03, 2000, 0),
	}
	g := Compute("QQQ", "1D", 500, chain, nil, time.Now())
	if g.PCRatio != 2 {
		t.Errorf("P/C from OI = %v, want 2", g.PCRatio)
	}
}
