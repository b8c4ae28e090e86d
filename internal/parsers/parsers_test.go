package parsers

import (
	"testing"

	"github.com/tradeforge/optionpipe/internal/models"
)

func TestDetectSourceOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload map[string]interface{}
		want    string
	}{
		{map[string]interface{}{"phase": "MARKUP", "score": 8.0, "trend": "BULLISH"}, SourceSatyPhase},
		{map[string]interface{}{"dots": "up,up,up"}, SourceMTFTrendDots},
		{map[string]interface{}{"tf1": "up", "tf2": "up"}, SourceMTFTrendDots},
		{map[string]interface{}{"orb_high": 502.0, "score": 5.0}, SourceORBBHCH},
		{map[string]interface{}{"strat_pattern": "2-2", "trend": "BULLISH"}, SourceStratEngine},
		{map[string]interface{}{"score": 8.0, "trend": "BULLISH"}, SourceUltimateOption},
		{map[string]interface{}{"ticker": "SPY", "direction": "LONG"}, SourceGeneric},
	}
	for _, c := range cases {
		if got := DetectSource(c.payload); got != c.want {
			t.Errorf("DetectSource(%v) = %q, want %q", c.payload, got, c.want)
		}
	}
}

func TestUltimateOptionParse(t *testing.T) {
	t.Parallel()

	r := NewRegistry().Parse(map[string]interface{}{
		"ticker":        "SPY",
		"trend":         "BULLISH",
		"score":         8.5,
		"current_price": 502.15,
		"timeframe":     "15m",
	})
	if r.Signal == nil {
		t.Fatalf("expected signal, got errors %v", r.Errors)
	}
	sig := r.Signal
	if sig.Source != SourceUltimateOption {
		t.Errorf("source = %q", sig.Source)
	}
	if sig.Direction != models.DirectionCall {
		t.Errorf("direction = %q, want CALL", sig.Direction)
	}
	if conf := sig.Metadata["confidence"].(float64); conf != 85 {
		t.Errorf("confidence = %v, want 85", conf)
	}
	// 502.15 sits in the >= 200 bracket with $10 increments.
	if strike := sig.Metadata["strike"].(float64); strike != 500 {
		t.Errorf("strike = %v, want 500", strike)
	}
	if sig.Metadata["expiration"] == "" {
		t.Error("expiration not derived")
	}
}

func TestSatyRotationalPhaseNotActionable(t *testing.T) {
	t.Parallel()

	r := NewRegistry().Parse(map[string]interface{}{
		"phase":  "CONSOLIDATION",
		"ticker": "QQQ",
		"price":  430.5,
	})
	if r.Signal != nil {
		t.Fatalf("rotational phase should not produce a signal, got %+v", r.Signal)
	}
	if len(r.Errors) == 0 {
		t.Error("expected an error explaining the drop")
	}
}

func TestTestPingRejected(t *testing.T) {
	t.Parallel()

	r := NewRegistry().Parse(map[string]interface{}{
		"ticker": "TEST",
		"test":   true,
	})
	if r.Signal != nil {
		t.Fatal("test ping should not produce a signal")
	}
	if !r.IsTest {
		t.Error("IsTest not set")
	}
}

func TestGenericFallbackDefaults(t *testing.T) {
	t.Parallel()

	r := NewRegistry().Parse(map[string]interface{}{
		"ticker":    "IWM",
		"direction": "SHORT",
		"price":     200.0,
	})
	if r.Signal == nil {
		t.Fatalf("expected signal, got %v", r.Errors)
	}
	if r.Signal.Direction != models.DirectionPut {
		t.Errorf("direction = %q, want PUT", r.Signal.Direction)
	}
	if conf := r.Signal.Metadata["confidence"].(float64); conf != 50 {
		t.Errorf("default confidence = %v, want 50", conf)
	}
	if r.Signal.Timeframe != "1D" {
		t.Errorf("timeframe = %q, want 1D", r.Signal.Timeframe)
	}
}

func TestGenericMissingDirection(t *testing.T) {
	t.Parallel()

	r := NewRegistry().Parse(map[string]interface{}{
		"ticker": "SPY",
		"price":  500.0,
	})
	if r.Signal != nil {
		t.Fatal("payload without direction should not produce a signal")
	}
}
