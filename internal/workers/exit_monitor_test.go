package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/decision"
	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/store"
)

func testExitMonitor(t *testing.T) (*ExitMonitor, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewExitMonitor(s, decision.New(), models.ModePaper, time.Minute), s
}

func openPosition(s *store.Store, t *testing.T, signalID string, entry, current float64, qty int) *models.Position {
	t.Helper()
	cur := decimal.NewFromFloat(current)
	pos := &models.Position{
		SignalID:     signalID,
		Symbol:       "SPY",
		OptionSymbol: "SPY261002C00500000",
		Strike:       decimal.NewFromInt(500),
		Expiration:   time.Now().AddDate(0, 0, 10),
		Direction:    models.DirectionCall,
		Quantity:     qty,
		EntryPrice:   decimal.NewFromFloat(entry),
		EntryTime:    time.Now(),
		CurrentPrice: &cur,
		Status:       models.PositionOpen,
		Mode:         models.ModePaper,
	}
	if err := s.CreatePosition(pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	return pos
}

func TestHoldStackTakesHalfOnDealerFlip(t *testing.T) {
	t.Parallel()
	w, s := testExitMonitor(t)

	// 15% winner with no exit rule firing; dealers just flipped short
	// gamma with no directional read, so only the hold stack reacts.
	pos := openPosition(s, t, "h1", 2.00, 2.30, 4)
	if err := s.SaveGEXSignal(&models.GEXSignal{
		Symbol:         "SPY",
		Direction:      gex.Neutral,
		DealerPosition: gex.ShortGamma,
		FlipDetected:   true,
		Timestamp:      time.Now(),
	}); err != nil {
		t.Fatalf("SaveGEXSignal: %v", err)
	}

	signals, err := w.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	es := signals[0]
	if es.Action != decision.ActionClosePartial || es.Priority != decision.PriorityHigh {
		t.Errorf("signal = %+v, want CLOSE_PARTIAL/HIGH", es)
	}
	if es.Fraction != 0.5 {
		t.Errorf("fraction = %v, want 0.5", es.Fraction)
	}
	found := false
	for _, warn := range es.Warnings {
		if warn.Code == decision.WarnDealerFlip {
			found = true
		}
	}
	if !found {
		t.Error("dealer-flip warning not surfaced")
	}

	// HIGH priority means Run places the partial exit order.
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, err := s.HasPendingExitOrder(pos.ID)
	if err != nil || !pending {
		t.Fatalf("pending exit order = %v, %v, want true", pending, err)
	}
}

func TestHoldStackSurfacesTightenStopAdvisory(t *testing.T) {
	t.Parallel()
	w, s := testExitMonitor(t)

	// Three non-HIGH warnings with no exit rule firing: zero-gamma
	// crossed, adverse wall, and a max-pain pull against the strike.
	openPosition(s, t, "h2", 10.00, 10.40, 2)
	if err := s.SaveGEXSignal(&models.GEXSignal{
		Symbol:         "SPY",
		Direction:      gex.Neutral,
		DealerPosition: gex.LongGamma,
		ZeroGamma:      decimal.NewFromInt(515),
		CallWall:       decimal.NewFromInt(503),
		MaxPain:        decimal.NewFromInt(495),
		Timestamp:      time.Now(),
	}); err != nil {
		t.Fatalf("SaveGEXSignal: %v", err)
	}

	signals, err := w.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	es := signals[0]
	if es.Action != decision.ActionTightenStop || es.Priority != decision.PriorityMedium {
		t.Errorf("signal = %+v, want TIGHTEN_STOP/MEDIUM advisory", es)
	}

	// Advisories never become orders.
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, _ := s.HasPendingExitOrder(es.PositionID)
	if pending {
		t.Error("advisory produced an exit order")
	}
}

func TestTradePlanWidensStopLoss(t *testing.T) {
	t.Parallel()
	w, s := testExitMonitor(t)

	// Both positions are down 53%. The planned position entered on a
	// short-gamma tape with a widened 60% stop; the other uses defaults.
	planned := openPosition(s, t, "p1", 10.00, 4.70, 4)
	control := openPosition(s, t, "p2", 10.00, 4.70, 4)
	if err := s.CreateDecision(&models.Decision{
		SignalID:     "p1",
		DecisionType: models.DecisionEntry,
		Decision:     models.VerdictEnter,
		PositionSize: 4,
		TradePlan: models.JSONMap{
			"stop_loss_pct":     0.60,
			"trailing_stop_pct": 0.18,
		},
	}); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	signals, err := w.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want only the default-stop position", len(signals))
	}
	if signals[0].PositionID != control.ID {
		t.Errorf("stop-loss fired for position %d, want %d", signals[0].PositionID, control.ID)
	}
	if signals[0].Action != decision.ActionCloseFull {
		t.Errorf("action = %q", signals[0].Action)
	}
	_ = planned
}
