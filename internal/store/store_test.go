package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func testSignal(id string) *models.Signal {
	return &models.Signal{
		ID:            id,
		CorrelationID: "corr-" + id,
		Source:        "generic",
		Symbol:        "SPY",
		Direction:     models.DirectionCall,
		Timeframe:     "1D",
		Timestamp:     time.Now(),
		Metadata:      models.JSONMap{"confidence": 70.0, "current_price": 500.0},
		Status:        models.SignalNew,
	}
}

func TestSignalValidationWrittenOnce(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	sig := testSignal("s1")
	if err := s.CreateSignal(sig); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	pending, err := s.GetPendingSignals(10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("GetPendingSignals = %d, %v", len(pending), err)
	}

	result := &models.ValidationResult{Valid: true, Confidence: 70}
	if err := s.SetSignalValidation("s1", result, models.SignalApproved); err != nil {
		t.Fatalf("first SetSignalValidation: %v", err)
	}

	// The result is terminal: a second write must lose.
	err = s.SetSignalValidation("s1", &models.ValidationResult{Valid: false}, models.SignalRejected)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second SetSignalValidation = %v, want ErrConflict", err)
	}

	got, err := s.GetSignal("s1")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if got.Status != models.SignalApproved || got.ValidationResult == nil || !got.ValidationResult.Valid {
		t.Errorf("first write did not stick: status=%q result=%+v", got.Status, got.ValidationResult)
	}

	if pending, _ = s.GetPendingSignals(10); len(pending) != 0 {
		t.Errorf("validated signal still pending")
	}
}

func TestSignalStatusOptimisticTransition(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	sig := testSignal("s2")
	sig.Status = models.SignalApproved
	if err := s.CreateSignal(sig); err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}

	if err := s.UpdateSignalStatusIf("s2", models.SignalApproved, models.SignalOrdered); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	err := s.UpdateSignalStatusIf("s2", models.SignalApproved, models.SignalOrdered)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second transition = %v, want ErrConflict", err)
	}
}

func TestApprovedSignalsWithoutOrders(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	a := testSignal("a")
	a.Status = models.SignalApproved
	b := testSignal("b")
	b.Status = models.SignalApproved
	for _, sig := range []*models.Signal{a, b} {
		if err := s.CreateSignal(sig); err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
	}
	if err := s.CreateOrder(&models.Order{
		SignalID:      "a",
		ClientOrderID: "c-a",
		Underlying:    "SPY",
		Side:          models.SideBuy,
		Status:        models.OrderPending,
		Mode:          models.ModePaper,
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	sigs, err := s.GetApprovedSignalsWithoutOrders(10)
	if err != nil {
		t.Fatalf("GetApprovedSignalsWithoutOrders: %v", err)
	}
	if len(sigs) != 1 || sigs[0].ID != "b" {
		t.Errorf("got %d signals, want only b", len(sigs))
	}
}

func TestOrderTerminalStatusGuard(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	o := &models.Order{
		SignalID:      "s3",
		ClientOrderID: "c-3",
		Underlying:    "SPY",
		Side:          models.SideBuy,
		Status:        models.OrderPending,
		Mode:          models.ModePaper,
	}
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := s.UpdateOrderStatusIf(o.ID, models.OrderPending, models.OrderFilled, nil); err != nil {
		t.Fatalf("fill transition: %v", err)
	}

	// FILLED is terminal; any transition away must be refused.
	err := s.UpdateOrderStatusIf(o.ID, models.OrderFilled, models.OrderCancelled, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("terminal transition = %v, want ErrConflict", err)
	}
}

func TestDuplicateClientOrderID(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	mk := func() *models.Order {
		return &models.Order{
			SignalID:      "s4",
			ClientOrderID: "same-id",
			Underlying:    "SPY",
			Side:          models.SideBuy,
			Status:        models.OrderPending,
			Mode:          models.ModePaper,
		}
	}
	if err := s.CreateOrder(mk()); err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}
	err := s.CreateOrder(mk())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate client_order_id = %v, want ErrDuplicate", err)
	}
}

func TestOneOpenPositionPerSignal(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	mk := func() *models.Position {
		return &models.Position{
			SignalID:   "s5",
			Symbol:     "SPY",
			Direction:  models.DirectionCall,
			Quantity:   2,
			EntryPrice: decimal.NewFromFloat(2.50),
			EntryTime:  time.Now(),
			Status:     models.PositionOpen,
			Mode:       models.ModePaper,
		}
	}
	pos := mk()
	if err := s.CreatePosition(pos); err != nil {
		t.Fatalf("first CreatePosition: %v", err)
	}
	err := s.CreatePosition(mk())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second open position = %v, want ErrDuplicate", err)
	}

	// Closing frees the slot for a new cycle.
	if err := s.ClosePosition(pos.ID, decimal.NewFromFloat(3.00), decimal.NewFromInt(100), time.Now()); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if err := s.CreatePosition(mk()); err != nil {
		t.Errorf("reopen after close: %v", err)
	}
}

func TestClosePositionIsTerminal(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	pos := &models.Position{
		SignalID:   "s6",
		Symbol:     "QQQ",
		Direction:  models.DirectionPut,
		Quantity:   1,
		EntryPrice: decimal.NewFromFloat(1.80),
		EntryTime:  time.Now(),
		Status:     models.PositionOpen,
		Mode:       models.ModePaper,
	}
	if err := s.CreatePosition(pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	if err := s.ClosePosition(pos.ID, decimal.NewFromFloat(2.00), decimal.NewFromInt(20), time.Now()); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	err := s.ClosePosition(pos.ID, decimal.NewFromFloat(2.10), decimal.NewFromInt(30), time.Now())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second close = %v, want ErrConflict", err)
	}
}

func TestReducePositionChecksQuantity(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	pos := &models.Position{
		SignalID:   "s7",
		Symbol:     "IWM",
		Direction:  models.DirectionCall,
		Quantity:   4,
		EntryPrice: decimal.NewFromFloat(1.20),
		EntryTime:  time.Now(),
		Status:     models.PositionOpen,
		Mode:       models.ModePaper,
	}
	if err := s.CreatePosition(pos); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}
	if err := s.ReducePosition(pos.ID, 4, 2); err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	// A stale expected quantity loses the race.
	err := s.ReducePosition(pos.ID, 4, 1)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale reduce = %v, want ErrConflict", err)
	}
}

func TestExitRulesDefaults(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	er, err := s.GetExitRules(models.ModePaper)
	if err != nil {
		t.Fatalf("GetExitRules: %v", err)
	}
	if er.StopLossPct != 0.50 || er.Target1Pct != 0.25 || er.Target2Pct != 0.50 {
		t.Errorf("default thresholds = %+v", er)
	}
	if er.MinDTE != 1 || er.MaxDaysInTrade != 7 {
		t.Errorf("default horizons = %+v", er)
	}
}

func TestRiskLimitsUpsert(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	if _, err := s.GetRiskLimits(models.ModePaper); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty table = %v, want ErrNotFound", err)
	}

	rl, err := s.UpsertRiskLimits(models.ModePaper, func(r *models.RiskLimits) {
		r.MaxOpenPositions = 5
		r.BaseQuantity = 2
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rl.MaxOpenPositions != 5 {
		t.Errorf("MaxOpenPositions = %d", rl.MaxOpenPositions)
	}

	rl, err = s.UpsertRiskLimits(models.ModePaper, func(r *models.RiskLimits) {
		r.MaxOpenPositions = 3
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if rl.MaxOpenPositions != 3 || rl.BaseQuantity != 2 {
		t.Errorf("update lost fields: %+v", rl)
	}

	got, err := s.GetRiskLimits(models.ModePaper)
	if err != nil || got.MaxOpenPositions != 3 {
		t.Errorf("GetRiskLimits after update = %+v, %v", got, err)
	}
}

func TestHasPendingExitOrder(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	posID := uint(9)
	if has, _ := s.HasPendingExitOrder(posID); has {
		t.Fatal("no orders yet")
	}
	o := &models.Order{
		SignalID:             "s8",
		ClientOrderID:        "c-8",
		Underlying:           "SPY",
		Side:                 models.SideSell,
		Status:               models.OrderPending,
		Mode:                 models.ModePaper,
		RefactoredPositionID: &posID,
	}
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if has, _ := s.HasPendingExitOrder(posID); !has {
		t.Error("pending exit order not detected")
	}

	if err := s.UpdateOrderStatusIf(o.ID, models.OrderPending, models.OrderFilled, nil); err != nil {
		t.Fatalf("fill: %v", err)
	}
	if has, _ := s.HasPendingExitOrder(posID); has {
		t.Error("filled exit order still counted as pending")
	}
}
