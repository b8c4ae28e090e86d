package workers

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

func testSettler(t *testing.T) (*settler, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return &settler{store: s, audit: audit.NewLogger(s), metrics: observability.NewMetricsService()}, s
}

func entryOrder(s *store.Store, t *testing.T, signalID string, qty int) *models.Order {
	t.Helper()
	o := &models.Order{
		SignalID:      signalID,
		ClientOrderID: "c-" + signalID,
		Underlying:    "SPY",
		OptionSymbol:  "SPY260918C00500000",
		Strike:        decimal.NewFromInt(500),
		Expiration:    time.Now().AddDate(0, 0, 5),
		OptionType:    models.DirectionCall,
		Quantity:      qty,
		Side:          models.SideBuy,
		OrderType:     models.OrderMarket,
		Status:        models.OrderPending,
		Mode:          models.ModePaper,
	}
	if err := s.CreateOrder(o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func TestApplyFillOpensPosition(t *testing.T) {
	t.Parallel()
	f, s := testSettler(t)

	o := entryOrder(s, t, "s1", 2)
	fill := decimal.NewFromFloat(2.55)
	if err := f.applyFill(o, fill, 2, time.Now()); err != nil {
		t.Fatalf("applyFill: %v", err)
	}

	got, err := s.GetOrder(o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != models.OrderFilled || got.FilledQty != 2 {
		t.Errorf("order after fill = %q qty %d", got.Status, got.FilledQty)
	}

	open, err := s.GetOpenPositions()
	if err != nil || len(open) != 1 {
		t.Fatalf("open positions = %d, %v", len(open), err)
	}
	pos := open[0]
	if !pos.EntryPrice.Equal(fill) || pos.Quantity != 2 {
		t.Errorf("position = %+v", pos)
	}

	lat := f.metrics.Latency()[observability.SeriesExecution]
	if lat.Count != 1 {
		t.Errorf("execution latency samples = %d, want 1", lat.Count)
	}
}

func TestApplyFillTradeCostUsesMultiplier(t *testing.T) {
	t.Parallel()
	f, s := testSettler(t)

	o := entryOrder(s, t, "s2", 3)
	if err := f.applyFill(o, decimal.NewFromFloat(1.50), 3, time.Now()); err != nil {
		t.Fatalf("applyFill: %v", err)
	}

	trades, err := s.GetTradesByOrder(o.ID)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %d, %v", len(trades), err)
	}
	// 1.50 x 3 contracts x 100 shares.
	if want := decimal.NewFromInt(450); !trades[0].TotalCost.Equal(want) {
		t.Errorf("TotalCost = %s, want %s", trades[0].TotalCost, want)
	}
}

func TestExitFillClosesPosition(t *testing.T) {
	t.Parallel()
	f, s := testSettler(t)

	entry := entryOrder(s, t, "s3", 2)
	if err := f.applyFill(entry, decimal.NewFromFloat(2.00), 2, time.Now()); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	open, _ := s.GetOpenPositions()
	pos := open[0]

	exit := &models.Order{
		SignalID:             "s3",
		ClientOrderID:        "c-s3-exit",
		Underlying:           "SPY",
		OptionSymbol:         pos.OptionSymbol,
		Quantity:             2,
		Side:                 models.SideSell,
		OrderType:            models.OrderMarket,
		Status:               models.OrderPending,
		Mode:                 models.ModePaper,
		RefactoredPositionID: &pos.ID,
	}
	if err := s.CreateOrder(exit); err != nil {
		t.Fatalf("CreateOrder exit: %v", err)
	}
	if err := f.applyFill(exit, decimal.NewFromFloat(2.80), 2, time.Now()); err != nil {
		t.Fatalf("exit fill: %v", err)
	}

	if open, _ = s.GetOpenPositions(); len(open) != 0 {
		t.Fatalf("position still open after full exit")
	}
	closed, err := s.GetPosition(pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	// (2.80 - 2.00) x 2 x 100 = 160.
	if want := decimal.NewFromInt(160); !closed.RealizedPnL.Equal(want) {
		t.Errorf("RealizedPnL = %s, want %s", closed.RealizedPnL, want)
	}
}

func TestPartialExitReducesPosition(t *testing.T) {
	t.Parallel()
	f, s := testSettler(t)

	entry := entryOrder(s, t, "s4", 4)
	if err := f.applyFill(entry, decimal.NewFromFloat(1.00), 4, time.Now()); err != nil {
		t.Fatalf("entry fill: %v", err)
	}
	open, _ := s.GetOpenPositions()
	pos := open[0]

	exit := &models.Order{
		SignalID:             "s4",
		ClientOrderID:        "c-s4-exit",
		Underlying:           "SPY",
		Quantity:             2,
		Side:                 models.SideSell,
		OrderType:            models.OrderMarket,
		Status:               models.OrderPending,
		Mode:                 models.ModePaper,
		RefactoredPositionID: &pos.ID,
	}
	if err := s.CreateOrder(exit); err != nil {
		t.Fatalf("CreateOrder exit: %v", err)
	}
	if err := f.applyFill(exit, decimal.NewFromFloat(1.40), 2, time.Now()); err != nil {
		t.Fatalf("partial exit fill: %v", err)
	}

	got, err := s.GetPosition(pos.ID)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got.Status != models.PositionOpen || got.Quantity != 2 {
		t.Errorf("after partial: status=%q qty=%d, want OPEN/2", got.Status, got.Quantity)
	}
}

func TestExitFillWithoutLinkageFails(t *testing.T) {
	t.Parallel()
	f, s := testSettler(t)

	exit := &models.Order{
		SignalID:      "s5",
		ClientOrderID: "c-s5",
		Underlying:    "SPY",
		Quantity:      1,
		Side:          models.SideSell,
		OrderType:     models.OrderMarket,
		Status:        models.OrderPending,
		Mode:          models.ModePaper,
	}
	if err := s.CreateOrder(exit); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := f.applyFill(exit, decimal.NewFromFloat(1.00), 1, time.Now()); err == nil {
		t.Fatal("exit without position linkage must fail")
	}
	// The transaction rolled back: the order is still pending.
	got, _ := s.GetOrder(exit.ID)
	if got.Status != models.OrderPending {
		t.Errorf("order status = %q, want rollback to PENDING", got.Status)
	}
}
