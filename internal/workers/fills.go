package workers

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/notify"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

// settler applies a fill to the books: order terminal state, trade row, and
// the position consequence, all in one transaction. Shared by the paper
// executor and the live order poller so both modes settle identically.
type settler struct {
	store   *store.Store
	audit   *audit.Logger
	notify  *notify.Notifier
	metrics *observability.MetricsService
}

// applyFill settles one filled order. For buys it opens a position; for
// sells it closes or reduces the position referenced by the exit linkage.
func (f *settler) applyFill(o *models.Order, fillPrice decimal.Decimal, filledQty int, now time.Time) error {
	started := time.Now()
	defer func() {
		f.metrics.RecordLatency(observability.SeriesExecution, time.Since(started))
	}()

	if filledQty <= 0 {
		filledQty = o.Quantity
	}
	contracts := decimal.NewFromInt(int64(filledQty))
	multiplier := decimal.NewFromInt(models.ContractMultiplier)

	return f.store.WithTransaction(func(tx *store.Store) error {
		err := tx.UpdateOrderStatusIf(o.ID, o.Status, models.OrderFilled, map[string]interface{}{
			"filled_qty":     filledQty,
			"avg_fill_price": fillPrice,
		})
		if err != nil {
			return err
		}

		trade := &models.Trade{
			OrderID:        o.ID,
			ExecutionPrice: fillPrice,
			Quantity:       filledQty,
			TotalCost:      fillPrice.Mul(contracts).Mul(multiplier),
			ExecutedAt:     now,
		}
		if err := tx.CreateTrade(trade); err != nil {
			return err
		}

		if o.Side == models.SideBuy {
			return f.openPosition(tx, o, fillPrice, filledQty, now)
		}
		return f.settleExit(tx, o, fillPrice, filledQty, now)
	})
}

func (f *settler) openPosition(tx *store.Store, o *models.Order, fillPrice decimal.Decimal, qty int, now time.Time) error {
	pos := &models.Position{
		SignalID:     o.SignalID,
		Symbol:       o.Underlying,
		OptionSymbol: o.OptionSymbol,
		Strike:       o.Strike,
		Expiration:   o.Expiration,
		Direction:    o.OptionType,
		Quantity:     qty,
		EntryPrice:   fillPrice,
		EntryTime:    now,
		Status:       models.PositionOpen,
		Mode:         o.Mode,
	}
	if err := tx.CreatePosition(pos); err != nil {
		return err
	}
	f.notify.TradeOpened(pos)
	f.audit.Record(tx, audit.Event{
		Type:     models.AuditTradeOpened,
		SignalID: o.SignalID,
		Symbol:   o.Underlying,
		Details: models.JSONMap{
			"option":      o.OptionSymbol,
			"quantity":    qty,
			"entry_price": fillPrice.String(),
			"mode":        o.Mode,
		},
	})
	return nil
}

// settleExit closes or reduces the linked position. Exit orders resolve
// their position by id, never by signal.
func (f *settler) settleExit(tx *store.Store, o *models.Order, fillPrice decimal.Decimal, qty int, now time.Time) error {
	if o.RefactoredPositionID == nil {
		return fmt.Errorf("exit order %d has no position linkage", o.ID)
	}
	pos, err := tx.GetPosition(*o.RefactoredPositionID)
	if err != nil {
		return err
	}
	multiplier := decimal.NewFromInt(models.ContractMultiplier)
	realized := fillPrice.Sub(pos.EntryPrice).
		Mul(decimal.NewFromInt(int64(qty))).Mul(multiplier)

	partial := qty < pos.Quantity
	if partial {
		if err := tx.ReducePosition(pos.ID, pos.Quantity, pos.Quantity-qty); err != nil {
			return err
		}
	} else {
		if err := tx.ClosePosition(pos.ID, fillPrice, realized, now); err != nil {
			return err
		}
		f.notify.TradeClosed(pos, fillPrice, realized)
	}

	f.audit.Record(tx, audit.Event{
		Type:     models.AuditTradeClosed,
		SignalID: pos.SignalID,
		Symbol:   pos.Symbol,
		Details: models.JSONMap{
			"option":       pos.OptionSymbol,
			"quantity":     qty,
			"exit_price":   fillPrice.String(),
			"realized_pnl": realized.String(),
			"partial":      partial,
			"mode":         o.Mode,
		},
	})
	return nil
}
