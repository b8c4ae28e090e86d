package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/notify"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

// paperSlippagePct is applied to every simulated fill.
const paperSlippagePct = 0.02

// PaperExecutor fills PENDING paper orders against the modeled option
// price with slippage. It never touches the network for execution; only
// the underlying quote comes from the market data service.
type PaperExecutor struct {
	store    *store.Store
	market   *marketdata.Service
	settle   settler
	interval time.Duration
	batch    int
}

func NewPaperExecutor(s *store.Store, m *marketdata.Service, a *audit.Logger, n *notify.Notifier, metrics *observability.MetricsService, interval time.Duration, batch int) *PaperExecutor {
	return &PaperExecutor{
		store:    s,
		market:   m,
		settle:   settler{store: s, audit: a, notify: n, metrics: metrics},
		interval: interval,
		batch:    batch,
	}
}

func (w *PaperExecutor) Name() string            { return "paper-executor" }
func (w *PaperExecutor) Interval() time.Duration { return w.interval }

func (w *PaperExecutor) Run(ctx context.Context) error {
	orders, err := w.store.GetOrdersByStatus(models.ModePaper, []models.OrderStatus{models.OrderPending}, w.batch)
	if err != nil {
		return fmt.Errorf("pending paper orders: %w", err)
	}
	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o := &orders[i]
		if err := w.fillOne(ctx, o); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			log.Error().Err(err).Uint("order_id", o.ID).Msg("Paper fill failed")
		}
	}
	return nil
}

func (w *PaperExecutor) fillOne(ctx context.Context, o *models.Order) error {
	quote, err := w.market.GetStockPrice(ctx, o.Underlying)
	if err != nil {
		return fmt.Errorf("quote for %s: %w", o.Underlying, err)
	}
	dte := int(time.Until(o.Expiration).Hours() / 24)
	if dte < 0 {
		dte = 0
	}

	mark := modelOptionPrice(o.OptionType, o.Strike, quote.Price, dte)
	fill := slip(mark, o.Side, paperSlippagePct)

	// Limit orders only fill when the limit is marketable against the
	// slipped mark.
	if o.OrderType == models.OrderLimit && o.LimitPrice != nil {
		if o.Side == models.SideBuy && fill.GreaterThan(*o.LimitPrice) {
			return nil
		}
		if o.Side == models.SideSell && fill.LessThan(*o.LimitPrice) {
			return nil
		}
		fill = *o.LimitPrice
	}

	qty := o.Quantity
	if o.Side == models.SideSell && o.ExitQuantity != nil && *o.ExitQuantity > 0 {
		qty = *o.ExitQuantity
	}

	if err := w.settle.applyFill(o, fill, qty, time.Now()); err != nil {
		return err
	}
	log.Info().
		Uint("order_id", o.ID).
		Str("option", o.OptionSymbol).
		Str("side", string(o.Side)).
		Int("quantity", qty).
		Str("fill", fill.StringFixed(2)).
		Msg("Paper order filled")
	return nil
}
