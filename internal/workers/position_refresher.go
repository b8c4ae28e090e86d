package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/store"
)

// PositionRefresher marks open positions to the modeled option price,
// updating unrealized P&L and the high-water mark.
type PositionRefresher struct {
	store    *store.Store
	market   *marketdata.Service
	interval time.Duration
}

func NewPositionRefresher(s *store.Store, m *marketdata.Service, interval time.Duration) *PositionRefresher {
	return &PositionRefresher{store: s, market: m, interval: interval}
}

func (w *PositionRefresher) Name() string            { return "position-refresher" }
func (w *PositionRefresher) Interval() time.Duration { return w.interval }

func (w *PositionRefresher) Run(ctx context.Context) error {
	positions, err := w.store.GetOpenPositions()
	if err != nil {
		return fmt.Errorf("open positions: %w", err)
	}
	for i := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos := &positions[i]
		if err := w.refreshOne(ctx, pos); err != nil {
			log.Error().Err(err).Uint("position_id", pos.ID).Msg("Position refresh failed")
		}
	}
	return nil
}

func (w *PositionRefresher) refreshOne(ctx context.Context, pos *models.Position) error {
	quote, err := w.market.GetStockPrice(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("quote for %s: %w", pos.Symbol, err)
	}
	dte := pos.DTE(time.Now())
	current := modelOptionPrice(pos.Direction, pos.Strike, quote.Price, dte)

	unrealized := current.Sub(pos.EntryPrice).
		Mul(decimal.NewFromInt(int64(pos.Quantity))).
		Mul(decimal.NewFromInt(models.ContractMultiplier))

	highWater := current
	if pos.HighWaterMark != nil && pos.HighWaterMark.GreaterThan(current) {
		highWater = *pos.HighWaterMark
	}

	return w.store.UpdatePositionPrice(pos.ID, current, unrealized, highWater)
}
