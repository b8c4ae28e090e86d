package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/gex"
	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

// GEXRefresher recomputes gamma-exposure summaries for the tracked symbols
// and refreshes the market context snapshot. Runs only during market hours;
// outside them the previous summaries stay authoritative.
type GEXRefresher struct {
	store    *store.Store
	market   *marketdata.Service
	tracker  *observability.DegradedModeTracker
	symbols  []string
	interval time.Duration
}

func NewGEXRefresher(s *store.Store, m *marketdata.Service, t *observability.DegradedModeTracker, symbols []string, interval time.Duration) *GEXRefresher {
	return &GEXRefresher{store: s, market: m, tracker: t, symbols: symbols, interval: interval}
}

func (w *GEXRefresher) Name() string            { return "gex-refresher" }
func (w *GEXRefresher) Interval() time.Duration { return w.interval }

func (w *GEXRefresher) Run(ctx context.Context) error {
	if !w.market.IsMarketOpen() {
		return nil
	}
	now := time.Now()
	for _, symbol := range w.symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.refreshSymbol(ctx, symbol, now); err != nil {
			w.tracker.RecordFailure(observability.ComponentGEX, err.Error())
			log.Error().Err(err).Str("symbol", symbol).Msg("GEX refresh failed")
			continue
		}
		w.tracker.RecordSuccess(observability.ComponentGEX)
	}
	return w.refreshContext(ctx, now)
}

func (w *GEXRefresher) refreshSymbol(ctx context.Context, symbol string, now time.Time) error {
	quote, err := w.market.GetStockPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	spot, _ := quote.Price.Float64()

	chain, err := w.market.GetOptionChain(ctx, symbol, nextFriday(now))
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}

	prev, _ := w.store.GetLatestGEX(symbol)
	summary := gex.Compute(symbol, "1D", spot, chain, prev, now)
	if err := w.store.SaveGEXSignal(summary); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("direction", summary.Direction).
		Float64("strength", summary.Strength).
		Bool("flip", summary.FlipDetected).
		Msg("GEX refreshed")
	return nil
}

// refreshContext folds VIX, SPY, and the SPY gamma read into one market
// context snapshot.
func (w *GEXRefresher) refreshContext(ctx context.Context, now time.Time) error {
	vix, err := w.market.GetVIX(ctx)
	if err != nil {
		w.tracker.RecordFailure(observability.ComponentContext, err.Error())
		return nil
	}
	spy, err := w.market.GetSPYPrice(ctx)
	if err != nil {
		w.tracker.RecordFailure(observability.ComponentContext, err.Error())
		return nil
	}

	snap := &models.ContextSnapshot{VIX: vix, SPYPrice: spy}
	if g, gerr := w.store.GetLatestGEX("SPY"); gerr == nil {
		snap.Bias = g.Direction
		snap.Regime = g.Regime
		snap.Trend = g.Direction
		// Confidence scales with GEX strength; high VIX erodes it.
		snap.RegimeConfidence = 50 + 40*abs(g.Strength)
		if vix > 25 {
			snap.RegimeConfidence *= 0.8
		}
	} else {
		snap.Bias = "NEUTRAL"
		snap.Regime = "UNKNOWN"
		snap.RegimeConfidence = 30
	}

	if err := w.store.SaveContextSnapshot(snap); err != nil {
		w.tracker.RecordFailure(observability.ComponentContext, err.Error())
		return nil
	}
	w.tracker.RecordSuccess(observability.ComponentContext)
	return nil
}

// nextFriday returns the next Friday strictly after t, at midnight.
func nextFriday(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Friday {
			return d
		}
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
