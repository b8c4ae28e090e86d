package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/decision"
	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

// SignalProcessor runs the DECISION stage: it picks up persisted signals
// with no validation result, runs the entry orchestrator, and writes the
// verdict, the decision row, and the audit entry in one transaction. The
// validation result is written exactly once per signal.
type SignalProcessor struct {
	store    *store.Store
	market   *marketdata.Service
	orch     *decision.Orchestrator
	audit    *audit.Logger
	metrics  *observability.MetricsService
	mode     models.TradeMode
	interval time.Duration
	batch    int
}

func NewSignalProcessor(s *store.Store, m *marketdata.Service, o *decision.Orchestrator, a *audit.Logger, metrics *observability.MetricsService, mode models.TradeMode, interval time.Duration, batch int) *SignalProcessor {
	return &SignalProcessor{store: s, market: m, orch: o, audit: a, metrics: metrics, mode: mode, interval: interval, batch: batch}
}

func (w *SignalProcessor) Name() string            { return "signal-processor" }
func (w *SignalProcessor) Interval() time.Duration { return w.interval }

func (w *SignalProcessor) Run(ctx context.Context) error {
	signals, err := w.store.GetPendingSignals(w.batch)
	if err != nil {
		return fmt.Errorf("pending signals: %w", err)
	}
	for i := range signals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sig := &signals[i]
		if err := w.processOne(ctx, sig); err != nil {
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("Signal decision failed")
		}
	}
	return nil
}

func (w *SignalProcessor) processOne(ctx context.Context, sig *models.Signal) error {
	started := time.Now()
	defer func() {
		w.metrics.RecordLatency(observability.SeriesDecision, time.Since(started))
	}()

	in, err := w.gather(ctx, sig)
	if err != nil {
		return err
	}
	res := w.orch.EvaluateEntry(*in)

	status := models.SignalRejected
	verdict := models.VerdictReject
	if res.Verdict == models.VerdictEnter {
		status = models.SignalApproved
		verdict = models.VerdictEnter
	}
	validation := &models.ValidationResult{
		Valid:      res.Verdict == models.VerdictEnter,
		Confidence: res.Confidence,
		Reasons:    res.Reasoning,
		DecidedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	dec := &models.Decision{
		SignalID:     sig.ID,
		DecisionType: models.DecisionEntry,
		Decision:     verdict,
		Confidence:   res.Confidence,
		PositionSize: res.Quantity,
		Reasoning:    res.Reasoning,
		Calculations: res.Calculations,
	}
	if res.Verdict == models.VerdictEnter {
		// The trade plan rides with the decision so the exit monitor
		// applies per-trade thresholds instead of the global defaults.
		dec.TradePlan = models.JSONMap{
			"stop_loss_pct":     res.Plan.StopLossPct,
			"target_1_pct":      res.Plan.Target1Pct,
			"target_2_pct":      res.Plan.Target2Pct,
			"trailing_stop_pct": res.Plan.TrailingStopPct,
			"max_hold_hours":    res.Plan.MaxHoldHours,
		}
	}
	if in.Context != nil {
		dec.ContextSnapshot = models.JSONMap{
			"vix": in.Context.VIX, "bias": in.Context.Bias,
			"regime": in.Context.Regime, "regime_confidence": in.Context.RegimeConfidence,
		}
	}
	if in.GEX != nil {
		dec.GEXSnapshot = models.JSONMap{
			"direction": in.GEX.Direction, "strength": in.GEX.Strength,
			"dealer_position": in.GEX.DealerPosition, "net_gex": in.GEX.NetGEX,
		}
	}

	err = w.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.SetSignalValidation(sig.ID, validation, status); err != nil {
			return err
		}
		if err := tx.CreateDecision(dec); err != nil {
			return err
		}
		w.audit.Record(tx, audit.Event{
			Type:          models.AuditDecisionMade,
			CorrelationID: sig.CorrelationID,
			SignalID:      sig.ID,
			Symbol:        sig.Symbol,
			DecisionType:  models.DecisionEntry,
			Verdict:       verdict,
			Details: models.JSONMap{
				"confidence": res.Confidence,
				"quantity":   res.Quantity,
				"reasoning":  res.Reasoning,
			},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist decision: %w", err)
	}

	log.Info().
		Str("signal_id", sig.ID).
		Str("verdict", string(verdict)).
		Float64("confidence", res.Confidence).
		Int("quantity", res.Quantity).
		Msg("Entry decision made")
	return nil
}

// gather assembles the orchestrator input from the stores and the market
// data service. Missing context or GEX feeds degrade to nil; the rules
// that need them then skip.
func (w *SignalProcessor) gather(ctx context.Context, sig *models.Signal) (*decision.EntryInput, error) {
	in := &decision.EntryInput{Signal: sig, BaseQuantity: metaInt(sig.Metadata, "quantity")}

	if snap, err := w.store.GetLatestContext(); err == nil {
		in.Context = snap
		in.VIX = snap.VIX
	}
	if g, err := w.store.GetLatestGEX(sig.Symbol); err == nil {
		in.GEX = g
	}
	if risk, err := w.store.GetRiskLimits(w.mode); err == nil {
		in.Risk = risk
	}
	if in.VIX == 0 {
		if vix, err := w.market.GetVIX(ctx); err == nil {
			in.VIX = vix
		}
	}

	in.Spot = metaFloat(sig.Metadata, "current_price")
	if in.Spot == 0 {
		q, err := w.market.GetStockPrice(ctx, sig.Symbol)
		if err != nil {
			return nil, fmt.Errorf("spot for %s: %w", sig.Symbol, err)
		}
		in.Spot, _ = q.Price.Float64()
	}

	if exp, ok := metaDate(sig.Metadata, "expiration"); ok {
		in.DTE = int(time.Until(exp).Hours() / 24)
		if in.DTE < 0 {
			in.DTE = 0
		}
	}

	open, err := w.store.GetOpenPositions()
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	in.OpenPositions = len(open)
	return in, nil
}

// Metadata readers tolerant of JSON number decoding.

func metaFloat(m models.JSONMap, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			f, _ := d.Float64()
			return f
		}
	}
	return 0
}

func metaInt(m models.JSONMap, key string) int {
	return int(metaFloat(m, key))
}

func metaString(m models.JSONMap, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func metaDate(m models.JSONMap, key string) (time.Time, bool) {
	s := metaString(m, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
