package workers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/decision"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/store"
)

// ExitMonitor evaluates every open position against the exit rule stack.
// CRITICAL and HIGH alerts become exit orders the same cycle; lower
// priorities surface as advisories only. The last evaluation is cached for
// the exit-signals read surface.
type ExitMonitor struct {
	store    *store.Store
	orch     *decision.Orchestrator
	mode     models.TradeMode
	interval time.Duration

	mu   sync.RWMutex
	last []decision.ExitSignal
}

func NewExitMonitor(s *store.Store, o *decision.Orchestrator, mode models.TradeMode, interval time.Duration) *ExitMonitor {
	return &ExitMonitor{store: s, orch: o, mode: mode, interval: interval}
}

func (w *ExitMonitor) Name() string            { return "exit-monitor" }
func (w *ExitMonitor) Interval() time.Duration { return w.interval }

func (w *ExitMonitor) Run(ctx context.Context) error {
	signals, err := w.Evaluate(ctx)
	if err != nil {
		return err
	}
	for i := range signals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		es := &signals[i]
		if es.Priority != decision.PriorityCritical && es.Priority != decision.PriorityHigh {
			continue
		}
		if err := w.createExitOrder(es); err != nil {
			log.Error().Err(err).Uint("position_id", es.PositionID).Msg("Exit order creation failed")
		}
	}
	return nil
}

// Evaluate runs the exit stack over all open positions and caches the
// result, sorted by priority. Positions the exit rules hold are handed to
// the hold stack, whose EXIT and PARTIAL_EXIT recommendations join the
// output as HIGH-priority signals and whose warnings ride along as
// advisories.
func (w *ExitMonitor) Evaluate(ctx context.Context) ([]decision.ExitSignal, error) {
	positions, err := w.store.GetOpenPositions()
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	rules, err := w.store.GetExitRules(w.mode)
	if err != nil {
		return nil, fmt.Errorf("exit rules: %w", err)
	}
	snap, _ := w.store.GetLatestContext()
	now := time.Now()

	var out []decision.ExitSignal
	for i := range positions {
		pos := &positions[i]
		g, _ := w.store.GetLatestGEX(pos.Symbol)
		entryDec, _ := w.store.GetEntryDecision(pos.SignalID)

		in := decision.ExitInput{
			Position:     pos,
			Rules:        rulesFor(entryDec, rules),
			Context:      snap,
			GEX:          g,
			PartialTaken: partialTaken(entryDec, pos),
			ThetaDaily:   w.thetaDaily(pos, now),
			Now:          now,
		}
		if es := w.orch.EvaluateExit(in); es != nil {
			out = append(out, *es)
			continue
		}

		hold := w.orch.EvaluateHold(decision.HoldInput{
			Position: pos,
			Context:  snap,
			GEX:      g,
			Now:      now,
		})
		if hs := holdSignal(pos, hold); hs != nil {
			out = append(out, *hs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityRank(out[i].Priority) < priorityRank(out[j].Priority)
	})

	w.mu.Lock()
	w.last = out
	w.mu.Unlock()
	return out, nil
}

// Last returns the most recent evaluation without recomputing.
func (w *ExitMonitor) Last() []decision.ExitSignal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]decision.ExitSignal, len(w.last))
	copy(out, w.last)
	return out
}

// createExitOrder writes one SELL order linked to the position, skipping
// positions that already have an exit in flight.
func (w *ExitMonitor) createExitOrder(es *decision.ExitSignal) error {
	pending, err := w.store.HasPendingExitOrder(es.PositionID)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	pos, err := w.store.GetPosition(es.PositionID)
	if err != nil {
		return err
	}
	qty := pos.Quantity
	if es.Fraction > 0 && es.Fraction < 1 {
		qty = int(float64(pos.Quantity) * es.Fraction)
		if qty < 1 {
			qty = 1
		}
	}

	posID := pos.ID
	action := es.Action
	order := &models.Order{
		SignalID:             pos.SignalID,
		ClientOrderID:        uuid.NewString(),
		Underlying:           pos.Symbol,
		OptionSymbol:         pos.OptionSymbol,
		Strike:               pos.Strike,
		Expiration:           pos.Expiration,
		OptionType:           pos.Direction,
		Side:                 models.SideSell,
		Quantity:             qty,
		OrderType:            decision.OrderTypeFor(es.Urgency),
		TimeInForce:          models.TIFDay,
		Mode:                 pos.Mode,
		Status:               models.OrderPending,
		ExitAction:           &action,
		ExitQuantity:         &qty,
		RefactoredPositionID: &posID,
	}
	if order.OrderType == models.OrderLimit && pos.CurrentPrice != nil {
		limit := *pos.CurrentPrice
		order.LimitPrice = &limit
	}

	dec := &models.Decision{
		SignalID:     pos.SignalID,
		PositionID:   &posID,
		DecisionType: models.DecisionExit,
		Decision:     models.VerdictExit,
		Reasoning:    models.StringList{es.Reason},
		Calculations: models.JSONMap{
			"action":   es.Action,
			"urgency":  es.Urgency,
			"priority": es.Priority,
			"fraction": es.Fraction,
		},
	}

	err = w.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.CreateOrder(order); err != nil {
			return err
		}
		return tx.CreateDecision(dec)
	})
	if err != nil {
		return err
	}
	log.Info().
		Uint("position_id", pos.ID).
		Str("action", es.Action).
		Str("urgency", es.Urgency).
		Int("quantity", qty).
		Str("reason", es.Reason).
		Msg("Exit order created")
	return nil
}

// partialTaken infers a prior partial exit by comparing the live quantity
// against the entry decision's size.
func partialTaken(dec *models.Decision, pos *models.Position) bool {
	if dec == nil {
		return false
	}
	return dec.PositionSize > 0 && pos.Quantity < dec.PositionSize
}

// rulesFor overlays the entry decision's trade plan onto the global exit
// rules. A position entered on a short-gamma tape carries 20%-wider stops
// in its plan; positions without a plan fall back to the defaults.
func rulesFor(dec *models.Decision, base *models.ExitRules) *models.ExitRules {
	if dec == nil || dec.TradePlan == nil {
		return base
	}
	r := *base
	if v := metaFloat(dec.TradePlan, "stop_loss_pct"); v > 0 {
		r.StopLossPct = v
	}
	if v := metaFloat(dec.TradePlan, "target_1_pct"); v > 0 {
		r.Target1Pct = v
	}
	if v := metaFloat(dec.TradePlan, "target_2_pct"); v > 0 {
		r.Target2Pct = v
	}
	if v := metaFloat(dec.TradePlan, "trailing_stop_pct"); v > 0 {
		r.TrailingStopPct = v
	}
	return &r
}

// holdSignal translates an actionable hold recommendation into an exit
// signal. HOLD produces nothing; TIGHTEN_STOP surfaces as an advisory that
// never becomes an order.
func holdSignal(pos *models.Position, res *decision.HoldResult) *decision.ExitSignal {
	if res == nil {
		return nil
	}
	var es *decision.ExitSignal
	switch res.Action {
	case decision.ActionExit:
		es = &decision.ExitSignal{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Action:     decision.ActionCloseFull,
			Urgency:    decision.UrgencySoon,
			Priority:   decision.PriorityHigh,
			Fraction:   1,
			Reason:     fmt.Sprintf("hold confidence %.0f collapsed", res.HoldConfidence),
		}
	case decision.ActionPartialExit:
		es = &decision.ExitSignal{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Action:     decision.ActionClosePartial,
			Urgency:    decision.UrgencySoon,
			Priority:   decision.PriorityHigh,
			Fraction:   res.ExitFraction,
			Reason:     fmt.Sprintf("hold confidence %.0f, banking part", res.HoldConfidence),
		}
	case decision.ActionTightenStop:
		es = &decision.ExitSignal{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Action:     decision.ActionTightenStop,
			Urgency:    decision.UrgencyOptional,
			Priority:   decision.PriorityMedium,
			Reason:     fmt.Sprintf("tighten stop to %.2f on stacked warnings", res.TightenStopTo),
		}
	default:
		return nil
	}
	es.Warnings = res.Warnings
	return es
}

// thetaDaily estimates daily decay as a fraction of the current price
// using the flat time-value model.
func (w *ExitMonitor) thetaDaily(pos *models.Position, now time.Time) float64 {
	if pos.CurrentPrice == nil || pos.CurrentPrice.IsZero() {
		return 0
	}
	price, _ := pos.CurrentPrice.Float64()
	perDay, _ := timeValuePerDTE.Float64()
	if pos.DTE(now) == 0 {
		return 1
	}
	return perDay / price
}

func priorityRank(p string) int {
	switch p {
	case decision.PriorityCritical:
		return 0
	case decision.PriorityHigh:
		return 1
	case decision.PriorityMedium:
		return 2
	}
	return 3
}
