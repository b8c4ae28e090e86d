package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/store"
)

// OrderCreator turns approved signals into PENDING entry orders. Order
// parameters come from the signal metadata derived at parse time; the
// order row and the signal status bump land in one transaction, with
// optimistic concurrency protecting against a second creator pass.
type OrderCreator struct {
	store    *store.Store
	mode     models.TradeMode
	interval time.Duration
	batch    int
}

func NewOrderCreator(s *store.Store, mode models.TradeMode, interval time.Duration, batch int) *OrderCreator {
	return &OrderCreator{store: s, mode: mode, interval: interval, batch: batch}
}

func (w *OrderCreator) Name() string            { return "order-creator" }
func (w *OrderCreator) Interval() time.Duration { return w.interval }

func (w *OrderCreator) Run(ctx context.Context) error {
	signals, err := w.store.GetApprovedSignalsWithoutOrders(w.batch)
	if err != nil {
		return fmt.Errorf("approved signals: %w", err)
	}
	for i := range signals {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sig := &signals[i]
		if err := w.createOne(sig); err != nil {
			if errors.Is(err, store.ErrConflict) {
				log.Debug().Str("signal_id", sig.ID).Msg("Signal claimed by another pass")
				continue
			}
			log.Error().Err(err).Str("signal_id", sig.ID).Msg("Order creation failed")
		}
	}
	return nil
}

func (w *OrderCreator) createOne(sig *models.Signal) error {
	order, err := w.buildOrder(sig)
	if err != nil {
		return err
	}
	err = w.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.UpdateSignalStatusIf(sig.ID, models.SignalApproved, models.SignalOrdered); err != nil {
			return err
		}
		return tx.CreateOrder(order)
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("signal_id", sig.ID).
		Str("client_order_id", order.ClientOrderID).
		Str("option", order.OptionSymbol).
		Int("quantity", order.Quantity).
		Msg("Entry order created")
	return nil
}

// buildOrder derives the order from metadata the parser attached.
func (w *OrderCreator) buildOrder(sig *models.Signal) (*models.Order, error) {
	strike := metaFloat(sig.Metadata, "strike")
	if strike <= 0 {
		return nil, fmt.Errorf("signal %s: no strike in metadata", sig.ID)
	}
	exp, ok := metaDate(sig.Metadata, "expiration")
	if !ok {
		return nil, fmt.Errorf("signal %s: no expiration in metadata", sig.ID)
	}
	qty := metaInt(sig.Metadata, "quantity")
	if dec, err := w.store.GetEntryDecision(sig.ID); err == nil && dec.PositionSize > 0 {
		qty = dec.PositionSize
	}
	if qty <= 0 {
		qty = 1
	}

	strikeDec := decimal.NewFromFloat(strike)
	order := &models.Order{
		SignalID:      sig.ID,
		ClientOrderID: uuid.NewString(),
		Underlying:    sig.Symbol,
		OptionSymbol:  optionSymbol(sig.Symbol, exp, sig.Direction, strikeDec),
		Strike:        strikeDec,
		Expiration:    exp,
		OptionType:    sig.Direction,
		Side:          models.SideBuy,
		Quantity:      qty,
		OrderType:     models.OrderMarket,
		TimeInForce:   models.TIFDay,
		Mode:          w.mode,
		Status:        models.OrderPending,
	}
	return order, nil
}

// optionSymbol renders the OCC-style symbol used across the pipeline.
func optionSymbol(underlying string, exp time.Time, dir models.Direction, strike decimal.Decimal) string {
	cp := "C"
	if dir == models.DirectionPut {
		cp = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, exp.Format("060102"), cp,
		strike.Mul(decimal.NewFromInt(1000)).IntPart())
}
