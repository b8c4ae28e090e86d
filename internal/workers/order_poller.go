package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/broker"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/notify"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/store"
)

// OrderPoller drives live orders: it submits PENDING live orders to the
// broker and reconciles SUBMITTED/PARTIAL ones against the broker's state.
// Paper mode never runs this worker.
type OrderPoller struct {
	store    *store.Store
	broker   broker.Broker
	settle   settler
	interval time.Duration
	batch    int
}

func NewOrderPoller(s *store.Store, b broker.Broker, a *audit.Logger, n *notify.Notifier, metrics *observability.MetricsService, interval time.Duration, batch int) *OrderPoller {
	return &OrderPoller{
		store:    s,
		broker:   b,
		settle:   settler{store: s, audit: a, notify: n, metrics: metrics},
		interval: interval,
		batch:    batch,
	}
}

func (w *OrderPoller) Name() string            { return "order-poller" }
func (w *OrderPoller) Interval() time.Duration { return w.interval }

func (w *OrderPoller) Run(ctx context.Context) error {
	if err := w.submitPending(ctx); err != nil {
		return err
	}
	return w.reconcile(ctx)
}

func (w *OrderPoller) submitPending(ctx context.Context) error {
	orders, err := w.store.GetOrdersByStatus(models.ModeLive, []models.OrderStatus{models.OrderPending}, w.batch)
	if err != nil {
		return fmt.Errorf("pending live orders: %w", err)
	}
	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o := &orders[i]
		brokerID, err := w.broker.Submit(ctx, o)
		if err != nil {
			log.Error().Err(err).Uint("order_id", o.ID).Msg("Broker submit failed")
			continue
		}
		err = w.store.UpdateOrderStatusIf(o.ID, models.OrderPending, models.OrderSubmitted, map[string]interface{}{
			"broker_order_id": brokerID,
		})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			log.Error().Err(err).Uint("order_id", o.ID).Msg("Order status update failed")
		}
	}
	return nil
}

func (w *OrderPoller) reconcile(ctx context.Context) error {
	orders, err := w.store.GetOrdersByStatus(models.ModeLive,
		[]models.OrderStatus{models.OrderSubmitted, models.OrderPartial}, w.batch)
	if err != nil {
		return fmt.Errorf("inflight live orders: %w", err)
	}
	for i := range orders {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o := &orders[i]
		if o.BrokerOrderID == nil {
			continue
		}
		st, err := w.broker.Poll(ctx, *o.BrokerOrderID)
		if err != nil {
			log.Error().Err(err).Uint("order_id", o.ID).Msg("Broker poll failed")
			continue
		}
		if err := w.apply(o, st); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			log.Error().Err(err).Uint("order_id", o.ID).Msg("Order reconcile failed")
		}
	}
	return nil
}

// apply folds one broker status into the books.
func (w *OrderPoller) apply(o *models.Order, st *broker.Status) error {
	switch st.State {
	case models.OrderFilled:
		if st.AvgFillPrice == nil {
			return fmt.Errorf("order %d filled without price", o.ID)
		}
		return w.settle.applyFill(o, *st.AvgFillPrice, st.FilledQty, time.Now())
	case models.OrderPartial:
		if o.Status == models.OrderPartial {
			return nil
		}
		return w.store.UpdateOrderStatusIf(o.ID, o.Status, models.OrderPartial, map[string]interface{}{
			"filled_qty": st.FilledQty,
		})
	case models.OrderCancelled, models.OrderRejected, models.OrderExpired:
		return w.store.UpdateOrderStatusIf(o.ID, o.Status, st.State, nil)
	}
	return nil
}
