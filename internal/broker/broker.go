// Package broker abstracts order routing. The paper adapter never touches
// the network; the Tradier and Alpaca adapters translate orders to each
// vendor's REST surface and map vendor statuses back onto ours.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

var (
	// ErrNotConfigured marks an adapter missing credentials or base URL.
	ErrNotConfigured = errors.New("broker: not configured")
	// ErrOrderNotFound marks a poll/cancel against an unknown broker order.
	ErrOrderNotFound = errors.New("broker: order not found")
)

// Status is a poll snapshot of one routed order.
type Status struct {
	BrokerOrderID string
	State         models.OrderStatus
	FilledQty     int
	AvgFillPrice  *decimal.Decimal
}

// Broker routes orders to an execution venue.
type Broker interface {
	Name() string
	// Submit routes the order and returns the venue's order id.
	Submit(ctx context.Context, o *models.Order) (string, error)
	// Poll fetches the current state of a routed order.
	Poll(ctx context.Context, brokerOrderID string) (*Status, error)
	// Cancel requests cancellation of a routed order.
	Cancel(ctx context.Context, brokerOrderID string) error
}

// Select returns the live broker named by config, or an error when the
// name is unknown. Paper mode never calls this.
func Select(name string, tradier *TradierBroker, alpaca *AlpacaBroker) (Broker, error) {
	switch name {
	case "tradier":
		if tradier == nil {
			return nil, fmt.Errorf("%w: tradier", ErrNotConfigured)
		}
		return tradier, nil
	case "alpaca":
		if alpaca == nil {
			return nil, fmt.Errorf("%w: alpaca", ErrNotConfigured)
		}
		return alpaca, nil
	}
	return nil, fmt.Errorf("broker: unknown broker %q", name)
}

// occSymbol renders the OCC option symbol: root padded to 6, yymmdd,
// C/P, strike in thousandths padded to 8.
func occSymbol(o *models.Order) string {
	cp := "C"
	if o.OptionType == models.DirectionPut {
		cp = "P"
	}
	strike := o.Strike.Mul(decimal.NewFromInt(1000)).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", o.Underlying, o.Expiration.Format("060102"), cp, strike)
}
