package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

// AlpacaBroker routes option orders through the Alpaca trading API.
type AlpacaBroker struct {
	client *resty.Client
}

// NewAlpaca builds the adapter, or nil when credentials are absent.
func NewAlpaca(baseURL, keyID, secret string, timeout time.Duration) *AlpacaBroker {
	if baseURL == "" || keyID == "" || secret == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("APCA-API-KEY-ID", keyID).
		SetHeader("APCA-API-SECRET-KEY", secret).
		SetHeader("Accept", "application/json")
	return &AlpacaBroker{client: client}
}

func (b *AlpacaBroker) Name() string { return "alpaca" }

type alpacaOrder struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// Submit posts the order to /v2/orders with the OCC symbol.
func (b *AlpacaBroker) Submit(ctx context.Context, o *models.Order) (string, error) {
	body := map[string]interface{}{
		"symbol":          strings.ReplaceAll(occSymbol(o), " ", ""),
		"qty":             fmt.Sprintf("%d", o.Quantity),
		"side":            strings.ToLower(string(o.Side)),
		"type":            strings.ToLower(string(o.OrderType)),
		"time_in_force":   strings.ToLower(string(o.TimeInForce)),
		"client_order_id": o.ClientOrderID,
	}
	if o.OrderType == models.OrderLimit && o.LimitPrice != nil {
		body["limit_price"] = o.LimitPrice.StringFixed(2)
	}

	var out alpacaOrder
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		return "", fmt.Errorf("alpaca submit: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("alpaca submit: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ID == "" {
		return "", fmt.Errorf("alpaca submit: empty order id")
	}
	return out.ID, nil
}

func (b *AlpacaBroker) Poll(ctx context.Context, brokerOrderID string) (*Status, error) {
	var out alpacaOrder
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/orders/" + brokerOrderID)
	if err != nil {
		return nil, fmt.Errorf("alpaca poll: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrOrderNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("alpaca poll: status %d", resp.StatusCode())
	}

	st := &Status{
		BrokerOrderID: brokerOrderID,
		State:         alpacaState(out.Status),
	}
	fmt.Sscanf(out.FilledQty, "%d", &st.FilledQty)
	if out.FilledAvgPrice != "" {
		if p, err := decimal.NewFromString(out.FilledAvgPrice); err == nil {
			st.AvgFillPrice = &p
		}
	}
	return st, nil
}

func (b *AlpacaBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	resp, err := b.client.R().
		SetContext(ctx).
		Delete("/v2/orders/" + brokerOrderID)
	if err != nil {
		return fmt.Errorf("alpaca cancel: %w", err)
	}
	if resp.StatusCode() == 404 {
		return ErrOrderNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("alpaca cancel: status %d", resp.StatusCode())
	}
	return nil
}

// alpacaState maps Alpaca order states onto ours.
func alpacaState(s string) models.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartial
	case "canceled", "pending_cancel":
		return models.OrderCancelled
	case "rejected", "stopped", "suspended":
		return models.OrderRejected
	case "expired":
		return models.OrderExpired
	case "new", "accepted", "pending_new", "accepted_for_bidding", "held":
		return models.OrderSubmitted
	}
	return models.OrderSubmitted
}
