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

// TradierBroker routes option orders through the Tradier brokerage API.
type TradierBroker struct {
	client    *resty.Client
	accountID string
}

// NewTradier builds the adapter, or nil when credentials are absent.
func NewTradier(baseURL, apiKey, accountID string, timeout time.Duration) *TradierBroker {
	if baseURL == "" || apiKey == "" || accountID == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Accept", "application/json")
	return &TradierBroker{client: client, accountID: accountID}
}

func (b *TradierBroker) Name() string { return "tradier" }

type tradierOrderResp struct {
	Order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

type tradierOrderStatus struct {
	Order struct {
		ID           int64   `json:"id"`
		Status       string  `json:"status"`
		ExecQuantity float64 `json:"exec_quantity"`
		AvgFillPrice float64 `json:"avg_fill_price"`
	} `json:"order"`
}

// Submit posts the order to /accounts/{id}/orders as form data per the
// Tradier API.
func (b *TradierBroker) Submit(ctx context.Context, o *models.Order) (string, error) {
	side := "buy_to_open"
	if o.Side == models.SideSell {
		side = "sell_to_close"
	}
	form := map[string]string{
		"class":         "option",
		"symbol":        o.Underlying,
		"option_symbol": strings.ReplaceAll(occSymbol(o), " ", ""),
		"side":          side,
		"quantity":      fmt.Sprintf("%d", o.Quantity),
		"type":          strings.ToLower(string(o.OrderType)),
		"duration":      strings.ToLower(string(o.TimeInForce)),
		"tag":           o.ClientOrderID,
	}
	if o.OrderType == models.OrderLimit && o.LimitPrice != nil {
		form["price"] = o.LimitPrice.StringFixed(2)
	}

	var out tradierOrderResp
	resp, err := b.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(fmt.Sprintf("/accounts/%s/orders", b.accountID))
	if err != nil {
		return "", fmt.Errorf("tradier submit: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("tradier submit: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Order.ID == 0 {
		return "", fmt.Errorf("tradier submit: empty order id")
	}
	return fmt.Sprintf("%d", out.Order.ID), nil
}

// Poll reads the order back and maps the vendor status.
func (b *TradierBroker) Poll(ctx context.Context, brokerOrderID string) (*Status, error) {
	var out tradierOrderStatus
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/accounts/%s/orders/%s", b.accountID, brokerOrderID))
	if err != nil {
		return nil, fmt.Errorf("tradier poll: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrOrderNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tradier poll: status %d", resp.StatusCode())
	}

	st := &Status{
		BrokerOrderID: brokerOrderID,
		State:         tradierState(out.Order.Status),
		FilledQty:     int(out.Order.ExecQuantity),
	}
	if out.Order.AvgFillPrice > 0 {
		p := decimal.NewFromFloat(out.Order.AvgFillPrice)
		st.AvgFillPrice = &p
	}
	return st, nil
}

func (b *TradierBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	resp, err := b.client.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/accounts/%s/orders/%s", b.accountID, brokerOrderID))
	if err != nil {
		return fmt.Errorf("tradier cancel: %w", err)
	}
	if resp.StatusCode() == 404 {
		return ErrOrderNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("tradier cancel: status %d", resp.StatusCode())
	}
	return nil
}

// tradierState maps Tradier order states onto ours.
func tradierState(s string) models.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return models.OrderFilled
	case "partially_filled":
		return models.OrderPartial
	case "canceled", "cancelled":
		return models.OrderCancelled
	case "rejected", "error":
		return models.OrderRejected
	case "expired":
		return models.OrderExpired
	case "open", "pending", "submitted":
		return models.OrderSubmitted
	}
	return models.OrderSubmitted
}
