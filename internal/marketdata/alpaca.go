package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// AlpacaProvider serves stock quotes from the Alpaca data API. It is a
// quotes-only feed: option chains are unsupported.
type AlpacaProvider struct {
	client *resty.Client
}

func NewAlpacaProvider(baseURL, apiKey, apiSecret string, timeout time.Duration) *AlpacaProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("APCA-API-KEY-ID", apiKey).
		SetHeader("APCA-API-SECRET-KEY", apiSecret)
	return &AlpacaProvider{client: client}
}

func (p *AlpacaProvider) Name() string { return "alpaca" }

type alpacaTradeResp struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price     float64   `json:"p"`
		Size      int64     `json:"s"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
}

func (p *AlpacaProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var out alpacaTradeResp
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/stocks/%s/trades/latest", symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: alpaca: %v", ErrProvider, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: alpaca: status %d", ErrProvider, resp.StatusCode())
	}
	if out.Trade.Price == 0 {
		return nil, fmt.Errorf("%w: alpaca: empty trade for %s", ErrProvider, symbol)
	}
	return &Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(out.Trade.Price),
		Volume:    out.Trade.Size,
		Timestamp: out.Trade.Timestamp,
		Provider:  p.Name(),
	}, nil
}

func (p *AlpacaProvider) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionContract, error) {
	return nil, ErrUnsupported
}
