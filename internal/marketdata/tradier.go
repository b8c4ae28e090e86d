package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// TradierProvider fetches quotes and option chains from the Tradier
// market-data REST API.
type TradierProvider struct {
	client *resty.Client
}

// NewTradierProvider builds a Tradier client. The timeout applies per
// request; failover handles retries, so the client itself never retries.
func NewTradierProvider(baseURL, apiKey string, timeout time.Duration) *TradierProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Accept", "application/json")
	return &TradierProvider{client: client}
}

func (p *TradierProvider) Name() string { return "tradier" }

type tradierQuoteResp struct {
	Quotes struct {
		Quote []struct {
			Symbol string  `json:"symbol"`
			Last   float64 `json:"last"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Volume int64   `json:"volume"`
		} `json:"quote"`
	} `json:"quotes"`
}

func (p *TradierProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var out tradierQuoteResp
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", symbol).
		SetResult(&out).
		Get("/markets/quotes")
	if err != nil {
		return nil, fmt.Errorf("%w: tradier: %v", ErrProvider, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: tradier: status %d", ErrProvider, resp.StatusCode())
	}
	if len(out.Quotes.Quote) == 0 {
		return nil, fmt.Errorf("%w: tradier: no quote for %s", ErrProvider, symbol)
	}
	q := out.Quotes.Quote[0]
	open := decimal.NewFromFloat(q.Open)
	high := decimal.NewFromFloat(q.High)
	low := decimal.NewFromFloat(q.Low)
	bid := decimal.NewFromFloat(q.Bid)
	ask := decimal.NewFromFloat(q.Ask)
	return &Quote{
		Symbol:    q.Symbol,
		Price:     decimal.NewFromFloat(q.Last),
		Open:      &open,
		High:      &high,
		Low:       &low,
		Bid:       &bid,
		Ask:       &ask,
		Volume:    q.Volume,
		Timestamp: time.Now(),
		Provider:  p.Name(),
	}, nil
}

type tradierChainResp struct {
	Options struct {
		Option []struct {
			Symbol         string  `json:"symbol"`
			Underlying     string  `json:"underlying"`
			Strike         float64 `json:"strike"`
			ExpirationDate string  `json:"expiration_date"`
			OptionType     string  `json:"option_type"`
			Bid            float64 `json:"bid"`
			Ask            float64 `json:"ask"`
			Last           float64 `json:"last"`
			Volume         int64   `json:"volume"`
			OpenInterest   int64   `json:"open_interest"`
			Greeks         *struct {
				Gamma  float64 `json:"gamma"`
				Delta  float64 `json:"delta"`
				MidIV  float64 `json:"mid_iv"`
			} `json:"greeks"`
		} `json:"option"`
	} `json:"options"`
}

func (p *TradierProvider) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionContract, error) {
	var out tradierChainResp
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     symbol,
			"expiration": expiration.Format("2006-01-02"),
			"greeks":     "true",
		}).
		SetResult(&out).
		Get("/markets/options/chains")
	if err != nil {
		return nil, fmt.Errorf("%w: tradier chain: %v", ErrProvider, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: tradier chain: status %d", ErrProvider, resp.StatusCode())
	}

	contracts := make([]OptionContract, 0, len(out.Options.Option))
	for _, o := range out.Options.Option {
		exp, err := time.Parse("2006-01-02", o.ExpirationDate)
		if err != nil {
			continue
		}
		c := OptionContract{
			Symbol:       o.Symbol,
			Underlying:   o.Underlying,
			Strike:       decimal.NewFromFloat(o.Strike),
			Expiration:   exp,
			Type:         o.OptionType,
			Bid:          decimal.NewFromFloat(o.Bid),
			Ask:          decimal.NewFromFloat(o.Ask),
			Last:         decimal.NewFromFloat(o.Last),
			Volume:       o.Volume,
			OpenInterest: o.OpenInterest,
		}
		if o.Greeks != nil {
			c.Gamma = o.Greeks.Gamma
			c.Delta = o.Greeks.Delta
			c.IV = o.Greeks.MidIV
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}
