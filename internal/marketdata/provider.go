package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProvider marks an upstream market-data failure. It triggers failover;
// if every provider fails, the demo fallback answers instead.
var ErrProvider = errors.New("marketdata: provider error")

// ErrUnsupported is returned by providers that do not serve a capability
// (e.g. option chains on a quotes-only feed).
var ErrUnsupported = errors.New("marketdata: unsupported operation")

// Quote is one snapshot of an underlying's price.
type Quote struct {
	Symbol    string           `json:"symbol"`
	Price     decimal.Decimal  `json:"price"`
	Open      *decimal.Decimal `json:"open,omitempty"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	Volume    int64            `json:"volume,omitempty"`
	Bid       *decimal.Decimal `json:"bid,omitempty"`
	Ask       *decimal.Decimal `json:"ask,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Provider  string           `json:"provider"`
}

// OptionContract is one row of an option chain, carrying the greeks the GEX
// refresher needs.
type OptionContract struct {
	Symbol       string
	Underlying   string
	Strike       decimal.Decimal
	Expiration   time.Time
	Type         string // call / put
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Last         decimal.Decimal
	Volume       int64
	OpenInterest int64
	Gamma        float64
	Delta        float64
	IV           float64
}

// Provider serves quotes and, optionally, option chains.
type Provider interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionContract, error)
}
