package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// demoTable seeds the fallback quotes. Values drift ±0.5% per request so
// downstream math still moves, and every quote is tagged provider=demo.
var demoTable = map[string]float64{
	"SPY":  500.00,
	"QQQ":  430.00,
	"IWM":  200.00,
	"DIA":  390.00,
	"VIX":  16.50,
	"AAPL": 190.00,
	"TSLA": 250.00,
	"NVDA": 880.00,
}

const demoDefaultPrice = 100.00

// DemoProvider is the terminal fallback: it never fails and never touches
// the network.
type DemoProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDemoProvider() *DemoProvider {
	return &DemoProvider{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *DemoProvider) Name() string { return "demo" }

func (p *DemoProvider) jitter() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 1 + (p.rng.Float64()-0.5)*0.01 // ±0.5%
}

func (p *DemoProvider) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	base, ok := demoTable[symbol]
	if !ok {
		base = demoDefaultPrice
	}
	price := base * p.jitter()
	return &Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price).Round(2),
		Timestamp: time.Now(),
		Provider:  p.Name(),
	}, nil
}

// GetOptionChain synthesizes a chain around the demo spot so the GEX
// refresher keeps producing summaries when no real provider is configured.
// Gamma follows a rough bell curve around ATM; open interest thins out with
// distance from the money.
func (p *DemoProvider) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionContract, error) {
	q, _ := p.GetQuote(ctx, symbol)
	spot, _ := q.Price.Float64()

	increment := strikeIncrement(spot)
	atm := math.Round(spot/increment) * increment

	var contracts []OptionContract
	for i := -10; i <= 10; i++ {
		strike := atm + float64(i)*increment
		if strike <= 0 {
			continue
		}
		dist := math.Abs(strike-spot) / spot
		gamma := 0.05 * math.Exp(-dist*dist*2000)
		oi := int64(5000 * math.Exp(-dist*100))
		for _, typ := range []string{"call", "put"} {
			intrinsic := 0.0
			if typ == "call" {
				intrinsic = math.Max(0, spot-strike)
			} else {
				intrinsic = math.Max(0, strike-spot)
			}
			last := intrinsic + 1.5*math.Exp(-dist*50)
			contracts = append(contracts, OptionContract{
				Symbol:       symbol,
				Underlying:   symbol,
				Strike:       decimal.NewFromFloat(strike),
				Expiration:   expiration,
				Type:         typ,
				Last:         decimal.NewFromFloat(last).Round(2),
				Volume:       oi / 10,
				OpenInterest: oi,
				Gamma:        gamma,
				IV:           0.18 + dist,
			})
		}
	}
	return contracts, nil
}

// strikeIncrement returns the standard listed strike spacing for a price:
// 2.5 below $25, 5 below $200, 10 above.
func strikeIncrement(price float64) float64 {
	switch {
	case price < 25:
		return 2.5
	case price < 200:
		return 5
	default:
		return 10
	}
}
