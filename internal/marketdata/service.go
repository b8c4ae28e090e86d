// Package marketdata fans quote requests out over configured providers with
// failover and a deterministic demo fallback.
//
// Lookup order: cache hit wins; else the primary provider subject to its
// rate limiter; else each remaining provider in declared order; else the
// demo quote. Concurrent callers for the same symbol are coalesced into a
// single upstream fetch so a cold cache cannot burst a rate limit.
package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tradeforge/optionpipe/internal/cache"
	"github.com/tradeforge/optionpipe/internal/ratelimit"
)

// HealthSink receives provider success/failure notifications. Implemented
// by the degraded-mode tracker.
type HealthSink interface {
	RecordSuccess(component string)
	RecordFailure(component, reason string)
}

// Component name reported to the health sink.
const healthComponent = "MARKETDATA"

const (
	quoteKeyPrefix = "quote:"
	hoursKey       = "market_hours"
)

// Service is the process-wide market-data gateway.
type Service struct {
	providers []Provider // ordered, primary first
	demo      *DemoProvider
	cache     *cache.Cache
	limits    *ratelimit.Manager
	health    HealthSink

	quoteTTL time.Duration
	hoursTTL time.Duration

	flight singleflight.Group
}

// NewService wires the gateway. providers must be ordered primary-first and
// may be empty, in which case every quote is a demo quote.
func NewService(providers []Provider, c *cache.Cache, limits *ratelimit.Manager, health HealthSink, quoteTTL, hoursTTL time.Duration) *Service {
	return &Service{
		providers: providers,
		demo:      NewDemoProvider(),
		cache:     c,
		limits:    limits,
		health:    health,
		quoteTTL:  quoteTTL,
		hoursTTL:  hoursTTL,
	}
}

// bucket returns the provider's rate-limit bucket. Limits are conservative
// defaults per provider; both Tradier and Alpaca allow far more.
func (s *Service) bucket(name string) *ratelimit.Bucket {
	return s.limits.Bucket("provider:"+name, ratelimit.Config{
		MaxTokens:      60,
		RefillAmount:   60,
		RefillInterval: time.Minute,
	})
}

// GetStockPrice returns a quote for one symbol, from cache when fresh.
func (s *Service) GetStockPrice(ctx context.Context, symbol string) (*Quote, error) {
	key := quoteKeyPrefix + symbol
	if v, ok := s.cache.Get(key); ok {
		return v.(*Quote), nil
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the cache while we queued.
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
		q := s.fetchWithFailover(ctx, symbol)
		s.cache.Set(key, q, s.quoteTTL)
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Quote), nil
}

// fetchWithFailover walks the provider list; the demo provider terminates
// the chain and never fails.
func (s *Service) fetchWithFailover(ctx context.Context, symbol string) *Quote {
	for _, p := range s.providers {
		if err := s.bucket(p.Name()).WaitForToken(ctx); err != nil {
			log.Warn().Str("provider", p.Name()).Err(err).Msg("Rate limit wait aborted")
			continue
		}
		q, err := p.GetQuote(ctx, symbol)
		if err != nil {
			log.Warn().Str("provider", p.Name()).Str("symbol", symbol).Err(err).
				Msg("Provider quote failed, failing over")
			if s.health != nil {
				s.health.RecordFailure(healthComponent, fmt.Sprintf("%s: %v", p.Name(), err))
			}
			continue
		}
		if s.health != nil {
			s.health.RecordSuccess(healthComponent)
		}
		return q
	}
	q, _ := s.demo.GetQuote(ctx, symbol)
	log.Debug().Str("symbol", symbol).Msg("All providers failed, serving demo quote")
	return q
}

// GetStockPrices fans out in parallel; each symbol fails independently and
// a failed symbol is simply absent from the result map.
func (s *Service) GetStockPrices(ctx context.Context, symbols []string) map[string]*Quote {
	out := make(map[string]*Quote, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			q, err := s.GetStockPrice(ctx, sym)
			if err != nil {
				log.Warn().Str("symbol", sym).Err(err).Msg("Quote fan-out item failed")
				return
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return out
}

// GetOptionChain fetches the chain from the first provider that supports
// it, falling back to the synthetic demo chain.
func (s *Service) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]OptionContract, error) {
	for _, p := range s.providers {
		if err := s.bucket(p.Name()).WaitForToken(ctx); err != nil {
			continue
		}
		chain, err := p.GetOptionChain(ctx, symbol, expiration)
		if err == ErrUnsupported {
			continue
		}
		if err != nil {
			log.Warn().Str("provider", p.Name()).Str("symbol", symbol).Err(err).
				Msg("Chain fetch failed, failing over")
			if s.health != nil {
				s.health.RecordFailure(healthComponent, err.Error())
			}
			continue
		}
		if s.health != nil {
			s.health.RecordSuccess(healthComponent)
		}
		return chain, nil
	}
	return s.demo.GetOptionChain(ctx, symbol, expiration)
}

// GetMarketHours returns the current session, cached for the hours TTL.
func (s *Service) GetMarketHours() MarketHours {
	if v, ok := s.cache.Get(hoursKey); ok {
		return v.(MarketHours)
	}
	mh := marketHoursAt(time.Now())
	s.cache.Set(hoursKey, mh, s.hoursTTL)
	return mh
}

// IsMarketOpen reports whether the regular session is in progress.
func (s *Service) IsMarketOpen() bool {
	return s.GetMarketHours().IsOpen
}

// GetVIX returns the current VIX level.
func (s *Service) GetVIX(ctx context.Context) (float64, error) {
	q, err := s.GetStockPrice(ctx, "VIX")
	if err != nil {
		return 0, err
	}
	f, _ := q.Price.Float64()
	return f, nil
}

// GetSPYPrice returns the SPY quote used as the broad-market reference.
func (s *Service) GetSPYPrice(ctx context.Context) (decimal.Decimal, error) {
	q, err := s.GetStockPrice(ctx, "SPY")
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// SetQuote injects a quote into the cache. Used by the streaming feed and
// by tests.
func (s *Service) SetQuote(q *Quote) {
	s.cache.Set(quoteKeyPrefix+q.Symbol, q, s.quoteTTL)
}
