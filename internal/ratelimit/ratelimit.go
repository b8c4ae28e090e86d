// Package ratelimit implements per-provider token buckets with FIFO
// queueing. This is the sole backpressure mechanism against external
// market-data and broker APIs.
//
// Buckets refill on a fixed interval: tokens = min(maxTokens, tokens +
// refillAmount), then as many queued waiters as there are tokens are
// released in arrival order. TryConsume never blocks; WaitForToken suspends
// until a token arrives, the context is cancelled, or the manager shuts
// down. A cancelled waiter that already received its token hands it to the
// next waiter rather than losing it.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrShutdown is returned to waiters released by a limiter teardown.
var ErrShutdown = errors.New("ratelimit: shutting down")

// Config sizes one bucket.
type Config struct {
	MaxTokens      int
	RefillAmount   int
	RefillInterval time.Duration
}

// Stats is a point-in-time snapshot of bucket counters.
type Stats struct {
	Allowed     int64 `json:"allowed"`
	Throttled   int64 `json:"throttled"`
	Queued      int64 `json:"queued"`
	QueueLength int   `json:"queue_length"`
	Tokens      int   `json:"tokens"`
}

type waiter struct {
	ch chan struct{} // buffered(1); receives the granted token
}

// Bucket is a single token bucket. Buckets start full.
type Bucket struct {
	name string
	cfg  Config

	mu      sync.Mutex
	tokens  int
	waiters []*waiter
	stats   Stats
	closed  bool

	stopCh chan struct{}
}

func newBucket(name string, cfg Config) *Bucket {
	b := &Bucket{
		name:   name,
		cfg:    cfg,
		tokens: cfg.MaxTokens,
		stopCh: make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.cfg.RefillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.refill()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bucket) refill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.tokens += b.cfg.RefillAmount
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}
	b.releaseLocked()
}

// releaseLocked hands tokens to queued waiters in FIFO order. Caller holds mu.
func (b *Bucket) releaseLocked() {
	for b.tokens > 0 && len(b.waiters) > 0 {
		w := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.tokens--
		b.stats.Allowed++
		w.ch <- struct{}{} // buffered, never blocks
	}
	b.stats.QueueLength = len(b.waiters)
}

// TryConsume takes a token without blocking. Queued waiters have priority.
func (b *Bucket) TryConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if b.tokens > 0 && len(b.waiters) == 0 {
		b.tokens--
		b.stats.Allowed++
		return true
	}
	b.stats.Throttled++
	return false
}

// WaitForToken blocks until a token is granted. On cancellation the waiter
// is removed from the queue; if its token was already delivered, the token
// is returned to the pool so the next waiter gets it.
func (b *Bucket) WaitForToken(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrShutdown
	}
	if b.tokens > 0 && len(b.waiters) == 0 {
		b.tokens--
		b.stats.Allowed++
		b.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan struct{}, 1)}
	b.waiters = append(b.waiters, w)
	b.stats.Queued++
	b.stats.QueueLength = len(b.waiters)
	b.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-b.stopCh:
		return ErrShutdown
	case <-ctx.Done():
		b.abandon(w)
		return ctx.Err()
	}
}

// abandon removes a cancelled waiter. If the token raced in before the lock
// was taken, it is handed back to the pool.
func (b *Bucket) abandon(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, q := range b.waiters {
		if q == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			b.stats.QueueLength = len(b.waiters)
			return
		}
	}
	// Not in the queue: the token was already delivered. Recycle it.
	select {
	case <-w.ch:
		b.tokens++
		b.stats.Allowed--
		b.releaseLocked()
	default:
	}
}

// Stats returns a snapshot of the bucket counters.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.QueueLength = len(b.waiters)
	s.Tokens = b.tokens
	return s
}

func (b *Bucket) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.waiters = nil
	b.mu.Unlock()
	close(b.stopCh)
}

// Manager keeps a name -> bucket mapping. Creating the same name twice
// returns the existing bucket.
type Manager struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewManager creates an empty limiter registry.
func NewManager() *Manager {
	return &Manager{buckets: make(map[string]*Bucket)}
}

// Bucket returns the named bucket, creating it on first use.
func (m *Manager) Bucket(name string, cfg Config) *Bucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[name]; ok {
		return b
	}
	b := newBucket(name, cfg)
	m.buckets[name] = b
	log.Debug().Str("bucket", name).
		Int("max_tokens", cfg.MaxTokens).
		Dur("refill_interval", cfg.RefillInterval).
		Msg("Rate limit bucket created")
	return b
}

// Stats returns per-bucket snapshots.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Stats, len(m.buckets))
	for name, b := range m.buckets {
		out[name] = b.Stats()
	}
	return out
}

// Shutdown releases all waiters with ErrShutdown and stops refill loops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buckets {
		b.close()
	}
}
