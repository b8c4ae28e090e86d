// Package cache provides the process-wide TTL key-value cache.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const sweepInterval = 60 * time.Second

type entry struct {
	value     interface{}
	expiresAt time.Time
	createdAt time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is a concurrency-safe TTL map with a periodic eviction sweep.
// One instance is constructed at startup and torn down on shutdown.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	stats   Stats
	stopCh  chan struct{}
	once    sync.Once
}

// New creates the cache and starts its eviction sweep.
func New() *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Cache sweep evicted expired entries")
	}
}

// Get returns the value when it has not expired. An expired entry is
// removed and counts as a miss.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Set stores a value with its own TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl), createdAt: now}
	c.stats.Sets++
	c.mu.Unlock()
}

// SetIfAbsent stores the value only when the key is absent or expired and
// reports whether it was stored. Check and insert happen under one lock, so
// concurrent callers with the same key see exactly one true. A losing call
// counts as a hit.
func (c *Cache) SetIfAbsent(key string, value interface{}, ttl time.Duration) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.stats.Hits++
		return false
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl), createdAt: now}
	c.stats.Sets++
	return true
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Deletes++
	}
	c.mu.Unlock()
}

// Stats returns a counter snapshot including the current hit rate.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Size = len(c.entries)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Stop tears down the eviction sweep. Safe to call more than once.
func (c *Cache) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}
