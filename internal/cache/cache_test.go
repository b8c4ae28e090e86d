package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSetGetAndExpiry(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Stop()

	c.Set("quote:SPY", 502.15, 30*time.Millisecond)
	if v, ok := c.Get("quote:SPY"); !ok || v.(float64) != 502.15 {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("quote:SPY"); ok {
		t.Fatal("expired entry should miss")
	}
	if s := c.Stats(); s.Size != 0 {
		t.Errorf("expired entry not removed on read, size = %d", s.Size)
	}
}

func TestPerKeyTTL(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Stop()

	c.Set("short", 1, 20*time.Millisecond)
	c.Set("long", 2, time.Minute)

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Error("short entry should be gone")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("long entry should survive")
	}
}

func TestStatsCounters(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Get("a")
	c.Get("a")
	c.Get("missing")
	c.Delete("a")
	c.Delete("a") // second delete is a no-op

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Sets != 1 || s.Deletes != 1 {
		t.Errorf("stats = %+v, want hits=2 misses=1 sets=1 deletes=1", s)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v, want ~2/3", s.HitRate)
	}
}

func TestSetIfAbsent(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Stop()

	if !c.SetIfAbsent("k", 1, 30*time.Millisecond) {
		t.Fatal("first SetIfAbsent must win")
	}
	if c.SetIfAbsent("k", 2, 30*time.Millisecond) {
		t.Fatal("second SetIfAbsent inside TTL must lose")
	}
	if v, ok := c.Get("k"); !ok || v.(int) != 1 {
		t.Errorf("value = %v, %v, want the first writer's", v, ok)
	}

	time.Sleep(50 * time.Millisecond)
	if !c.SetIfAbsent("k", 3, time.Minute) {
		t.Error("SetIfAbsent after expiry must win again")
	}

	// A losing call counts as a hit, like a Get that found the entry.
	s := c.Stats()
	if s.Sets != 2 {
		t.Errorf("sets = %d, want 2", s.Sets)
	}
	if s.Hits != 2 { // one losing SetIfAbsent, one Get
		t.Errorf("hits = %d, want 2", s.Hits)
	}
}

func TestSetIfAbsentSingleWinner(t *testing.T) {
	t.Parallel()

	c := New()
	defer c.Stop()

	const n = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	var wins int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if c.SetIfAbsent("contested", i, time.Minute) {
				atomic.AddInt64(&wins, 1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	c := New()
	c.Stop()
	c.Stop()
}
