package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTryConsumeDrainsAndThrottles(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer m.Shutdown()
	b := m.Bucket("quotes", Config{MaxTokens: 3, RefillAmount: 3, RefillInterval: time.Hour})

	for i := 0; i < 3; i++ {
		if !b.TryConsume() {
			t.Fatalf("token %d should be available", i)
		}
	}
	if b.TryConsume() {
		t.Fatal("empty bucket should throttle")
	}

	s := b.Stats()
	if s.Allowed != 3 || s.Throttled != 1 {
		t.Errorf("stats allowed=%d throttled=%d, want 3/1", s.Allowed, s.Throttled)
	}
}

func TestRefillRestoresTokens(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer m.Shutdown()
	b := m.Bucket("refill", Config{MaxTokens: 2, RefillAmount: 2, RefillInterval: 20 * time.Millisecond})

	b.TryConsume()
	b.TryConsume()
	if b.TryConsume() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.TryConsume() {
		t.Fatal("bucket should have refilled")
	}
	if got := b.Stats().Tokens; got > 2 {
		t.Errorf("tokens = %d, refill must cap at max 2", got)
	}
}

func TestWaitForTokenFIFO(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer m.Shutdown()
	b := m.Bucket("fifo", Config{MaxTokens: 1, RefillAmount: 1, RefillInterval: 25 * time.Millisecond})
	b.TryConsume() // drain

	order := make(chan int, 2)
	ready := make(chan struct{})
	go func() {
		close(ready)
		if err := b.WaitForToken(context.Background()); err != nil {
			t.Errorf("first waiter: %v", err)
		}
		order <- 1
	}()
	<-ready
	time.Sleep(10 * time.Millisecond) // ensure the first waiter queued first
	go func() {
		if err := b.WaitForToken(context.Background()); err != nil {
			t.Errorf("second waiter: %v", err)
		}
		order <- 2
	}()

	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Errorf("release order = %d,%d, want 1,2", first, second)
	}
}

func TestWaitForTokenCancellation(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer m.Shutdown()
	b := m.Bucket("cancel", Config{MaxTokens: 1, RefillAmount: 1, RefillInterval: time.Hour})
	b.TryConsume() // drain; no refill within the test

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.WaitForToken(ctx); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if got := b.Stats().QueueLength; got != 0 {
		t.Errorf("queue length after cancel = %d, want 0", got)
	}
}

func TestManagerReturnsSameBucket(t *testing.T) {
	t.Parallel()

	m := NewManager()
	defer m.Shutdown()
	cfg := Config{MaxTokens: 5, RefillAmount: 5, RefillInterval: time.Minute}
	a := m.Bucket("provider:tradier", cfg)
	b := m.Bucket("provider:tradier", cfg)
	if a != b {
		t.Error("same name must return the same bucket")
	}
}

func TestShutdownReleasesWaiters(t *testing.T) {
	t.Parallel()

	m := NewManager()
	b := m.Bucket("down", Config{MaxTokens: 1, RefillAmount: 1, RefillInterval: time.Hour})
	b.TryConsume()

	done := make(chan error, 1)
	go func() { done <- b.WaitForToken(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	m.Shutdown()

	select {
	case err := <-done:
		if err != ErrShutdown {
			t.Errorf("err = %v, want ErrShutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by shutdown")
	}
}
