// Package workers hosts the background loops that drive signals through
// decision, order creation, execution, and position monitoring.
//
// Every worker follows the same contract: run once immediately on start,
// then on a fixed interval; inside a batch, check for shutdown between
// items; a failing item is logged and skipped, never aborts the batch.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker is one background loop.
type Worker interface {
	Name() string
	Interval() time.Duration
	// Run processes one batch. Item-level errors are handled inside; a
	// returned error means the whole pass failed.
	Run(ctx context.Context) error
}

// Pool runs a set of workers until the context is cancelled.
type Pool struct {
	workers []Worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func NewPool(ws ...Worker) *Pool {
	return &Pool{workers: ws}
}

// Start launches every worker loop.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go p.loop(ctx, w)
	}
	log.Info().Int("workers", len(p.workers)).Msg("Worker pool started")
}

// Stop cancels all loops and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, w Worker) {
	defer p.wg.Done()

	run := func() {
		started := time.Now()
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("worker", w.Name()).Msg("Worker pass failed")
		} else {
			log.Debug().Str("worker", w.Name()).
				Dur("elapsed", time.Since(started)).Msg("Worker pass done")
		}
	}

	run()
	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
