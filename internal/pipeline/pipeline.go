// Package pipeline runs the unified signal path: NORMALIZATION ->
// VALIDATION -> DEDUPLICATION -> PERSISTENCE, with the DECISION stage
// executed asynchronously by the signal-processor worker.
//
// The webhook handler acknowledges as soon as normalization returns; the
// remaining stages run on a background task keyed by the correlation id, so
// the HTTP response never blocks on I/O beyond parsing.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/cache"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/parsers"
	"github.com/tradeforge/optionpipe/internal/store"
)

// Ack is the synchronous webhook answer.
type Ack struct {
	Status           string `json:"status"`
	CorrelationID    string `json:"correlation_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

// Pipeline normalizes, validates, dedupes, and persists incoming signals.
type Pipeline struct {
	registry *parsers.Registry
	store    *store.Store
	metrics  *observability.MetricsService
	audit    *audit.Logger
	dedup    *cache.Cache

	maxSignalAge time.Duration
	dedupTTL     time.Duration
	dedupWindow  time.Duration
}

// New wires the pipeline. dedup must be a dedicated cache instance so its
// hit statistics reflect duplicate drops only.
func New(reg *parsers.Registry, s *store.Store, m *observability.MetricsService, a *audit.Logger, dedup *cache.Cache, maxAge, dedupTTL, dedupWindow time.Duration) *Pipeline {
	return &Pipeline{
		registry:     reg,
		store:        s,
		metrics:      m,
		audit:        a,
		dedup:        dedup,
		maxSignalAge: maxAge,
		dedupTTL:     dedupTTL,
		dedupWindow:  dedupWindow,
	}
}

// DedupStats exposes the duplicate-drop counters.
func (p *Pipeline) DedupStats() cache.Stats {
	return p.dedup.Stats()
}

// Submit runs normalization synchronously and schedules the remaining
// stages in the background. It always returns an Ack for a parseable
// object; rejections surface later as pipeline-failure rows.
func (p *Pipeline) Submit(payload map[string]interface{}) *Ack {
	started := time.Now()
	correlationID := uuid.NewString()

	result := p.registry.Parse(payload)

	go p.process(correlationID, result, started)

	return &Ack{
		Status:           "ACCEPTED",
		CorrelationID:    correlationID,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}
}

// process runs the asynchronous stages for one submission.
func (p *Pipeline) process(correlationID string, result *parsers.Result, started time.Time) {
	defer func() {
		p.metrics.RecordLatency(observability.SeriesSignalProcessing, time.Since(started))
	}()

	// Normalization outcome.
	if result.Signal == nil {
		reason := "unparseable payload"
		if len(result.Errors) > 0 {
			reason = result.Errors[0]
		}
		p.reject(correlationID, models.StageNormalization, reason, result)
		return
	}
	sig := result.Signal
	sig.ID = uuid.NewString()
	sig.CorrelationID = correlationID

	// Validation.
	if reason := p.validate(sig); reason != "" {
		p.reject(correlationID, models.StageValidation, reason, result)
		return
	}

	// Deduplication. Two identical webhooks inside the TTL produce exactly
	// one persisted signal; the atomic claim means even simultaneous
	// submissions race to a single winner.
	key := p.dedupKey(sig)
	if !p.dedup.SetIfAbsent(key, sig.ID, p.dedupTTL) {
		p.reject(correlationID, models.StageDeduplication, "duplicate signal", result)
		return
	}

	// Persistence: signal row and its audit entry in one transaction. The
	// validation result stays null; the signal-processor worker owns the
	// DECISION stage.
	err := p.store.WithTransaction(func(tx *store.Store) error {
		if err := tx.CreateSignal(sig); err != nil {
			return err
		}
		p.audit.Record(tx, audit.Event{
			Type:          models.AuditSignalReceived,
			CorrelationID: correlationID,
			SignalID:      sig.ID,
			Symbol:        sig.Symbol,
			Details: models.JSONMap{
				"source":    sig.Source,
				"direction": sig.Direction,
				"timeframe": sig.Timeframe,
			},
		})
		return nil
	})
	if err != nil {
		p.dedup.Delete(key)
		p.reject(correlationID, models.StagePersistence, err.Error(), result)
		return
	}

	p.metrics.RecordSignalAccepted()
	log.Info().
		Str("correlation_id", correlationID).
		Str("signal_id", sig.ID).
		Str("source", sig.Source).
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Msg("Signal accepted")
}

// validate applies the post-normalization gates.
func (p *Pipeline) validate(sig *models.Signal) string {
	if sig.Symbol == "" {
		return "missing symbol"
	}
	if !sig.Direction.Valid() {
		return fmt.Sprintf("direction %q not tradeable", sig.Direction)
	}
	if age := time.Since(sig.Timestamp); age > p.maxSignalAge {
		return fmt.Sprintf("signal too old: %s", age.Round(time.Second))
	}
	if sig.Metadata == nil {
		return "missing metadata"
	}
	if _, ok := sig.Metadata["current_price"]; !ok {
		return "metadata missing current_price"
	}
	if _, ok := sig.Metadata["confidence"]; !ok {
		return "metadata missing confidence"
	}
	return ""
}

// dedupKey hashes the identity tuple with the timestamp floored to the
// dedup window.
func (p *Pipeline) dedupKey(sig *models.Signal) string {
	bucket := sig.Timestamp.Unix() / int64(p.dedupWindow.Seconds())
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		sig.Source, sig.Symbol, sig.Direction, sig.Timeframe, bucket)))
	return hex.EncodeToString(h[:16])
}

// reject records one pipeline failure and bumps the rejection metrics.
func (p *Pipeline) reject(correlationID, stage, reason string, result *parsers.Result) {
	p.metrics.RecordSignalRejected(stage + ": " + reason)

	source, symbol, raw := "", "", ""
	if result != nil {
		if result.Signal != nil {
			source, symbol = result.Signal.Source, result.Signal.Symbol
		} else if result.RawPayload != nil {
			source = parsers.DetectSource(result.RawPayload)
		}
		raw = fmt.Sprintf("%v", result.RawPayload)
	}
	failure := &models.PipelineFailure{
		Stage:         stage,
		Reason:        reason,
		Source:        source,
		Symbol:        symbol,
		CorrelationID: correlationID,
		RawPayload:    raw,
	}
	if err := p.store.CreatePipelineFailure(failure); err != nil {
		log.Error().Err(err).Str("stage", stage).Msg("Failed to record pipeline failure")
	}
	log.Debug().
		Str("correlation_id", correlationID).
		Str("stage", stage).
		Str("reason", reason).
		Msg("Signal rejected")
}
