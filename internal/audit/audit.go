// Package audit writes and queries the append-only pipeline audit trail.
// Every signal receipt, decision, open, and close lands here, keyed by the
// correlation id minted at webhook receipt.
package audit

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/store"
)

// Logger writes audit entries. Failures are logged and swallowed: an audit
// write must never fail the operation it describes.
type Logger struct {
	store *store.Store
}

func NewLogger(s *store.Store) *Logger {
	return &Logger{store: s}
}

// Event is one audit record before persistence.
type Event struct {
	Type          string
	CorrelationID string
	SignalID      string
	Symbol        string
	DecisionType  models.DecisionType
	Verdict       models.Verdict
	Details       models.JSONMap
}

// Record persists the event on the given store handle. Pass a transaction
// store to make the entry atomic with the write it describes.
func (l *Logger) Record(s *store.Store, e Event) {
	if s == nil {
		s = l.store
	}
	entry := &models.AuditLogEntry{
		EventType:     e.Type,
		CorrelationID: e.CorrelationID,
		SignalID:      e.SignalID,
		Symbol:        e.Symbol,
		DecisionType:  string(e.DecisionType),
		Verdict:       string(e.Verdict),
		Details:       e.Details,
	}
	if err := s.CreateAuditEntry(entry); err != nil {
		log.Error().Err(err).Str("event", e.Type).Str("signal_id", e.SignalID).
			Msg("Audit write failed")
	}
}

// RecordTx is Record inside the ambient store (no transaction).
func (l *Logger) RecordTx(e Event) {
	l.Record(l.store, e)
}

// QueryService serves filtered, paginated audit reads for the HTTP surface.
type QueryService struct {
	store *store.Store
}

func NewQueryService(s *store.Store) *QueryService {
	return &QueryService{store: s}
}

// Page is one page of audit entries, newest first.
type Page struct {
	Entries []models.AuditLogEntry `json:"entries"`
	Total   int64                  `json:"total"`
	Offset  int                    `json:"offset"`
	Limit   int                    `json:"limit"`
}

// Query runs a filtered read. Zero-valued filter fields are ignored.
func (q *QueryService) Query(from, to time.Time, symbol, signalID, eventType, decisionType, verdict string, offset, limit int) (*Page, error) {
	entries, total, err := q.store.QueryAudit(store.AuditFilter{
		From:         from,
		To:           to,
		Symbol:       symbol,
		SignalID:     signalID,
		EventType:    eventType,
		DecisionType: decisionType,
		Verdict:      verdict,
		Offset:       offset,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return &Page{Entries: entries, Total: total, Offset: offset, Limit: limit}, nil
}
