// Package api serves the HTTP surface: webhook ingestion, health, metrics,
// runtime stats, risk-limit management, exit signals, and the audit trail.
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/cache"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/pipeline"
	"github.com/tradeforge/optionpipe/internal/ratelimit"
	"github.com/tradeforge/optionpipe/internal/store"
	"github.com/tradeforge/optionpipe/internal/workers"
)

// maxWebhookBody caps the accepted payload size.
const maxWebhookBody = 1 << 20

// Server is the HTTP front end.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	health   *observability.HealthCheckService
	metrics  *observability.MetricsService
	cache    *cache.Cache
	limits   *ratelimit.Manager
	exits    *workers.ExitMonitor
	auditQ   *audit.QueryService
	mode     models.TradeMode

	webhookSecret string
	jwtSecret     string

	httpServer *http.Server
}

func NewServer(addr string, p *pipeline.Pipeline, s *store.Store, h *observability.HealthCheckService, m *observability.MetricsService, c *cache.Cache, rl *ratelimit.Manager, ex *workers.ExitMonitor, aq *audit.QueryService, mode models.TradeMode, webhookSecret, jwtSecret string) *Server {
	srv := &Server{
		pipeline:      p,
		store:         s,
		health:        h,
		metrics:       m,
		cache:         c,
		limits:        rl,
		exits:         ex,
		auditQ:        aq,
		mode:          mode,
		webhookSecret: webhookSecret,
		jwtSecret:     jwtSecret,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", srv.handleWebhook)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/health/", srv.handleComponentHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/metrics/signals", srv.handleMetricsSignals)
	mux.HandleFunc("/metrics/positions", srv.handleMetricsPositions)
	mux.HandleFunc("/metrics/latency", srv.handleMetricsLatency)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/risk-limits", srv.handleRiskLimits)
	mux.HandleFunc("/exit-signals", srv.handleExitSignals)
	mux.HandleFunc("/audit", srv.handleAudit)

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Webhook

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", "")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body", "")
		return
	}

	if s.webhookSecret != "" {
		if !verifySignature(body, r.Header.Get("x-signature"), s.webhookSecret) {
			s.writeError(w, http.StatusUnauthorized, "bad signature", "")
			return
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}

	ack := s.pipeline.Submit(payload)
	s.writeJSON(w, http.StatusOK, ack)
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ---------------------------------------------------------------------------
// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lastSignal, _ := s.store.LastSignalTime()
	lastOrder, _ := s.store.LastOrderTime()
	report := s.health.Check(lastSignal, lastOrder)

	code := http.StatusOK
	if report.Status != observability.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, report)
}

func (s *Server) handleComponentHealth(w http.ResponseWriter, r *http.Request) {
	name := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/health/"))
	switch name {
	case "CONTEXT", "GEX", "DATABASE":
	default:
		s.writeError(w, http.StatusNotFound, "unknown component", "")
		return
	}
	status, healthy := s.health.Component(name)
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"component": name,
		"status":    status,
	})
}

// ---------------------------------------------------------------------------
// Metrics

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	agg, err := s.store.GetPositionAggregates()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": s.metrics.Uptime().Seconds(),
		"signals":        s.metrics.Signals(),
		"latency":        s.metrics.Latency(),
		"positions":      positionMetrics(agg),
	})
}

func (s *Server) handleMetricsSignals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Signals())
}

func (s *Server) handleMetricsPositions(w http.ResponseWriter, r *http.Request) {
	agg, err := s.store.GetPositionAggregates()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, positionMetrics(agg))
}

func (s *Server) handleMetricsLatency(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Latency())
}

func positionMetrics(agg *store.PositionAggregates) map[string]interface{} {
	return map[string]interface{}{
		"open_count":     agg.OpenCount,
		"total_exposure": agg.TotalExposure,
		"unrealized_pnl": agg.UnrealizedPnL,
		"realized_pnl":   agg.RealizedPnL,
	}
}

// ---------------------------------------------------------------------------
// Runtime stats

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cache":        s.cache.Stats(),
		"rate_limits":  s.limits.Stats(),
		"deduplicator": s.pipeline.DedupStats(),
	})
}

// ---------------------------------------------------------------------------
// Risk limits

// riskLimitsPatch is the allow-listed mutable subset.
type riskLimitsPatch struct {
	MaxOpenPositions *int     `json:"max_open_positions"`
	MaxDailyLoss     *string  `json:"max_daily_loss"`
	MaxPositionSize  *int     `json:"max_position_size"`
	MinPositionSize  *int     `json:"min_position_size"`
	BaseQuantity     *int     `json:"base_quantity"`
	MaxVixForEntry   *float64 `json:"max_vix_for_entry"`
	VixSizeReduction *float64 `json:"vix_size_reduction"`
	VixHardReject    *bool    `json:"vix_hard_reject"`
	AutoCloseEnabled *bool    `json:"auto_close_enabled"`
}

func (s *Server) handleRiskLimits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getRiskLimits(w, r)
	case http.MethodPut:
		s.requireAuth(s.putRiskLimits)(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "GET or PUT required", "")
	}
}

func (s *Server) riskMode(r *http.Request) models.TradeMode {
	if m := r.URL.Query().Get("mode"); m != "" {
		return models.TradeMode(strings.ToUpper(m))
	}
	return s.mode
}

func (s *Server) getRiskLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := s.store.GetRiskLimits(s.riskMode(r))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no risk limits for mode", "")
		return
	}
	s.writeJSON(w, http.StatusOK, limits)
}

func (s *Server) putRiskLimits(w http.ResponseWriter, r *http.Request) {
	var patch riskLimitsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON", "")
		return
	}
	limits, err := s.store.UpsertRiskLimits(s.riskMode(r), func(rl *models.RiskLimits) {
		if patch.MaxOpenPositions != nil {
			rl.MaxOpenPositions = *patch.MaxOpenPositions
		}
		if patch.MaxDailyLoss != nil {
			if d, err := decimal.NewFromString(*patch.MaxDailyLoss); err == nil {
				rl.MaxDailyLoss = d
			}
		}
		if patch.MaxPositionSize != nil {
			rl.MaxPositionSize = *patch.MaxPositionSize
		}
		if patch.MinPositionSize != nil {
			rl.MinPositionSize = *patch.MinPositionSize
		}
		if patch.BaseQuantity != nil {
			rl.BaseQuantity = *patch.BaseQuantity
		}
		if patch.MaxVixForEntry != nil {
			rl.MaxVixForEntry = *patch.MaxVixForEntry
		}
		if patch.VixSizeReduction != nil {
			rl.VixSizeReduction = *patch.VixSizeReduction
		}
		if patch.VixHardReject != nil {
			rl.VixHardReject = *patch.VixHardReject
		}
		if patch.AutoCloseEnabled != nil {
			rl.AutoCloseEnabled = *patch.AutoCloseEnabled
		}
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, limits)
}

// ---------------------------------------------------------------------------
// Exit signals

func (s *Server) handleExitSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required", "")
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		signals, err := s.exits.Evaluate(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"exit_signals": signals})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"exit_signals": s.exits.Last()})
}

// ---------------------------------------------------------------------------
// Audit

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required", "")
		return
	}
	q := r.URL.Query()
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		from, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("to"); v != "" {
		to, _ = time.Parse(time.RFC3339, v)
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	page, err := s.auditQ.Query(from, to, q.Get("symbol"), q.Get("signal_id"),
		q.Get("event_type"), q.Get("decision_type"), q.Get("verdict"), offset, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// ---------------------------------------------------------------------------
// Response helpers

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg, correlationID string) {
	body := map[string]string{"error": msg}
	if correlationID != "" {
		body["correlation_id"] = correlationID
	}
	s.writeJSON(w, code, body)
}
