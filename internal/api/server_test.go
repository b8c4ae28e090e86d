package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tradeforge/optionpipe/internal/audit"
	"github.com/tradeforge/optionpipe/internal/cache"
	"github.com/tradeforge/optionpipe/internal/decision"
	"github.com/tradeforge/optionpipe/internal/models"
	"github.com/tradeforge/optionpipe/internal/observability"
	"github.com/tradeforge/optionpipe/internal/parsers"
	"github.com/tradeforge/optionpipe/internal/pipeline"
	"github.com/tradeforge/optionpipe/internal/ratelimit"
	"github.com/tradeforge/optionpipe/internal/store"
	"github.com/tradeforge/optionpipe/internal/workers"
)

func testServer(t *testing.T, webhookSecret, jwtSecret string) (*Server, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	c := cache.New()
	t.Cleanup(c.Stop)
	dedup := cache.New()
	t.Cleanup(dedup.Stop)
	rl := ratelimit.NewManager()
	t.Cleanup(rl.Shutdown)

	metrics := observability.NewMetricsService()
	tracker := observability.NewDegradedModeTracker()
	health := observability.NewHealthCheckService(tracker, metrics, s, string(models.ModePaper))
	p := pipeline.New(parsers.NewRegistry(), s, metrics, audit.NewLogger(s),
		dedup, 15*time.Minute, time.Minute, time.Minute)
	exits := workers.NewExitMonitor(s, decision.New(), models.ModePaper, time.Minute)

	srv := NewServer("127.0.0.1:0", p, s, health, metrics, c, rl, exits,
		audit.NewQueryService(s), models.ModePaper, webhookSecret, jwtSecret)
	return srv, s
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody() []byte {
	payload := map[string]interface{}{
		"ticker":        "SPY",
		"trend":         "BULLISH",
		"score":         8.0,
		"current_price": 502.15,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(payload)
	return b
}

func TestWebhookAcceptsSignal(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(webhookBody()))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ack pipeline.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Status != "ACCEPTED" || ack.CorrelationID == "" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookRejectsGET(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "")

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestWebhookSignatureVerification(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "hunter2", "")
	body := webhookBody()

	cases := []struct {
		name string
		sig  string
		code int
	}{
		{"valid", sign(body, "hunter2"), http.StatusOK},
		{"uppercase hex accepted", strings.ToUpper(sign(body, "hunter2")), http.StatusOK},
		{"wrong secret", sign(body, "wrong"), http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		if c.sig != "" {
			req.Header.Set("x-signature", c.sig)
		}
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, req)
		if rec.Code != c.code {
			t.Errorf("%s: status = %d, want %d", c.name, rec.Code, c.code)
		}
	}
}

func TestRiskLimitsRequireAuth(t *testing.T) {
	t.Parallel()
	srv, s := testServer(t, "", "jwt-secret")
	if _, err := s.UpsertRiskLimits(models.ModePaper, func(rl *models.RiskLimits) {
		rl.MaxOpenPositions = 3
		rl.BaseQuantity = 2
	}); err != nil {
		t.Fatalf("seed limits: %v", err)
	}

	// GET is open.
	req := httptest.NewRequest(http.MethodGet, "/risk-limits", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	patch := `{"max_open_positions": 5}`

	// PUT without a token is refused.
	req = httptest.NewRequest(http.MethodPut, "/risk-limits", strings.NewReader(patch))
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated PUT status = %d, want 401", rec.Code)
	}

	token, err := IssueToken("jwt-secret", "ops")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodPut, "/risk-limits", strings.NewReader(patch))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated PUT status = %d, body = %s", rec.Code, rec.Body.String())
	}

	limits, err := s.GetRiskLimits(models.ModePaper)
	if err != nil {
		t.Fatalf("GetRiskLimits: %v", err)
	}
	if limits.MaxOpenPositions != 5 {
		t.Errorf("MaxOpenPositions = %d, want 5", limits.MaxOpenPositions)
	}
	if limits.BaseQuantity != 2 {
		t.Errorf("patch clobbered BaseQuantity: %d", limits.BaseQuantity)
	}
}

func TestRiskLimitsRejectsForgedToken(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "jwt-secret")

	token, err := IssueToken("other-secret", "intruder")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/risk-limits", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", rec.Code)
	}
}

func TestComponentHealthUnknownIs404(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "")

	req := httptest.NewRequest(http.MethodGet, "/health/BOGUS", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := testServer(t, "", "")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"cache", "rate_limits", "deduplicator"} {
		if _, ok := body[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}
