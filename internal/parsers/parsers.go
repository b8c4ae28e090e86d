// Package parsers normalizes webhook payload dialects into Signals.
//
// Each charting source speaks its own JSON shape. A registry keyed by
// dialect tag holds one parser per dialect; DetectSource inspects structural
// markers in a fixed, most-specific-first order and returns the tag. Parsers
// admit every plausible signal — scoring is the orchestrator's concern —
// but classify test pings and non-directional payloads as non-actionable.
package parsers

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// Dialect tags.
const (
	SourceUltimateOption = "ultimate-option"
	SourceSatyPhase      = "saty-phase"
	SourceMTFTrendDots   = "mtf-trend-dots"
	SourceORBBHCH        = "orb-bhch"
	SourceStratEngine    = "strat-engine"
	SourceGeneric        = "generic"
)

// Result is one parser's output. Signal is nil when the payload was
// malformed or non-actionable; Errors explains why.
type Result struct {
	Signal     *models.Signal
	Errors     []string
	RawPayload map[string]interface{}
	IsTest     bool
}

func (r *Result) fail(format string, args ...interface{}) *Result {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	return r
}

// Parser normalizes one dialect.
type Parser interface {
	Source() string
	Parse(payload map[string]interface{}) *Result
}

// Registry maps dialect tags to parsers.
type Registry struct {
	parsers map[string]Parser
	order   []string
}

// NewRegistry builds the default registry with all five dialects plus the
// generic fallback.
func NewRegistry() *Registry {
	r := &Registry{parsers: map[string]Parser{}}
	for _, p := range []Parser{
		&SatyPhaseParser{},
		&MTFTrendDotsParser{},
		&ORBBHCHParser{},
		&StratEngineParser{},
		&UltimateOptionParser{},
		&GenericParser{},
	} {
		r.parsers[p.Source()] = p
		r.order = append(r.order, p.Source())
	}
	return r
}

// Get returns the parser for a tag, falling back to generic.
func (r *Registry) Get(source string) Parser {
	if p, ok := r.parsers[source]; ok {
		return p
	}
	return r.parsers[SourceGeneric]
}

// DetectSource inspects shape markers in fixed order, most specific first.
func DetectSource(payload map[string]interface{}) string {
	if _, ok := payload["phase"]; ok {
		return SourceSatyPhase
	}
	if _, ok := payload["dots"]; ok {
		return SourceMTFTrendDots
	}
	if hasAny(payload, "tf1", "tf2", "tf3") {
		return SourceMTFTrendDots
	}
	if hasAny(payload, "orb_high", "orb_low", "orb_breakout") {
		return SourceORBBHCH
	}
	if hasAny(payload, "strat_pattern", "ftfc") {
		return SourceStratEngine
	}
	if _, ok := payload["score"]; ok {
		if _, ok := payload["trend"]; ok {
			return SourceUltimateOption
		}
	}
	return SourceGeneric
}

// Parse detects the dialect and runs its parser.
func (r *Registry) Parse(payload map[string]interface{}) *Result {
	return r.Get(DetectSource(payload)).Parse(payload)
}

func hasAny(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Shared extraction helpers

func str(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func num(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			case string:
				var f float64
				if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func symbolOf(m map[string]interface{}) string {
	return strings.ToUpper(str(m, "ticker", "symbol", "underlying"))
}

// timestampOf accepts RFC3339 strings or unix seconds/milliseconds; a
// missing timestamp defaults to now (many alert engines omit it).
func timestampOf(m map[string]interface{}) time.Time {
	if s := str(m, "timestamp", "time", "alert_time"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	if f, ok := num(m, "timestamp", "time"); ok && f > 0 {
		if f > 1e12 { // milliseconds
			return time.UnixMilli(int64(f))
		}
		return time.Unix(int64(f), 0)
	}
	return time.Now()
}

// isTestPing recognizes explicit connectivity checks.
func isTestPing(m map[string]interface{}) bool {
	if b, ok := m["test"].(bool); ok && b {
		return true
	}
	t := strings.ToLower(str(m, "type", "event"))
	return t == "test" || t == "ping"
}

// directionFromTrend maps bullish/bearish vocabulary to CALL/PUT.
func directionFromTrend(s string) (models.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BULLISH", "BULL", "UP", "LONG", "CALL", "BUY":
		return models.DirectionCall, true
	case "BEARISH", "BEAR", "DOWN", "SHORT", "PUT", "SELL":
		return models.DirectionPut, true
	}
	return "", false
}
