package parsers

import (
	"strings"
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// SatyPhaseParser handles the saty-phase dialect: market-phase transitions
// from a phase oscillator. Only trending phases imply a trade; rotational
// phases are non-actionable.
//
//	{"phase":"MARKUP","ticker":"QQQ","price":430.5,"strength":72}
type SatyPhaseParser struct{}

func (p *SatyPhaseParser) Source() string { return SourceSatyPhase }

func (p *SatyPhaseParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}

	phase := strings.ToUpper(str(payload, "phase"))
	var dir models.Direction
	switch phase {
	case "ACCUMULATION", "MARKUP", "BULLISH_PHASE":
		dir = models.DirectionCall
	case "MARKDOWN", "DISTRIBUTION_BREAK", "BEARISH_PHASE":
		dir = models.DirectionPut
	case "DISTRIBUTION", "CONSOLIDATION", "ROTATION":
		return res.fail("phase %q is rotational, not actionable", phase)
	default:
		return res.fail("unknown phase %q", phase)
	}

	price, ok := num(payload, "price", "current_price", "close")
	if !ok {
		return res.fail("missing price")
	}
	confidence, ok := num(payload, "strength", "confidence")
	if !ok {
		confidence = 60
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "4H"
	}

	now := time.Now()
	res.Signal = &models.Signal{
		Source:    p.Source(),
		Symbol:    symbol,
		Direction: dir,
		Timeframe: timeframe,
		Timestamp: timestampOf(payload),
		Metadata: models.JSONMap{
			"confidence":    confidence,
			"phase":         phase,
			"current_price": price,
			"strike":        atmStrike(price),
			"expiration":    nextMonthlyExpiration(now).Format("2006-01-02"),
			"quantity":      deriveQuantity(confidence, 1, 0.05),
		},
	}
	return res
}
