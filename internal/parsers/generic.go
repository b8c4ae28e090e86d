package parsers

import (
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// GenericParser is the fallback for unrecognized shapes. It requires only a
// ticker, a direction-like field, and a price.
type GenericParser struct{}

func (p *GenericParser) Source() string { return SourceGeneric }

func (p *GenericParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}
	dir, ok := directionFromTrend(str(payload, "direction", "trend", "side", "action"))
	if !ok {
		return res.fail("no direction field recognized")
	}
	price, ok := num(payload, "price", "current_price", "close")
	if !ok {
		return res.fail("missing price")
	}
	confidence, ok := num(payload, "confidence", "score")
	if !ok {
		confidence = 50
	} else if confidence <= 10 {
		confidence *= 10 // 0-10 scale
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "1D"
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
			"current_price": price,
			"strike":        atmStrike(price),
			"expiration":    nextMonthlyExpiration(now).Format("2006-01-02"),
			"quantity":      deriveQuantity(confidence, 1, 0.04),
		},
	}
	return res
}
