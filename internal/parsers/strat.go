package parsers

import (
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// StratEngineParser handles the strat-engine dialect: Strat candle patterns
// (e.g. "2-1-2", "3-1-2") with an explicit direction and optional
// full-timeframe-continuity flag.
//
//	{"strat_pattern":"2-1-2","direction":"BULLISH","ftfc":true,"ticker":"AAPL","price":190.2}
type StratEngineParser struct{}

func (p *StratEngineParser) Source() string { return SourceStratEngine }

func (p *StratEngineParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}
	dir, ok := directionFromTrend(str(payload, "direction", "bias"))
	if !ok {
		return res.fail("missing or unknown direction %q", str(payload, "direction"))
	}
	price, ok := num(payload, "price", "current_price", "close")
	if !ok {
		return res.fail("missing price")
	}

	confidence, ok := num(payload, "confidence")
	if !ok {
		confidence = 60
	}
	// Full timeframe continuity is the strat engine's strongest filter.
	if ftfc, ok := payload["ftfc"].(bool); ok && ftfc {
		confidence += 15
		if confidence > 100 {
			confidence = 100
		}
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "1H"
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
			"pattern":       str(payload, "strat_pattern", "pattern"),
			"ftfc":          payload["ftfc"],
			"current_price": price,
			"strike":        atmStrike(price),
			"expiration":    nextMonthlyExpiration(now).Format("2006-01-02"),
			"quantity":      deriveQuantity(confidence, 1, 0.06),
		},
	}
	return res
}
