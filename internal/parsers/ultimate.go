package parsers

import (
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// UltimateOptionParser handles the ultimate-option dialect: a trend call
// with a 0-10 score.
//
//	{"trend":"BULLISH","ticker":"SPY","current_price":502.15,"score":8.5,"timestamp":...}
type UltimateOptionParser struct{}

func (p *UltimateOptionParser) Source() string { return SourceUltimateOption }

func (p *UltimateOptionParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}
	dir, ok := directionFromTrend(str(payload, "trend"))
	if !ok {
		return res.fail("trend %q does not imply a trade", str(payload, "trend"))
	}
	price, ok := num(payload, "current_price", "price", "close")
	if !ok {
		return res.fail("missing current_price")
	}
	score, _ := num(payload, "score")
	confidence := score * 10 // score is 0-10
	if confidence > 100 {
		confidence = 100
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "1D"
	}

	now := time.Now()
	strike := atmStrike(price)
	exp := nextMonthlyExpiration(now)
	qty := deriveQuantity(confidence, 1, 0.08)

	res.Signal = &models.Signal{
		Source:    p.Source(),
		Symbol:    symbol,
		Direction: dir,
		Timeframe: timeframe,
		Timestamp: timestampOf(payload),
		Metadata: models.JSONMap{
			"confidence":    confidence,
			"score":         score,
			"current_price": price,
			"strike":        strike,
			"expiration":    exp.Format("2006-01-02"),
			"quantity":      qty,
		},
	}
	return res
}
