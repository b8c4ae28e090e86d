package parsers

import (
	"strings"
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// ORBBHCHParser handles the orb-bhch dialect: opening-range breakouts with
// bull-hammer / close-high confirmation. Direction comes from the explicit
// breakout field, or from price against the opening range.
//
//	{"orb_high":503.1,"orb_low":500.4,"orb_breakout":"UP","ticker":"SPY","price":503.6}
type ORBBHCHParser struct{}

func (p *ORBBHCHParser) Source() string { return SourceORBBHCH }

func (p *ORBBHCHParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}
	price, ok := num(payload, "price", "current_price", "close")
	if !ok {
		return res.fail("missing price")
	}

	var dir models.Direction
	switch strings.ToUpper(str(payload, "orb_breakout", "breakout")) {
	case "UP", "LONG", "BULLISH":
		dir = models.DirectionCall
	case "DOWN", "SHORT", "BEARISH":
		dir = models.DirectionPut
	default:
		high, hasHigh := num(payload, "orb_high")
		low, hasLow := num(payload, "orb_low")
		switch {
		case hasHigh && price > high:
			dir = models.DirectionCall
		case hasLow && price < low:
			dir = models.DirectionPut
		default:
			return res.fail("price inside opening range, no breakout")
		}
	}

	confidence, ok := num(payload, "conviction", "confidence")
	if !ok {
		confidence = 65
	}
	// Close-high/bull-hammer confirmation adds conviction.
	if b, ok := payload["confirmed"].(bool); ok && b {
		confidence += 10
		if confidence > 100 {
			confidence = 100
		}
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "15m"
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
			"expiration":    nextWeeklyExpiration(now).Format("2006-01-02"),
			"quantity":      deriveQuantity(confidence, 2, 0.03),
		},
	}
	return res
}
