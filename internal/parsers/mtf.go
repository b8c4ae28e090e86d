package parsers

import (
	"strings"
	"time"

	"github.com/tradeforge/optionpipe/internal/models"
)

// MTFTrendDotsParser handles the mtf-trend-dots dialect: trend dots across
// three timeframes. Full agreement trades with high confidence; a 2-of-3
// majority trades with reduced confidence; a split tape is non-actionable.
//
//	{"dots":{"tf1":"green","tf2":"green","tf3":"red"},"ticker":"IWM","price":201.2}
type MTFTrendDotsParser struct{}

func (p *MTFTrendDotsParser) Source() string { return SourceMTFTrendDots }

func (p *MTFTrendDotsParser) Parse(payload map[string]interface{}) *Result {
	res := &Result{RawPayload: payload}
	if isTestPing(payload) {
		res.IsTest = true
		return res.fail("test ping")
	}

	symbol := symbolOf(payload)
	if symbol == "" {
		return res.fail("missing ticker")
	}

	dots := map[string]string{}
	if d, ok := payload["dots"].(map[string]interface{}); ok {
		for k, v := range d {
			if s, ok := v.(string); ok {
				dots[k] = s
			}
		}
	} else {
		for _, k := range []string{"tf1", "tf2", "tf3"} {
			if s := str(payload, k); s != "" {
				dots[k] = s
			}
		}
	}
	if len(dots) == 0 {
		return res.fail("missing trend dots")
	}

	bulls, bears := 0, 0
	for _, v := range dots {
		switch strings.ToLower(v) {
		case "green", "up", "bullish":
			bulls++
		case "red", "down", "bearish":
			bears++
		}
	}

	var dir models.Direction
	var confidence float64
	total := bulls + bears
	switch {
	case bulls == total && total >= 2:
		dir, confidence = models.DirectionCall, 80
	case bears == total && total >= 2:
		dir, confidence = models.DirectionPut, 80
	case bulls > bears:
		dir, confidence = models.DirectionCall, 55
	case bears > bulls:
		dir, confidence = models.DirectionPut, 55
	default:
		return res.fail("timeframes disagree (%d bull / %d bear)", bulls, bears)
	}

	price, ok := num(payload, "price", "current_price", "close")
	if !ok {
		return res.fail("missing price")
	}

	timeframe := str(payload, "timeframe", "tf")
	if timeframe == "" {
		timeframe = "MTF"
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
			"dots":          dots,
			"current_price": price,
			"strike":        atmStrike(price),
			"expiration":    nextWeeklyExpiration(now).Format("2006-01-02"),
			"quantity":      deriveQuantity(confidence, 1, 0.04),
		},
	}
	return res
}
