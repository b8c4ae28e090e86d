// Package gex computes dealer gamma-exposure summaries from an option
// chain: net GEX, dealer positioning, the zero-gamma level, call/put walls,
// max pain, and the put/call ratio.
package gex

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/marketdata"
	"github.com/tradeforge/optionpipe/internal/models"
)

// Dealer positioning labels.
const (
	LongGamma  = "LONG_GAMMA"
	ShortGamma = "SHORT_GAMMA"
)

// Directional bias labels.
const (
	Bullish = "BULLISH"
	Bearish = "BEARISH"
	Neutral = "NEUTRAL"
)

// Regime labels derived from dealer positioning.
const (
	RegimePinned   = "PINNED"   // long gamma, dealers dampen moves
	RegimeTrending = "TRENDING" // short gamma, dealers amplify moves
	RegimeMixed    = "MIXED"
)

// strengthScale normalizes net GEX into [-1, 1]. Tuned so a heavily
// one-sided SPY chain saturates around ±0.9.
const strengthScale = 5e9

// Compute builds a GEX summary for one symbol from its chain and spot.
// prev, when non-nil, is the previous summary and drives flip detection.
func Compute(symbol, timeframe string, spot float64, chain []marketdata.OptionContract, prev *models.GEXSignal, now time.Time) *models.GEXSignal {
	byStrike := map[float64]*strikeAgg{}
	for _, c := range chain {
		k, _ := c.Strike.Float64()
		agg, ok := byStrike[k]
		if !ok {
			agg = &strikeAgg{strike: k}
			byStrike[k] = agg
		}
		notionalGamma := c.Gamma * float64(c.OpenInterest) * models.ContractMultiplier * spot
		if c.Type == "call" {
			agg.callGamma += notionalGamma
			agg.callOI += c.OpenInterest
			agg.callVol += c.Volume
		} else {
			agg.putGamma += notionalGamma
			agg.putOI += c.OpenInterest
			agg.putVol += c.Volume
		}
	}

	strikes := make([]*strikeAgg, 0, len(byStrike))
	for _, agg := range byStrike {
		strikes = append(strikes, agg)
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].strike < strikes[j].strike })

	// Dealer convention: dealers are long call gamma, short put gamma.
	var netGEX float64
	var callWall, putWall, maxCallGamma, maxPutGamma float64
	var totalCallOI, totalPutOI, totalCallVol, totalPutVol int64
	for _, agg := range strikes {
		netGEX += agg.callGamma - agg.putGamma
		if agg.callGamma > maxCallGamma {
			maxCallGamma = agg.callGamma
			callWall = agg.strike
		}
		if agg.putGamma > maxPutGamma {
			maxPutGamma = agg.putGamma
			putWall = agg.strike
		}
		totalCallOI += agg.callOI
		totalPutOI += agg.putOI
		totalCallVol += agg.callVol
		totalPutVol += agg.putVol
	}

	// Zero-gamma: the strike where cumulative net gamma crosses zero,
	// linearly interpolated between the bracketing strikes.
	zeroGamma := spot
	cum := 0.0
	prevCum := 0.0
	for i, agg := range strikes {
		prevCum = cum
		cum += agg.callGamma - agg.putGamma
		if i > 0 && prevCum < 0 && cum >= 0 {
			lo, hi := strikes[i-1].strike, agg.strike
			span := cum - prevCum
			if span != 0 {
				zeroGamma = lo + (hi-lo)*(-prevCum/span)
			} else {
				zeroGamma = lo
			}
			break
		}
	}

	maxPain := computeMaxPain(strikes2pain(strikes))

	pcRatio := 1.0
	if totalCallVol > 0 {
		pcRatio = float64(totalPutVol) / float64(totalCallVol)
	} else if totalCallOI > 0 {
		pcRatio = float64(totalPutOI) / float64(totalCallOI)
	}

	dealer := LongGamma
	regime := RegimePinned
	if netGEX < 0 {
		dealer = ShortGamma
		regime = RegimeTrending
	}
	strength := math.Tanh(netGEX / strengthScale)
	if math.Abs(strength) < 0.15 {
		regime = RegimeMixed
	}

	// Bias: above zero-gamma in long-gamma tape leans bullish-pinned;
	// below zero-gamma in short-gamma tape leans bearish-accelerating.
	direction := Neutral
	switch {
	case spot > zeroGamma && netGEX > 0:
		direction = Bullish
	case spot < zeroGamma && netGEX < 0:
		direction = Bearish
	}

	flip := prev != nil && prev.DealerPosition != dealer

	return &models.GEXSignal{
		Symbol:         symbol,
		Timeframe:      timeframe,
		Strength:       strength,
		Direction:      direction,
		NetGEX:         netGEX,
		DealerPosition: dealer,
		ZeroGamma:      decimal.NewFromFloat(zeroGamma).Round(2),
		CallWall:       decimal.NewFromFloat(callWall).Round(2),
		PutWall:        decimal.NewFromFloat(putWall).Round(2),
		MaxPain:        decimal.NewFromFloat(maxPain).Round(2),
		PCRatio:        pcRatio,
		Regime:         regime,
		FlipDetected:   flip,
		Timestamp:      now,
	}
}

type strikeAgg struct {
	strike    float64
	callGamma float64 // gamma * OI notional, calls
	putGamma  float64 // gamma * OI notional, puts
	callOI    int64
	putOI     int64
	callVol   int64
	putVol    int64
}

type painRow struct {
	strike float64
	callOI int64
	putOI  int64
}

func strikes2pain(strikes []*strikeAgg) []painRow {
	rows := make([]painRow, 0, len(strikes))
	for _, s := range strikes {
		rows = append(rows, painRow{strike: s.strike, callOI: s.callOI, putOI: s.putOI})
	}
	return rows
}

// computeMaxPain returns the settlement price that minimizes the total
// payout to option holders.
func computeMaxPain(rows []painRow) float64 {
	if len(rows) == 0 {
		return 0
	}
	best := rows[0].strike
	bestPain := math.MaxFloat64
	for _, candidate := range rows {
		pain := 0.0
		for _, r := range rows {
			if candidate.strike > r.strike {
				pain += (candidate.strike - r.strike) * float64(r.callOI)
			}
			if candidate.strike < r.strike {
				pain += (r.strike - candidate.strike) * float64(r.putOI)
			}
		}
		if pain < bestPain {
			bestPain = pain
			best = candidate.strike
		}
	}
	return best
}
