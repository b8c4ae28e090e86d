package workers

import (
	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

// minOptionPrice is the floor for any modeled option mark.
var minOptionPrice = decimal.NewFromFloat(0.05)

// timeValuePerDTE is the modeled extrinsic value per day to expiration.
var timeValuePerDTE = decimal.NewFromFloat(0.10)

// modelOptionPrice estimates an option mark from intrinsic value plus a
// flat time-value charge per day to expiration, floored at the minimum
// tick. The paper executor and the position refresher share this model so
// paper fills and mark-to-market stay consistent.
func modelOptionPrice(dir models.Direction, strike, spot decimal.Decimal, dte int) decimal.Decimal {
	var intrinsic decimal.Decimal
	if dir == models.DirectionCall {
		intrinsic = spot.Sub(strike)
	} else {
		intrinsic = strike.Sub(spot)
	}
	if intrinsic.IsNegative() {
		intrinsic = decimal.Zero
	}
	price := intrinsic.Add(timeValuePerDTE.Mul(decimal.NewFromInt(int64(dte))))
	if price.LessThan(minOptionPrice) {
		return minOptionPrice
	}
	return price
}

// slip applies paper slippage: buys pay up, sells receive less.
func slip(price decimal.Decimal, side models.OrderSide, pct float64) decimal.Decimal {
	adj := decimal.NewFromFloat(pct)
	if side == models.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(adj))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(adj))
}
