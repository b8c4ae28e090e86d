package workers

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeforge/optionpipe/internal/models"
)

func TestModelOptionPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		dir    models.Direction
		strike float64
		spot   float64
		dte    int
		want   float64
	}{
		{"itm call", models.DirectionCall, 500, 505, 3, 5.30},
		{"otm call floors", models.DirectionCall, 510, 505, 0, 0.05},
		{"itm put", models.DirectionPut, 510, 505, 2, 5.20},
		{"atm time value only", models.DirectionCall, 505, 505, 5, 0.50},
	}
	for _, c := range cases {
		got := modelOptionPrice(c.dir,
			decimal.NewFromFloat(c.strike), decimal.NewFromFloat(c.spot), c.dte)
		if !got.Equal(decimal.NewFromFloat(c.want)) {
			t.Errorf("%s: price = %s, want %v", c.name, got, c.want)
		}
	}
}

func TestSlipDirection(t *testing.T) {
	t.Parallel()

	price := decimal.NewFromFloat(2.00)
	buy := slip(price, models.SideBuy, 0.02)
	sell := slip(price, models.SideSell, 0.02)

	if !buy.Equal(decimal.NewFromFloat(2.04)) {
		t.Errorf("buy slip = %s, want 2.04", buy)
	}
	if !sell.Equal(decimal.NewFromFloat(1.96)) {
		t.Errorf("sell slip = %s, want 1.96", sell)
	}
}
