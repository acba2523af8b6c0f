package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDigitPrecision(t *testing.T) {
	cases := map[string]int32{
		"0.0523":   0,
		"7.5":      0,
		"12.3":     1,
		"123.45":   2,
		"30123.99": 4,
	}
	for price, want := range cases {
		assert.Equal(t, want, DigitPrecision(d(price)), "price %s", price)
	}
}

func TestMinPricePrecision(t *testing.T) {
	cases := map[string]int32{
		"0.01":       2,
		"0.00000100": 6,
		"1":          0,
		"0.5":        1,
		"0":          8,
	}
	for minPrice, want := range cases {
		assert.Equal(t, want, MinPricePrecision(d(minPrice)), "minPrice %s", minPrice)
	}
}

func TestFloorToNeverRoundsUp(t *testing.T) {
	assert.True(t, FloorTo(d("1.239"), 2).Equal(d("1.23")))
	assert.True(t, FloorTo(d("-1.231"), 2).Equal(d("-1.24")))
	assert.True(t, FloorTo(d("5"), 0).Equal(d("5")))
}

func TestQuantityForNeverIncreasesNotional(t *testing.T) {
	amounts := []string{"25.999", "100", "1234.5678", "10.01"}
	prices := []string{"0.0431", "1.99", "27.3", "348.12", "30123.45"}
	for _, a := range amounts {
		for _, p := range prices {
			amount, price := d(a), d(p)
			qty := QuantityFor(amount, price)
			assert.True(t, qty.Mul(price).LessThanOrEqual(amount), "amount=%s price=%s qty=%s", a, p, qty)
			assert.False(t, qty.IsNegative())
		}
	}
}

func TestRoundPriceUsesMinPrice(t *testing.T) {
	got := RoundPrice(d("0.123456789"), d("0.0001"))
	assert.True(t, got.Equal(decimal.RequireFromString("0.1234")), "got %s", got)
}
