package risk

import (
	"strconv"

	"github.com/shopspring/decimal"
)

const maxPricePrecision = 8

var ten = decimal.NewFromInt(10)

// FloorTo rounds v towards negative infinity at the given number of places.
func FloorTo(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Shift(places).Floor().Shift(-places)
}

// DigitPrecision derives a quantity precision from the integer part of a
// price: one fewer decimal than the integer part has digits, never negative.
func DigitPrecision(price decimal.Decimal) int32 {
	digits := len(strconv.FormatInt(price.Abs().IntPart(), 10))
	if digits <= 1 {
		return 0
	}
	return int32(digits - 1)
}

// MinPricePrecision counts how many times minPrice must be multiplied by
// ten to reach one.
func MinPricePrecision(minPrice decimal.Decimal) int32 {
	if !minPrice.IsPositive() {
		return maxPricePrecision
	}
	var places int32
	for temp := minPrice; temp.LessThan(decimal.NewFromInt(1)); temp = temp.Mul(ten) {
		places++
	}
	return places
}

// RoundPrice floors a price to the precision implied by the symbol's min price.
func RoundPrice(price, minPrice decimal.Decimal) decimal.Decimal {
	return FloorTo(price, MinPricePrecision(minPrice))
}

// QuantityFor converts a quote amount into a base quantity at price, floored
// with the digit-count heuristic. The amount itself is first floored to cents.
func QuantityFor(amount, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return FloorTo(FloorTo(amount, 2).Div(price), DigitPrecision(price))
}
