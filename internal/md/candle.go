package md

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Symbol    string
	CloseTime time.Time
	Close     decimal.Decimal
}

// Point is one period of a derived series, keyed by the end of the period.
type Point struct {
	End   time.Time
	Value decimal.Decimal
}

type Series []Point

func (s Series) Last() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

// Normalize buckets candles into periods of the given length, keeping the
// latest close per period, and returns them in chronological order.
func Normalize(candles []Candle, period time.Duration) []Candle {
	if len(candles) == 0 {
		return nil
	}
	byPeriod := make(map[int64]Candle, len(candles))
	for _, c := range candles {
		key := periodEnd(c.CloseTime, period).UnixNano()
		if existing, ok := byPeriod[key]; ok && existing.CloseTime.After(c.CloseTime) {
			continue
		}
		byPeriod[key] = c
	}
	out := make([]Candle, 0, len(byPeriod))
	for _, c := range byPeriod {
		c.CloseTime = periodEnd(c.CloseTime, period)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CloseTime.Before(out[j].CloseTime)
	})
	return out
}

func periodEnd(t time.Time, period time.Duration) time.Time {
	if period <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(period).Add(period)
}
