package md

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientData = errors.New("insufficient candle data")
	ErrUnknownAverage   = errors.New("unknown averaging strategy")
)

const StrategySMA = "SMA"

// MovingAverages derives the short and long simple moving averages of the
// candle closes. The live series is the closes themselves. Every series
// point is keyed by the period end of the candle that closes its window.
func MovingAverages(candles []Candle, shortWindow, longWindow int, kind string) (short, long, live Series, err error) {
	if !strings.EqualFold(kind, StrategySMA) {
		return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnknownAverage, kind)
	}
	if shortWindow <= 0 || longWindow <= 0 {
		return nil, nil, nil, fmt.Errorf("windows must be positive: short=%d long=%d", shortWindow, longWindow)
	}
	required := max(shortWindow, longWindow)
	if len(candles) < required {
		return nil, nil, nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), required)
	}

	short = SMA(candles, shortWindow)
	long = SMA(candles, longWindow)
	live = make(Series, 0, len(candles))
	for _, c := range candles {
		live = append(live, Point{End: c.CloseTime, Value: c.Close})
	}
	return short, long, live, nil
}

// SMA returns one point per candle from the first full window onwards.
func SMA(candles []Candle, window int) Series {
	if window <= 0 || len(candles) < window {
		return nil
	}
	buffer := NewRingBuffer(window)
	out := make(Series, 0, len(candles)-window+1)
	for _, c := range candles {
		buffer.Add(c.Close)
		if !buffer.Full() {
			continue
		}
		mean, err := buffer.Mean()
		if err != nil {
			continue
		}
		out = append(out, Point{End: c.CloseTime, Value: mean})
	}
	return out
}
