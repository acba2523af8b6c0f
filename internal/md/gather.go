package md

import (
	"context"
	"log/slog"
	"time"

	"spotbot/internal/clock"
)

// CandleSource is the slice of the exchange gateway the gatherer needs.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]Candle, error)
}

type Gatherer struct {
	Source   CandleSource
	Interval string
	Period   time.Duration
	Months   int
	Pause    time.Duration
	Backoff  time.Duration
	Now      func() time.Time
}

func NewGatherer(source CandleSource) *Gatherer {
	return &Gatherer{
		Source:   source,
		Interval: "1h",
		Period:   time.Hour,
		Months:   12,
		Pause:    500 * time.Millisecond,
		Backoff:  2 * time.Minute,
		Now:      time.Now,
	}
}

// Gather walks back Months monthly windows and returns every candle found.
// The first failing window stops the walk: the gatherer sleeps Backoff and
// returns what it has, which may be empty.
func (g *Gatherer) Gather(ctx context.Context, symbol string) []Candle {
	now := g.Now()
	var candles []Candle
	for i := g.Months; i > 0; i-- {
		start := now.AddDate(0, -i, 0)
		end := now
		if i > 2 {
			end = now.AddDate(0, -(i - 1), 0)
		}
		batch, err := g.Source.Candles(ctx, symbol, g.Interval, start, end)
		if err != nil {
			slog.Warn("candle window failed, backing off", "symbol", symbol, "start", start, "end", end, "backoff", g.Backoff, "error", err)
			_ = clock.Sleep(ctx, g.Backoff)
			break
		}
		candles = append(candles, batch...)
		if err := clock.Sleep(ctx, g.Pause); err != nil {
			break
		}
	}
	normalized := Normalize(candles, g.Period)
	slog.Debug("candles gathered", "symbol", symbol, "raw", len(candles), "periods", len(normalized))
	return normalized
}
