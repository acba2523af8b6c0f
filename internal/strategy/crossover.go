package strategy

import (
	"log/slog"

	"spotbot/internal/md"
)

const comparePlaces = 8

type Classifier struct {
	Params Params
}

func NewClassifier(params Params) Classifier {
	return Classifier{Params: params}
}

// Classify compares the latest short and long averages against the live
// price. Nothing is classified unless both averages end on the same period.
func (c Classifier) Classify(symbol string, short, long, live md.Series) Evaluation {
	eval := Evaluation{Symbol: symbol, Signal: DoNothing}

	lastShort, okShort := short.Last()
	lastLong, okLong := long.Last()
	lastLive, okLive := live.Last()
	if !okShort || !okLong || !okLive {
		eval.Note = "missing_series"
		return eval
	}
	if !lastShort.End.Equal(lastLong.End) {
		eval.Note = "unsynchronized"
		slog.Info("moving averages not aligned", "symbol", symbol, "short_end", lastShort.End, "long_end", lastLong.End)
		return eval
	}

	shortMA := lastShort.Value.Round(comparePlaces)
	longMA := lastLong.Value.Round(comparePlaces)
	current := lastLive.Value.Round(comparePlaces)

	eval.At = lastShort.End
	eval.ShortMA = shortMA
	eval.LongMA = longMA
	eval.Current = current
	eval.Synced = true

	switch {
	case shortMA.Equal(longMA):
		eval.Signal = DoNothing
		eval.Note = "watch_crossover"
	case shortMA.GreaterThan(longMA):
		if current.GreaterThanOrEqual(shortMA.Mul(c.Params.SellPriceMultiplier)) {
			eval.Signal = GoodBuy
			eval.Note = "short_above_long_price_above_target"
		} else {
			eval.Signal = RiskBuy
			eval.Note = "short_above_long_price_below_target"
		}
	default:
		eval.Signal = Sell
		if current.GreaterThanOrEqual(shortMA) {
			eval.Note = "short_below_long_price_above_short"
		} else {
			eval.Note = "short_below_long_price_below_short"
		}
	}

	slog.Info("signal classified", "symbol", symbol, "short_ma", shortMA, "long_ma", longMA, "current", current, "signal", eval.Signal, "note", eval.Note)
	return eval
}
