package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type Signal string

const (
	DoNothing Signal = "DO_NOTHING"
	GoodBuy   Signal = "GOOD_BUY"
	RiskBuy   Signal = "RISK_BUY"
	Sell      Signal = "SELL"
)

// Params holds the trading constants for one process. It is built once
// from configuration and passed by value; nothing mutates it afterwards.
type Params struct {
	SellPriceMultiplier        decimal.Decimal
	BuyBackAfterThisPercentage decimal.Decimal
	DefaultAllocatePercent     decimal.Decimal
	StopLossRatio              decimal.Decimal
	MarketBuyMarginPct         decimal.Decimal
	MarketBuyMaxOrderAge       time.Duration
	MarketBuyFallbackQuote     decimal.Decimal
	MinSellQty                 decimal.Decimal
	QuoteAsset                 string
	AllocatePercent            map[string]decimal.Decimal
	DevelopmentMode            bool
}

func DefaultParams() Params {
	return Params{
		SellPriceMultiplier:        decimal.RequireFromString("1.018"),
		BuyBackAfterThisPercentage: decimal.RequireFromString("0.990"),
		DefaultAllocatePercent:     decimal.RequireFromString("2.5"),
		StopLossRatio:              decimal.RequireFromString("0.80"),
		MarketBuyMarginPct:         decimal.NewFromInt(10),
		MarketBuyMaxOrderAge:       5 * 24 * time.Hour,
		MarketBuyFallbackQuote:     decimal.NewFromInt(500),
		MinSellQty:                 decimal.RequireFromString("0.0001"),
		QuoteAsset:                 "USDT",
		AllocatePercent:            map[string]decimal.Decimal{},
	}
}

// AllocationPercent returns the per-symbol override when one is configured.
func (p Params) AllocationPercent(symbol string) (decimal.Decimal, bool) {
	pct, ok := p.AllocatePercent[symbol]
	return pct, ok
}

// Evaluation is the outcome of one classification: the latest aligned
// averages, the live price and the derived signal.
type Evaluation struct {
	Symbol  string
	At      time.Time
	ShortMA decimal.Decimal
	LongMA  decimal.Decimal
	Current decimal.Decimal
	Signal  Signal
	Synced  bool
	Note    string
}
