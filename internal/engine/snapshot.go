package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/risk"
	"spotbot/internal/strategy"
)

// Snapshot is the per-cycle view the executor trades against.
type Snapshot struct {
	strategy.Evaluation
	TargetPrice  decimal.Decimal
	BuyBackPrice decimal.Decimal
}

func NewSnapshot(eval strategy.Evaluation, params strategy.Params) Snapshot {
	s := Snapshot{
		Evaluation:   eval,
		TargetPrice:  risk.FloorTo(eval.ShortMA.Mul(params.SellPriceMultiplier), 8),
		BuyBackPrice: risk.FloorTo(eval.Current.Mul(params.BuyBackAfterThisPercentage), 8),
	}
	s.Ratchet(eval.Current)
	return s
}

// Ratchet raises the target to price. The target never moves down.
func (s *Snapshot) Ratchet(price decimal.Decimal) bool {
	if price.GreaterThan(s.TargetPrice) {
		s.TargetPrice = price
		return true
	}
	return false
}

type Plan struct {
	Skip      bool
	Snapshot  Snapshot
	Order     *broker.OpenOrder
	MarginPct decimal.Decimal
	OrderAge  time.Duration
	Escalate  bool
	Reason    string
}

var hundred = decimal.NewFromInt(100)

// Decide turns an evaluation into the cycle plan. Only the first open order
// is considered for market buy-back escalation.
func Decide(eval strategy.Evaluation, openOrders []broker.OpenOrder, now time.Time, params strategy.Params) Plan {
	if eval.Signal == strategy.DoNothing || eval.Signal == "" {
		return Plan{Skip: true, Reason: "do_nothing"}
	}

	plan := Plan{Snapshot: NewSnapshot(eval, params), Reason: "sell_and_buy_back"}
	if len(openOrders) == 0 {
		return plan
	}

	first := openOrders[0]
	plan.Order = &first
	if first.Price.IsPositive() {
		plan.MarginPct = eval.Current.Div(first.Price).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2)
	}
	if !first.PlacedAt.IsZero() {
		plan.OrderAge = now.Sub(first.PlacedAt)
	}
	stale := plan.MarginPct.GreaterThan(params.MarketBuyMarginPct) || plan.OrderAge > params.MarketBuyMaxOrderAge
	if stale && eval.Signal == strategy.GoodBuy {
		plan.Escalate = true
		plan.Reason = "market_buy_back"
	}
	return plan
}
