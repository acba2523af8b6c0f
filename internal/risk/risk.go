package risk

import (
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/strategy"
)

var (
	ErrPositionHeld      = errors.New("position_held")
	ErrInsufficientQuote = errors.New("insufficient_quote_balance")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrBelowMinNotional  = errors.New("below_min_notional")
	ErrBelowMinPrice     = errors.New("below_min_price")
)

type SellContext struct {
	Symbol    string
	Current   decimal.Decimal
	Target    decimal.Decimal
	Signal    strategy.Signal
	LastTrade *broker.Trade
}

type SellDecision struct {
	Eligible     bool
	StopLoss     bool
	Profitable   bool
	LastBuyPrice decimal.Decimal
	Reason       string
}

type BuyContext struct {
	Symbol      string
	Held        decimal.Decimal
	FreeQuote   decimal.Decimal
	Allocation  decimal.Decimal
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Constraints broker.Constraints
	// HeldThreshold is the holding above which the account counts as
	// already in a position.
	HeldThreshold decimal.Decimal
}

type Gate struct {
	Params strategy.Params
}

// EvaluateSell decides whether the free base asset may be sold this cycle.
// Without a prior buy to compare against the asset is always sellable.
func (g Gate) EvaluateSell(ctx SellContext) SellDecision {
	if ctx.LastTrade == nil || !ctx.LastTrade.IsBuyer {
		slog.Info("sell eligible without prior buy", "symbol", ctx.Symbol)
		return SellDecision{Eligible: true, Reason: "no_prior_buy"}
	}

	decision := SellDecision{LastBuyPrice: ctx.LastTrade.Price}
	if ctx.Target.IsPositive() && ctx.Current.Div(ctx.Target).LessThan(g.Params.StopLossRatio) {
		decision.StopLoss = true
	}
	if ctx.Signal == strategy.Sell {
		decision.StopLoss = true
	}
	decision.Profitable = ctx.Current.GreaterThanOrEqual(ctx.LastTrade.Price.Mul(g.Params.SellPriceMultiplier))
	decision.Eligible = decision.Profitable || decision.StopLoss

	switch {
	case decision.StopLoss:
		decision.Reason = "stop_loss"
	case decision.Profitable:
		decision.Reason = "profit_target_reached"
	default:
		decision.Reason = "profit_target_not_reached"
	}
	slog.Info("sell evaluation", "symbol", ctx.Symbol, "last_buy", ctx.LastTrade.Price, "current", ctx.Current, "target", ctx.Target, "stop_loss", decision.StopLoss, "profitable", decision.Profitable)
	return decision
}

// CheckBuy rejects buys that would add to an existing position, exceed the
// free quote balance, or violate the symbol's exchange filters.
func (g Gate) CheckBuy(ctx BuyContext) error {
	threshold := ctx.HeldThreshold
	if ctx.Held.GreaterThan(threshold) {
		slog.Info("risk rejected", "symbol", ctx.Symbol, "reason", ErrPositionHeld, "held", ctx.Held, "threshold", threshold)
		return ErrPositionHeld
	}
	if ctx.FreeQuote.LessThan(ctx.Allocation) {
		slog.Info("risk rejected", "symbol", ctx.Symbol, "reason", ErrInsufficientQuote, "free", ctx.FreeQuote, "allocation", ctx.Allocation)
		return ErrInsufficientQuote
	}
	return g.CheckOrder(ctx.Symbol, ctx.Quantity, ctx.Price, ctx.Constraints)
}

// CheckOrder applies the exchange filters to a concrete buy.
func (g Gate) CheckOrder(symbol string, qty, price decimal.Decimal, c broker.Constraints) error {
	if !qty.IsPositive() {
		slog.Info("risk rejected", "symbol", symbol, "reason", ErrInvalidQuantity, "qty", qty)
		return ErrInvalidQuantity
	}
	if qty.Mul(price).LessThan(c.MinNotional) {
		slog.Info("risk rejected", "symbol", symbol, "reason", ErrBelowMinNotional, "notional", qty.Mul(price), "min", c.MinNotional)
		return ErrBelowMinNotional
	}
	if price.LessThan(c.MinPrice) {
		slog.Info("risk rejected", "symbol", symbol, "reason", ErrBelowMinPrice, "price", price, "min", c.MinPrice)
		return ErrBelowMinPrice
	}
	slog.Info("risk approved", "symbol", symbol, "qty", qty, "price", price)
	return nil
}
