package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/clock"
	"spotbot/internal/metrics"
	"spotbot/internal/risk"
	"spotbot/internal/strategy"
)

type ActionKind string

const (
	ActionLimitSell ActionKind = "limit_sell"
	ActionLimitBuy  ActionKind = "limit_buy"
	ActionMarketBuy ActionKind = "market_buy"
	ActionCancel    ActionKind = "cancel"
)

const (
	ResultSubmitted = "submitted"
	ResultDryRun    = "dry_run"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Action is one order-mutating step, whether or not it reached the exchange.
type Action struct {
	Kind     ActionKind      `json:"kind"`
	Side     broker.Side     `json:"side,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	OrderID  string          `json:"order_id,omitempty"`
	Result   string          `json:"result"`
	Reason   string          `json:"reason,omitempty"`
}

type Timing struct {
	FillPollInterval  time.Duration
	FillTimeout       time.Duration
	SettleDelay       time.Duration
	MarketSettleDelay time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		FillPollInterval:  3 * time.Second,
		FillTimeout:       30 * time.Minute,
		SettleDelay:       3 * time.Second,
		MarketSettleDelay: 15 * time.Second,
	}
}

// Notifier receives operator-facing messages. Implementations must not
// block the cycle on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, symbol, text string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, string) {}

type Executor struct {
	gateway  broker.Gateway
	gate     risk.Gate
	params   strategy.Params
	timing   Timing
	notifier Notifier
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewExecutor(gateway broker.Gateway, params strategy.Params, timing Timing, notifier Notifier) *Executor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Executor{
		gateway:  gateway,
		gate:     risk.Gate{Params: params},
		params:   params,
		timing:   timing,
		notifier: notifier,
		now:      time.Now,
		sleep:    clock.Sleep,
	}
}

func (e *Executor) baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, e.params.QuoteAsset)
}

func (e *Executor) record(symbol string, a Action) Action {
	metrics.OrdersTotal.WithLabelValues(symbol, string(a.Kind), a.Result).Inc()
	return a
}

type SellOutcome struct {
	Decision risk.SellDecision
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Fill     FillStatus
	Actions  []Action
}

// SellPhase sells the free base asset at the current price when the sell
// gate allows it. A below-min-notional rejection is reported and swallowed;
// every other exchange error ends the cycle.
func (e *Executor) SellPhase(ctx context.Context, snap Snapshot, cons broker.Constraints) (SellOutcome, error) {
	symbol := snap.Symbol
	base := e.baseAsset(symbol)
	balances, err := e.gateway.Balances(ctx)
	if err != nil {
		return SellOutcome{}, fmt.Errorf("fetch balances: %w", err)
	}

	free := balances.Get(base).Free
	out := SellOutcome{
		Quantity: risk.FloorTo(free, risk.DigitPrecision(snap.Current)),
		Price:    risk.FloorTo(snap.Current, risk.MinPricePrecision(cons.MinPrice)),
	}
	if free.IsPositive() {
		trades, err := e.gateway.RecentTrades(ctx, symbol, 1)
		if err != nil {
			return out, fmt.Errorf("fetch recent trades: %w", err)
		}
		var last *broker.Trade
		if len(trades) > 0 {
			t := trades[len(trades)-1]
			last = &t
		}
		out.Decision = e.gate.EvaluateSell(risk.SellContext{
			Symbol:    symbol,
			Current:   snap.Current,
			Target:    snap.TargetPrice,
			Signal:    snap.Signal,
			LastTrade: last,
		})
	}

	if !out.Quantity.GreaterThan(e.params.MinSellQty) || !out.Decision.Eligible {
		slog.Info("cannot sell", "symbol", symbol, "qty", out.Quantity, "eligible", out.Decision.Eligible, "reason", out.Decision.Reason)
		return out, nil
	}

	e.notifier.Notify(ctx, symbol, fmt.Sprintf("Executing sell of: %s %s @ %s", out.Quantity, base, out.Price))
	action := Action{Kind: ActionLimitSell, Side: broker.Sell, Quantity: out.Quantity, Price: out.Price}
	if e.params.DevelopmentMode {
		action.Result = ResultDryRun
		out.Actions = append(out.Actions, e.record(symbol, action))
		slog.Info("development mode, sell not submitted", "symbol", symbol, "qty", out.Quantity, "price", out.Price)
		return out, nil
	}

	res, err := e.gateway.PlaceLimitOrder(ctx, symbol, broker.Sell, out.Quantity, out.Price)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(broker.KindOf(err))).Inc()
		action.Reason = err.Error()
		if broker.IsKind(err, broker.KindBelowMinNotional) {
			action.Result = ResultRejected
			out.Actions = append(out.Actions, e.record(symbol, action))
			slog.Warn("sell below min notional, skipping", "symbol", symbol, "error", err)
			e.notifier.Notify(ctx, symbol, "Skipping MIN_NOTIONAL error during sell - "+err.Error())
			return out, nil
		}
		action.Result = ResultFailed
		out.Actions = append(out.Actions, e.record(symbol, action))
		return out, fmt.Errorf("limit sell: %w", err)
	}
	action.OrderID = res.OrderID
	action.Result = ResultSubmitted
	out.Actions = append(out.Actions, e.record(symbol, action))
	e.notifier.Notify(ctx, symbol, "Limit Sell submitted")

	status, err := e.WaitForFill(ctx, symbol, res.OrderID)
	out.Fill = status
	if err != nil {
		return out, fmt.Errorf("confirm sell fill: %w", err)
	}
	switch status {
	case FillFilled:
		e.notifier.Notify(ctx, symbol, "Sell Trade executed successfully")
	default:
		e.notifier.Notify(ctx, symbol, fmt.Sprintf("Sell order %s not filled within %s: %s", res.OrderID, e.timing.FillTimeout, status))
	}
	if err := e.sleep(ctx, e.timing.SettleDelay); err != nil {
		return out, err
	}
	return out, nil
}

type BuyOutcome struct {
	Allocation decimal.Decimal
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Skipped    bool
	Reason     string
	Actions    []Action
}

// BuyPhase places the single resting limit buy-back for the symbol after
// cancelling any earlier limit buys. Gate rejections skip the buy; exchange
// errors end the cycle.
func (e *Executor) BuyPhase(ctx context.Context, snap Snapshot, cons broker.Constraints) (BuyOutcome, error) {
	symbol := snap.Symbol
	balances, err := e.gateway.Balances(ctx)
	if err != nil {
		return BuyOutcome{}, fmt.Errorf("fetch balances: %w", err)
	}
	total, err := e.TotalQuoteValue(ctx, balances)
	if err != nil {
		return BuyOutcome{}, err
	}

	pct, ok := e.params.AllocationPercent(symbol)
	if !ok {
		pct = e.params.DefaultAllocatePercent
	}
	out := BuyOutcome{Allocation: total.Mul(pct).Div(hundred)}
	out.Quantity = risk.QuantityFor(out.Allocation, snap.BuyBackPrice)
	out.Price = risk.RoundPrice(snap.BuyBackPrice, cons.MinPrice)

	err = e.gate.CheckBuy(risk.BuyContext{
		Symbol:        symbol,
		Held:          balances.Get(e.baseAsset(symbol)).Total(),
		FreeQuote:     balances.Get(e.params.QuoteAsset).Free,
		Allocation:    out.Allocation,
		Quantity:      out.Quantity,
		Price:         out.Price,
		Constraints:   cons,
		HeldThreshold: cons.MinQty,
	})
	if err != nil {
		out.Skipped = true
		out.Reason = err.Error()
		slog.Info("cannot buy", "symbol", symbol, "reason", err, "allocation", out.Allocation, "qty", out.Quantity, "price", out.Price)
		return out, nil
	}

	cancels, err := e.cancelOrders(ctx, symbol, func(o broker.OpenOrder) bool {
		return o.Side == broker.Buy && o.Type == broker.Limit
	})
	out.Actions = append(out.Actions, cancels...)
	if err != nil {
		return out, err
	}

	msg := fmt.Sprintf("Executing buy with: %s %s @ %s = %s %s", risk.FloorTo(out.Allocation, 2), e.params.QuoteAsset, out.Price, out.Quantity, e.baseAsset(symbol))
	slog.Info("executing limit buy", "symbol", symbol, "allocation", out.Allocation, "qty", out.Quantity, "price", out.Price)
	e.notifier.Notify(ctx, symbol, msg)

	action := Action{Kind: ActionLimitBuy, Side: broker.Buy, Quantity: out.Quantity, Price: out.Price}
	if e.params.DevelopmentMode {
		action.Result = ResultDryRun
		out.Actions = append(out.Actions, e.record(symbol, action))
		return out, nil
	}
	res, err := e.gateway.PlaceLimitOrder(ctx, symbol, broker.Buy, out.Quantity, out.Price)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(broker.KindOf(err))).Inc()
		action.Result = ResultFailed
		action.Reason = err.Error()
		out.Actions = append(out.Actions, e.record(symbol, action))
		return out, fmt.Errorf("limit buy: %w", err)
	}
	action.OrderID = res.OrderID
	action.Result = ResultSubmitted
	out.Actions = append(out.Actions, e.record(symbol, action))
	e.notifier.Notify(ctx, symbol, "Limit Buy submitted")

	if err := e.sleep(ctx, e.timing.SettleDelay); err != nil {
		return out, err
	}
	return out, nil
}

type MarketOutcome struct {
	Bought     bool
	Allocation decimal.Decimal
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Reason     string
	Actions    []Action
}

// MarketBuyBack replaces every resting order for the symbol with a market
// buy. Without a configured allocation percent the percent is
// MarketBuyFallbackQuote divided by the total balance, which sizes the buy
// at one hundredth of MarketBuyFallbackQuote.
func (e *Executor) MarketBuyBack(ctx context.Context, snap Snapshot, cons broker.Constraints) (MarketOutcome, error) {
	symbol := snap.Symbol
	var out MarketOutcome

	cancels, err := e.cancelOrders(ctx, symbol, func(broker.OpenOrder) bool { return true })
	out.Actions = append(out.Actions, cancels...)
	if err != nil {
		return out, err
	}
	if err := e.sleep(ctx, e.timing.SettleDelay); err != nil {
		return out, err
	}

	balances, err := e.gateway.Balances(ctx)
	if err != nil {
		return out, fmt.Errorf("fetch balances: %w", err)
	}
	total, err := e.TotalQuoteValue(ctx, balances)
	if err != nil {
		return out, err
	}
	pct, ok := e.params.AllocationPercent(symbol)
	if !ok && total.IsPositive() {
		pct = e.params.MarketBuyFallbackQuote.Div(total)
	}
	out.Allocation = total.Mul(pct).Div(hundred)

	held := balances.Get(e.baseAsset(symbol)).Total()
	if held.IsPositive() && balances.Get(e.params.QuoteAsset).Free.LessThan(out.Allocation) {
		out.Reason = risk.ErrInsufficientQuote.Error()
		slog.Info("cannot execute market buy", "symbol", symbol, "held", held, "allocation", out.Allocation)
		e.notifier.Notify(ctx, symbol, "Cannot execute market buy")
		return out, nil
	}

	stats, err := e.gateway.Stats24h(ctx, symbol)
	if err != nil {
		return out, fmt.Errorf("fetch last price: %w", err)
	}
	out.Price = stats.LastPrice
	if out.Price.IsPositive() {
		out.Quantity = risk.FloorTo(out.Allocation.Div(out.Price), risk.DigitPrecision(out.Price))
	}
	if err := e.gate.CheckOrder(symbol, out.Quantity, out.Price, cons); err != nil {
		out.Reason = err.Error()
		e.notifier.Notify(ctx, symbol, "Cannot execute market buy: "+err.Error())
		return out, nil
	}

	e.notifier.Notify(ctx, symbol, fmt.Sprintf("Executing market buy back of %s %s @ %s", out.Quantity, e.baseAsset(symbol), out.Price))
	action := Action{Kind: ActionMarketBuy, Side: broker.Buy, Quantity: out.Quantity, Price: out.Price}
	if e.params.DevelopmentMode {
		action.Result = ResultDryRun
		out.Actions = append(out.Actions, e.record(symbol, action))
		out.Bought = true
		return out, nil
	}
	res, err := e.gateway.PlaceMarketOrder(ctx, symbol, broker.Buy, out.Quantity)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues(string(broker.KindOf(err))).Inc()
		action.Result = ResultFailed
		action.Reason = err.Error()
		out.Actions = append(out.Actions, e.record(symbol, action))
		return out, fmt.Errorf("market buy: %w", err)
	}
	action.OrderID = res.OrderID
	action.Result = ResultSubmitted
	out.Actions = append(out.Actions, e.record(symbol, action))
	out.Bought = true

	if err := e.sleep(ctx, e.timing.MarketSettleDelay); err != nil {
		return out, err
	}
	e.notifier.Notify(ctx, symbol, "market buy back submitted successfully")
	return out, nil
}

func (e *Executor) cancelOrders(ctx context.Context, symbol string, match func(broker.OpenOrder) bool) ([]Action, error) {
	orders, err := e.gateway.OpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	var actions []Action
	for _, o := range orders {
		if !match(o) {
			continue
		}
		action := Action{Kind: ActionCancel, Side: o.Side, Quantity: o.Quantity, Price: o.Price, OrderID: o.ID}
		if e.params.DevelopmentMode {
			action.Result = ResultDryRun
			actions = append(actions, e.record(symbol, action))
			continue
		}
		slog.Info("cancelling order", "symbol", symbol, "order_id", o.ID, "side", o.Side)
		if err := e.gateway.CancelOrder(ctx, symbol, o.ID); err != nil {
			if broker.IsKind(err, broker.KindUnknownOrder) {
				action.Result = ResultRejected
				action.Reason = err.Error()
				actions = append(actions, e.record(symbol, action))
				continue
			}
			action.Result = ResultFailed
			action.Reason = err.Error()
			actions = append(actions, e.record(symbol, action))
			return actions, fmt.Errorf("cancel order %s: %w", o.ID, err)
		}
		action.Result = ResultSubmitted
		actions = append(actions, e.record(symbol, action))
	}
	return actions, nil
}

// TotalQuoteValue values every non-zero balance in the quote asset at the
// 24h last price. Assets without a quote market are left out.
func (e *Executor) TotalQuoteValue(ctx context.Context, balances broker.Balances) (decimal.Decimal, error) {
	total := decimal.Zero
	for asset, bal := range balances {
		amount := bal.Total()
		if !amount.IsPositive() {
			continue
		}
		if asset == e.params.QuoteAsset {
			total = total.Add(amount)
			continue
		}
		stats, err := e.gateway.Stats24h(ctx, asset+e.params.QuoteAsset)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return decimal.Zero, ctxErr
			}
			if broker.IsKind(err, broker.KindAuth) || broker.IsKind(err, broker.KindRateLimited) {
				return decimal.Zero, fmt.Errorf("value %s: %w", asset, err)
			}
			slog.Debug("asset has no quote market", "asset", asset, "error", err)
			continue
		}
		total = total.Add(amount.Mul(stats.LastPrice))
	}
	total = total.Round(8)
	metrics.PortfolioValue.Set(total.InexactFloat64())
	return total, nil
}
