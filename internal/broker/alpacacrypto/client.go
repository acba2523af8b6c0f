package alpacacrypto

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/md"
)

// Client adapts Alpaca crypto trading to broker.Gateway. Symbols are the
// concatenated pair ("BTCUSD"); Alpaca's slash form is derived from Quote.
// Alpaca publishes no price or notional filters, so Constraints come from
// configuration.
type Client struct {
	trading     *alpaca.Client
	data        *marketdata.Client
	Quote       string
	Constraints map[string]broker.Constraints
	now         func() time.Time
}

func New(apiKey, apiSecret, baseURL, quote string, constraints map[string]broker.Constraints) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if quote == "" {
		quote = "USD"
	}
	return &Client{
		trading:     alpaca.NewClient(opts),
		data:        marketdata.NewClient(dataOpts),
		Quote:       quote,
		Constraints: constraints,
		now:         time.Now,
	}
}

var _ broker.Gateway = (*Client)(nil)

func (c *Client) pair(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	base := strings.TrimSuffix(symbol, c.Quote)
	return base + "/" + c.Quote
}

func (c *Client) symbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]md.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, step, err := timeFrame(interval)
	if err != nil {
		return nil, err
	}
	bars, err := c.data.GetCryptoBars(c.pair(symbol), marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, wrap("crypto bars", err)
	}
	candles := make([]md.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, md.Candle{
			Symbol:    symbol,
			CloseTime: bar.Timestamp.Add(step).Add(-time.Millisecond).UTC(),
			Close:     decimal.NewFromFloat(bar.Close),
		})
	}
	return candles, nil
}

// timeFrame returns the bar size and its duration; candle close times are
// the bar start plus the duration.
func timeFrame(interval string) (marketdata.TimeFrame, time.Duration, error) {
	switch interval {
	case "1m":
		return marketdata.OneMin, time.Minute, nil
	case "1h", "":
		return marketdata.OneHour, time.Hour, nil
	case "1d":
		return marketdata.OneDay, 24 * time.Hour, nil
	default:
		return marketdata.TimeFrame{}, 0, &broker.Error{Kind: broker.KindUnknown, Op: "crypto bars", Message: "unsupported interval " + interval}
	}
}

func (c *Client) Balances(ctx context.Context) (broker.Balances, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := c.trading.GetAccount()
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return nil, wrap("account", err)
	}
	positions, err := c.trading.GetPositions()
	if err != nil {
		slog.Error("fetch positions failed", "error", err)
		return nil, wrap("positions", err)
	}
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, wrap("open orders", err)
	}

	locked := map[string]decimal.Decimal{}
	quoteLocked := decimal.Zero
	for _, o := range orders {
		qty := orderQty(o)
		base := strings.TrimSuffix(c.symbol(o.Symbol), c.Quote)
		if o.Side == alpaca.Sell {
			locked[base] = locked[base].Add(qty)
			continue
		}
		if o.LimitPrice != nil {
			quoteLocked = quoteLocked.Add(qty.Mul(*o.LimitPrice))
		}
	}

	balances := broker.Balances{}
	balances[c.Quote] = broker.Balance{Free: acct.Cash.Sub(quoteLocked), Locked: quoteLocked}
	for _, p := range positions {
		base := strings.TrimSuffix(c.symbol(p.Symbol), c.Quote)
		held := locked[base]
		balances[base] = broker.Balance{Free: p.Qty.Sub(held), Locked: held}
	}
	slog.Info("account fetched", "cash", acct.Cash.String(), "positions", len(positions))
	return balances, nil
}

func orderQty(o alpaca.Order) decimal.Decimal {
	if o.Qty == nil {
		return decimal.Zero
	}
	return o.Qty.Sub(o.FilledQty)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]broker.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		slog.Error("fetch open orders failed", "symbol", symbol, "error", err)
		return nil, wrap("open orders", err)
	}
	out := make([]broker.OpenOrder, 0, len(orders))
	for _, o := range orders {
		if c.symbol(o.Symbol) != symbol {
			continue
		}
		out = append(out, toOpenOrder(symbol, o))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	slog.Debug("open orders fetched", "symbol", symbol, "count", len(out))
	return out, nil
}

func toOpenOrder(symbol string, o alpaca.Order) broker.OpenOrder {
	price := decimal.Zero
	if o.LimitPrice != nil {
		price = *o.LimitPrice
	}
	qty := decimal.Zero
	if o.Qty != nil {
		qty = *o.Qty
	}
	side := broker.Buy
	if o.Side == alpaca.Sell {
		side = broker.Sell
	}
	typ := broker.Market
	if o.Type == alpaca.Limit {
		typ = broker.Limit
	}
	return broker.OpenOrder{
		ID:          o.ID,
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		Price:       price,
		Quantity:    qty,
		ExecutedQty: o.FilledQty,
		PlacedAt:    o.CreatedAt.UTC(),
	}
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side broker.Side, qty, price decimal.Decimal) (broker.OrderResult, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:      c.pair(symbol),
		Qty:         &qty,
		Side:        alpacaSide(side),
		Type:        alpaca.Limit,
		TimeInForce: alpaca.GTC,
		LimitPrice:  &price,
	}
	return c.place(ctx, req)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side broker.Side, qty decimal.Decimal) (broker.OrderResult, error) {
	req := alpaca.PlaceOrderRequest{
		Symbol:      c.pair(symbol),
		Qty:         &qty,
		Side:        alpacaSide(side),
		Type:        alpaca.Market,
		TimeInForce: alpaca.GTC,
	}
	return c.place(ctx, req)
}

func alpacaSide(side broker.Side) alpaca.Side {
	if side == broker.Sell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func (c *Client) place(ctx context.Context, req alpaca.PlaceOrderRequest) (broker.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return broker.OrderResult{}, err
	}
	req.ClientOrderID = "spotbot-" + uuid.NewString()
	order, err := c.trading.PlaceOrder(req)
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "qty", req.Qty.String(), "type", req.Type, "error", err)
		return broker.OrderResult{}, wrap("place order", err)
	}
	slog.Info("place order success", "order_id", order.ID, "side", req.Side, "symbol", req.Symbol, "qty", req.Qty.String(), "type", req.Type, "status", order.Status)
	return broker.OrderResult{
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
		TransactTime:  order.CreatedAt.UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.trading.CancelOrder(orderID); err != nil {
		slog.Error("cancel order failed", "symbol", symbol, "order_id", orderID, "error", err)
		return wrap("cancel order", err)
	}
	slog.Info("order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

func (c *Client) SymbolConstraints(ctx context.Context, symbol string) (broker.Constraints, error) {
	if cons, ok := c.Constraints[symbol]; ok {
		return cons, nil
	}
	if cons, ok := c.Constraints["*"]; ok {
		return cons, nil
	}
	return broker.Constraints{}, &broker.Error{Kind: broker.KindUnknown, Op: "constraints", Message: "no constraints configured for " + symbol}
}

// RecentTrades reports filled orders as trades, oldest first.
func (c *Client) RecentTrades(ctx context.Context, symbol string, count int) ([]broker.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 50
	}
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{Status: "closed", Limit: 500, Direction: "desc"})
	if err != nil {
		return nil, wrap("closed orders", err)
	}
	var trades []broker.Trade
	for _, o := range orders {
		if c.symbol(o.Symbol) != symbol || o.FilledQty.IsZero() || o.FilledAvgPrice == nil {
			continue
		}
		at := o.CreatedAt
		if o.FilledAt != nil {
			at = *o.FilledAt
		}
		trades = append(trades, broker.Trade{
			ID:       o.ID,
			OrderID:  o.ID,
			Symbol:   symbol,
			Price:    *o.FilledAvgPrice,
			Quantity: o.FilledQty,
			IsBuyer:  o.Side == alpaca.Buy,
			Time:     at.UTC(),
		})
		if len(trades) == count {
			break
		}
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Time.Before(trades[j].Time) })
	return trades, nil
}

func (c *Client) Stats24h(ctx context.Context, symbol string) (broker.Stats, error) {
	if err := ctx.Err(); err != nil {
		return broker.Stats{}, err
	}
	end := c.now()
	bars, err := c.data.GetCryptoBars(c.pair(symbol), marketdata.GetCryptoBarsRequest{
		TimeFrame: marketdata.OneHour,
		Start:     end.Add(-24 * time.Hour),
		End:       end,
	})
	if err != nil {
		return broker.Stats{}, wrap("24h stats", err)
	}
	if len(bars) == 0 {
		return broker.Stats{}, &broker.Error{Kind: broker.KindUnknown, Op: "24h stats", Message: "no bars for " + symbol}
	}
	volume := decimal.Zero
	for _, bar := range bars {
		volume = volume.Add(decimal.NewFromFloat(bar.Volume))
	}
	return broker.Stats{
		LastPrice: decimal.NewFromFloat(bars[len(bars)-1].Close),
		Volume:    volume,
	}, nil
}

func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assets, err := c.trading.GetAssets(alpaca.GetAssetsRequest{Status: "active", AssetClass: "crypto"})
	if err != nil {
		return nil, wrap("assets", err)
	}
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		symbols = append(symbols, c.symbol(a.Symbol))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func wrap(op string, err error) error {
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return &broker.Error{Kind: broker.KindTransport, Op: op, Err: err}
	}
	return &broker.Error{
		Kind:       classify(apiErr.StatusCode, apiErr.Message),
		Code:       apiErr.Code,
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Message,
		Op:         op,
		Err:        err,
	}
}

func classify(status int, msg string) broker.ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusTooManyRequests:
		return broker.KindRateLimited
	case status == http.StatusUnauthorized:
		return broker.KindAuth
	case strings.Contains(lower, "insufficient"):
		return broker.KindInsufficientBalance
	case strings.Contains(lower, "notional") || strings.Contains(lower, "cost basis must be"):
		return broker.KindBelowMinNotional
	case status == http.StatusNotFound:
		return broker.KindUnknownOrder
	case status == http.StatusForbidden:
		return broker.KindAuth
	case status == http.StatusUnprocessableEntity && strings.Contains(lower, "qty"):
		return broker.KindInvalidQuantity
	default:
		return broker.KindUnknown
	}
}
