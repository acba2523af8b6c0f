package binance

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/md"
)

const DefaultBaseURL = "https://api.binance.com"

const recvWindowMillis = 5000

type Client struct {
	api *gobinance.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	api := gobinance.NewClient(apiKey, apiSecret)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	api.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{api: api}
}

var _ broker.Gateway = (*Client)(nil)

func recvWindow() gobinance.RequestOption {
	return gobinance.WithRecvWindow(recvWindowMillis)
}

// translate wraps SDK failures in broker.Error. API rejections carry a
// Binance code; everything else is a transport failure.
func translate(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &broker.Error{
			Kind:    classify(int(apiErr.Code), apiErr.Message),
			Code:    int(apiErr.Code),
			Message: apiErr.Message,
			Op:      op,
			Err:     err,
		}
	}
	return &broker.Error{Kind: broker.KindTransport, Op: op, Err: err}
}

// classify maps Binance error codes onto gateway error kinds. Filter
// failures share code -1013, so the filter name in the message decides.
func classify(code int, msg string) broker.ErrorKind {
	switch {
	case code == -1003 || code == -1015:
		return broker.KindRateLimited
	case code == -2014 || code == -2015 || code == -1022:
		return broker.KindAuth
	case code == -2010 && strings.Contains(msg, "insufficient balance"):
		return broker.KindInsufficientBalance
	case code == -2011 || code == -2013:
		return broker.KindUnknownOrder
	case code == -1013 && strings.Contains(msg, "NOTIONAL"):
		return broker.KindBelowMinNotional
	case code == -1013 || code == -1111:
		return broker.KindInvalidQuantity
	default:
		return broker.KindUnknown
	}
}

func (c *Client) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]md.Candle, error) {
	rows, err := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, translate("klines", err)
	}
	candles := make([]md.Candle, 0, len(rows))
	for _, row := range rows {
		closePrice, err := decimal.NewFromString(row.Close)
		if err != nil {
			return nil, &broker.Error{Kind: broker.KindTransport, Op: "klines", Err: err}
		}
		candles = append(candles, md.Candle{
			Symbol:    symbol,
			CloseTime: time.UnixMilli(row.CloseTime).UTC(),
			Close:     closePrice,
		})
	}
	return candles, nil
}

func (c *Client) Balances(ctx context.Context) (broker.Balances, error) {
	account, err := c.api.NewGetAccountService().Do(ctx, recvWindow())
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return nil, translate("account", err)
	}
	balances := make(broker.Balances, len(account.Balances))
	for _, b := range account.Balances {
		balances[b.Asset] = broker.Balance{
			Free:   parseDecimal(b.Free),
			Locked: parseDecimal(b.Locked),
		}
	}
	return balances, nil
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]broker.OpenOrder, error) {
	resp, err := c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx, recvWindow())
	if err != nil {
		slog.Error("fetch open orders failed", "symbol", symbol, "error", err)
		return nil, translate("open orders", err)
	}
	orders := make([]broker.OpenOrder, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, broker.OpenOrder{
			ID:          strconv.FormatInt(o.OrderID, 10),
			Symbol:      o.Symbol,
			Side:        broker.Side(o.Side),
			Type:        broker.OrderType(o.Type),
			Price:       parseDecimal(o.Price),
			Quantity:    parseDecimal(o.OrigQuantity),
			ExecutedQty: parseDecimal(o.ExecutedQuantity),
			PlacedAt:    time.UnixMilli(o.Time).UTC(),
		})
	}
	slog.Debug("open orders fetched", "symbol", symbol, "count", len(orders))
	return orders, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side broker.Side, qty, price decimal.Decimal) (broker.OrderResult, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideType(side)).
		Type(gobinance.OrderTypeLimit).
		TimeInForce(gobinance.TimeInForceTypeGTC).
		Quantity(qty.String()).
		Price(price.String())
	return c.placeOrder(ctx, svc, symbol, side, broker.Limit, qty, price)
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side broker.Side, qty decimal.Decimal) (broker.OrderResult, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideType(side)).
		Type(gobinance.OrderTypeMarket).
		Quantity(qty.String())
	return c.placeOrder(ctx, svc, symbol, side, broker.Market, qty, decimal.Zero)
}

func (c *Client) placeOrder(ctx context.Context, svc *gobinance.CreateOrderService, symbol string, side broker.Side, typ broker.OrderType, qty, price decimal.Decimal) (broker.OrderResult, error) {
	svc.NewClientOrderID("spotbot-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
	resp, err := svc.Do(ctx, recvWindow())
	if err != nil {
		slog.Error("place order failed", "symbol", symbol, "side", side, "type", typ, "qty", qty, "price", price, "error", err)
		return broker.OrderResult{}, translate("place order", err)
	}
	slog.Info("place order success", "order_id", resp.OrderID, "symbol", resp.Symbol, "side", side, "type", typ, "status", resp.Status)
	return broker.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        string(resp.Status),
		TransactTime:  time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return &broker.Error{Kind: broker.KindUnknownOrder, Op: "cancel order", Message: "invalid order id: " + orderID, Err: err}
	}
	if _, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx, recvWindow()); err != nil {
		slog.Error("cancel order failed", "symbol", symbol, "order_id", orderID, "error", err)
		return translate("cancel order", err)
	}
	slog.Info("order cancelled", "symbol", symbol, "order_id", orderID)
	return nil
}

func (c *Client) SymbolConstraints(ctx context.Context, symbol string) (broker.Constraints, error) {
	info, err := c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return broker.Constraints{}, translate("exchange info", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return constraintsFrom(s.Filters), nil
		}
	}
	return broker.Constraints{}, &broker.Error{Kind: broker.KindUnknown, Op: "exchange info", Message: "symbol not listed: " + symbol}
}

// constraintsFrom reads the price, lot size and notional filters. Newer
// listings publish NOTIONAL in place of MIN_NOTIONAL.
func constraintsFrom(filters []map[string]interface{}) broker.Constraints {
	c := broker.Constraints{
		MinPrice:    decimal.Zero,
		TickSize:    decimal.Zero,
		MinQty:      decimal.Zero,
		StepSize:    decimal.Zero,
		MinNotional: decimal.Zero,
	}
	for _, f := range filters {
		switch filterString(f, "filterType") {
		case "PRICE_FILTER":
			c.MinPrice = parseDecimal(filterString(f, "minPrice"))
			c.TickSize = parseDecimal(filterString(f, "tickSize"))
		case "LOT_SIZE":
			c.MinQty = parseDecimal(filterString(f, "minQty"))
			c.StepSize = parseDecimal(filterString(f, "stepSize"))
		case "MIN_NOTIONAL", "NOTIONAL":
			c.MinNotional = parseDecimal(filterString(f, "minNotional"))
		}
	}
	return c
}

func filterString(f map[string]interface{}, key string) string {
	s, _ := f[key].(string)
	return s
}

func (c *Client) RecentTrades(ctx context.Context, symbol string, count int) ([]broker.Trade, error) {
	svc := c.api.NewListTradesService().Symbol(symbol)
	if count > 0 {
		svc.Limit(count)
	}
	resp, err := svc.Do(ctx, recvWindow())
	if err != nil {
		return nil, translate("my trades", err)
	}
	trades := make([]broker.Trade, 0, len(resp))
	for _, t := range resp {
		trades = append(trades, broker.Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			OrderID:  strconv.FormatInt(t.OrderID, 10),
			Symbol:   t.Symbol,
			Price:    parseDecimal(t.Price),
			Quantity: parseDecimal(t.Quantity),
			IsBuyer:  t.IsBuyer,
			Time:     time.UnixMilli(t.Time).UTC(),
		})
	}
	return trades, nil
}

func (c *Client) Stats24h(ctx context.Context, symbol string) (broker.Stats, error) {
	resp, err := c.api.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return broker.Stats{}, translate("24h ticker", err)
	}
	for _, s := range resp {
		if s.Symbol == symbol || s.Symbol == "" {
			return broker.Stats{LastPrice: parseDecimal(s.LastPrice), Volume: parseDecimal(s.Volume)}, nil
		}
	}
	return broker.Stats{}, &broker.Error{Kind: broker.KindUnknown, Op: "24h ticker", Message: "no ticker for " + symbol}
}

func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, translate("exchange info", err)
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		symbols = append(symbols, s.Symbol)
	}
	return symbols, nil
}

func parseDecimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
