package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/md"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

type OpenOrder struct {
	ID          string
	Symbol      string
	Side        Side
	Type        OrderType
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	ExecutedQty decimal.Decimal
	PlacedAt    time.Time
}

type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	TransactTime  time.Time
}

type Trade struct {
	ID       string
	OrderID  string
	Symbol   string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	IsBuyer  bool
	Time     time.Time
}

type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

type Balances map[string]Balance

// Get returns a zero balance for assets the account has never held.
func (b Balances) Get(asset string) Balance {
	if bal, ok := b[asset]; ok {
		return bal
	}
	return Balance{Free: decimal.Zero, Locked: decimal.Zero}
}

// Constraints are the exchange trading filters for one symbol.
type Constraints struct {
	MinPrice    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

type Stats struct {
	LastPrice decimal.Decimal
	Volume    decimal.Decimal
}

type Gateway interface {
	Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]md.Candle, error)
	Balances(ctx context.Context) (Balances, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (OrderResult, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SymbolConstraints(ctx context.Context, symbol string) (Constraints, error)
	RecentTrades(ctx context.Context, symbol string, count int) ([]Trade, error)
	Stats24h(ctx context.Context, symbol string) (Stats, error)
	Symbols(ctx context.Context) ([]string, error)
}
