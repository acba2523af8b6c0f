package brokertest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/md"
)

// PlacedOrder records one order submitted to a Memory gateway.
type PlacedOrder struct {
	Symbol   string
	Side     broker.Side
	Type     broker.OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Memory is an in-process broker.Gateway. Limit sells rest for SellFillAfterPolls
// OpenOrders calls before they are treated as filled; a negative value keeps
// them resting forever.
type Memory struct {
	mu sync.Mutex

	CandleData    map[string][]md.Candle
	BalanceData   broker.Balances
	Orders        map[string][]broker.OpenOrder
	ConstraintSet map[string]broker.Constraints
	TradeData     map[string][]broker.Trade
	StatsData     map[string]broker.Stats
	SymbolList    []string

	SellFillAfterPolls int
	PartialFillOnPoll  bool
	Fail               map[string]error
	Now                func() time.Time

	Placed    []PlacedOrder
	Cancelled []string

	nextID    int
	countdown map[string]int
}

var _ broker.Gateway = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		CandleData:    map[string][]md.Candle{},
		BalanceData:   broker.Balances{},
		Orders:        map[string][]broker.OpenOrder{},
		ConstraintSet: map[string]broker.Constraints{},
		TradeData:     map[string][]broker.Trade{},
		StatsData:     map[string]broker.Stats{},
		Fail:          map[string]error{},
		Now:           time.Now,
		countdown:     map[string]int{},
	}
}

func (m *Memory) failure(op string) error {
	if err, ok := m.Fail[op]; ok {
		return err
	}
	return nil
}

func (m *Memory) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]md.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("candles"); err != nil {
		return nil, err
	}
	var out []md.Candle
	for _, c := range m.CandleData[symbol] {
		if c.CloseTime.Before(start) || c.CloseTime.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) Balances(ctx context.Context) (broker.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("balances"); err != nil {
		return nil, err
	}
	out := make(broker.Balances, len(m.BalanceData))
	for k, v := range m.BalanceData {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) OpenOrders(ctx context.Context, symbol string) ([]broker.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("open_orders"); err != nil {
		return nil, err
	}
	remaining := m.Orders[symbol][:0:0]
	for _, o := range m.Orders[symbol] {
		left, tracked := m.countdown[o.ID]
		if tracked && left > 0 {
			m.countdown[o.ID] = left - 1
			if m.PartialFillOnPoll && o.ExecutedQty.IsZero() {
				o.ExecutedQty = o.Quantity.Div(decimal.NewFromInt(2))
			}
			if left-1 == 0 {
				delete(m.countdown, o.ID)
				continue
			}
		}
		remaining = append(remaining, o)
	}
	m.Orders[symbol] = remaining
	out := make([]broker.OpenOrder, len(remaining))
	copy(out, remaining)
	return out, nil
}

func (m *Memory) place(symbol string, side broker.Side, typ broker.OrderType, qty, price decimal.Decimal) broker.OrderResult {
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.Placed = append(m.Placed, PlacedOrder{Symbol: symbol, Side: side, Type: typ, Quantity: qty, Price: price})
	now := m.Now()
	if typ == broker.Limit {
		rest := true
		if side == broker.Sell {
			switch {
			case m.SellFillAfterPolls == 0:
				rest = false
			case m.SellFillAfterPolls > 0:
				m.countdown[id] = m.SellFillAfterPolls
			}
		}
		if rest {
			m.Orders[symbol] = append(m.Orders[symbol], broker.OpenOrder{
				ID:          id,
				Symbol:      symbol,
				Side:        side,
				Type:        typ,
				Price:       price,
				Quantity:    qty,
				ExecutedQty: decimal.Zero,
				PlacedAt:    now,
			})
		}
	}
	return broker.OrderResult{OrderID: id, Status: "NEW", TransactTime: now}
}

func (m *Memory) PlaceLimitOrder(ctx context.Context, symbol string, side broker.Side, qty, price decimal.Decimal) (broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("limit_" + string(side)); err != nil {
		return broker.OrderResult{}, err
	}
	return m.place(symbol, side, broker.Limit, qty, price), nil
}

func (m *Memory) PlaceMarketOrder(ctx context.Context, symbol string, side broker.Side, qty decimal.Decimal) (broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("market_" + string(side)); err != nil {
		return broker.OrderResult{}, err
	}
	return m.place(symbol, side, broker.Market, qty, decimal.Zero), nil
}

func (m *Memory) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("cancel"); err != nil {
		return err
	}
	orders := m.Orders[symbol]
	for i, o := range orders {
		if o.ID == orderID {
			m.Orders[symbol] = append(orders[:i:i], orders[i+1:]...)
			m.Cancelled = append(m.Cancelled, orderID)
			delete(m.countdown, orderID)
			return nil
		}
	}
	return &broker.Error{Kind: broker.KindUnknownOrder, Op: "cancel order", Message: fmt.Sprintf("order %s not found", orderID)}
}

func (m *Memory) SymbolConstraints(ctx context.Context, symbol string) (broker.Constraints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("constraints"); err != nil {
		return broker.Constraints{}, err
	}
	c, ok := m.ConstraintSet[symbol]
	if !ok {
		return broker.Constraints{}, fmt.Errorf("no constraints for %s", symbol)
	}
	return c, nil
}

func (m *Memory) RecentTrades(ctx context.Context, symbol string, count int) ([]broker.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("trades"); err != nil {
		return nil, err
	}
	trades := m.TradeData[symbol]
	if count > 0 && len(trades) > count {
		trades = trades[len(trades)-count:]
	}
	out := make([]broker.Trade, len(trades))
	copy(out, trades)
	return out, nil
}

func (m *Memory) Stats24h(ctx context.Context, symbol string) (broker.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("stats"); err != nil {
		return broker.Stats{}, err
	}
	s, ok := m.StatsData[symbol]
	if !ok {
		return broker.Stats{}, &broker.Error{Kind: broker.KindUnknown, Op: "24h stats", Message: "invalid symbol " + symbol}
	}
	return s, nil
}

func (m *Memory) Symbols(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("symbols"); err != nil {
		return nil, err
	}
	out := append([]string(nil), m.SymbolList...)
	sort.Strings(out)
	return out, nil
}

// OpenLimitBuys counts resting limit buys for a symbol.
func (m *Memory) OpenLimitBuys(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.Orders[symbol] {
		if o.Side == broker.Buy && o.Type == broker.Limit {
			n++
		}
	}
	return n
}
