package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/clock"
	"spotbot/internal/md"
)

// Paced delays every call to the wrapped gateway by a fixed amount. It is a
// floor on request spacing, not a rate limiter.
type Paced struct {
	Gateway Gateway
	Delay   time.Duration
}

func NewPaced(gateway Gateway, delay time.Duration) *Paced {
	return &Paced{Gateway: gateway, Delay: delay}
}

func (p *Paced) wait(ctx context.Context) error {
	return clock.Sleep(ctx, p.Delay)
}

func (p *Paced) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]md.Candle, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.Gateway.Candles(ctx, symbol, interval, start, end)
}

func (p *Paced) Balances(ctx context.Context) (Balances, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.Gateway.Balances(ctx)
}

func (p *Paced) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.Gateway.OpenOrders(ctx, symbol)
}

func (p *Paced) PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal) (OrderResult, error) {
	if err := p.wait(ctx); err != nil {
		return OrderResult{}, err
	}
	return p.Gateway.PlaceLimitOrder(ctx, symbol, side, qty, price)
}

func (p *Paced) PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (OrderResult, error) {
	if err := p.wait(ctx); err != nil {
		return OrderResult{}, err
	}
	return p.Gateway.PlaceMarketOrder(ctx, symbol, side, qty)
}

func (p *Paced) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	return p.Gateway.CancelOrder(ctx, symbol, orderID)
}

func (p *Paced) SymbolConstraints(ctx context.Context, symbol string) (Constraints, error) {
	if err := p.wait(ctx); err != nil {
		return Constraints{}, err
	}
	return p.Gateway.SymbolConstraints(ctx, symbol)
}

func (p *Paced) RecentTrades(ctx context.Context, symbol string, count int) ([]Trade, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.Gateway.RecentTrades(ctx, symbol, count)
}

func (p *Paced) Stats24h(ctx context.Context, symbol string) (Stats, error) {
	if err := p.wait(ctx); err != nil {
		return Stats{}, err
	}
	return p.Gateway.Stats24h(ctx, symbol)
}

func (p *Paced) Symbols(ctx context.Context) ([]string, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.Gateway.Symbols(ctx)
}
