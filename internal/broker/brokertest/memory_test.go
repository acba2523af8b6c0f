package brokertest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotbot/internal/broker"
)

func TestMemoryLimitSellFillsAfterPolls(t *testing.T) {
	ctx := context.Background()
	gw := NewMemory()
	gw.SellFillAfterPolls = 2

	res, err := gw.PlaceLimitOrder(ctx, "BTCUSDT", broker.Sell, decimal.NewFromInt(1), decimal.NewFromInt(100))
	require.NoError(t, err)

	orders, err := gw.OpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, res.OrderID, orders[0].ID)

	orders, err = gw.OpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryLimitBuysRest(t *testing.T) {
	ctx := context.Background()
	gw := NewMemory()
	_, err := gw.PlaceLimitOrder(ctx, "BTCUSDT", broker.Buy, decimal.NewFromInt(1), decimal.NewFromInt(99))
	require.NoError(t, err)
	_, err = gw.PlaceMarketOrder(ctx, "BTCUSDT", broker.Buy, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.Equal(t, 1, gw.OpenLimitBuys("BTCUSDT"))
	require.Len(t, gw.Placed, 2)
	assert.Equal(t, broker.Market, gw.Placed[1].Type)
}

func TestMemoryCancelUnknownOrder(t *testing.T) {
	gw := NewMemory()
	err := gw.CancelOrder(context.Background(), "BTCUSDT", "missing")
	assert.True(t, broker.IsKind(err, broker.KindUnknownOrder))
	assert.Empty(t, gw.Cancelled)
}

func TestMemoryInjectedFailure(t *testing.T) {
	gw := NewMemory()
	gw.Fail["balances"] = &broker.Error{Kind: broker.KindRateLimited, Op: "account"}
	_, err := gw.Balances(context.Background())
	assert.True(t, broker.IsKind(err, broker.KindRateLimited))
}
