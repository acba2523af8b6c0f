package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotbot/internal/broker"
	"spotbot/internal/broker/brokertest"
	"spotbot/internal/strategy"
)

func placeSell(t *testing.T, gw *brokertest.Memory) string {
	t.Helper()
	res, err := gw.PlaceLimitOrder(context.Background(), "BTCUSDT", broker.Sell, dec("1"), dec("100"))
	require.NoError(t, err)
	return res.OrderID
}

func newFillExecutor(gw broker.Gateway, timeout time.Duration) *Executor {
	exec := NewExecutor(gw, strategy.DefaultParams(), Timing{FillTimeout: timeout}, nil)
	exec.now = func() time.Time { return testNow }
	return exec
}

func TestWaitForFillFilledAfterPolls(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = 2
	id := placeSell(t, gw)

	status, err := newFillExecutor(gw, time.Hour).WaitForFill(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, FillFilled, status)
}

func TestWaitForFillTimesOut(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = -1
	id := placeSell(t, gw)

	status, err := newFillExecutor(gw, 0).WaitForFill(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, FillTimedOut, status)
}

func TestWaitForFillPartiallyFilled(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = 5
	gw.PartialFillOnPoll = true
	id := placeSell(t, gw)

	status, err := newFillExecutor(gw, 0).WaitForFill(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, FillPartiallyFilled, status)
}

func TestWaitForFillIgnoresBuyOrders(t *testing.T) {
	gw := newMarket()
	_, err := gw.PlaceLimitOrder(context.Background(), "BTCUSDT", broker.Buy, dec("1"), dec("90"))
	require.NoError(t, err)
	id := placeSell(t, gw)

	status, err := newFillExecutor(gw, time.Hour).WaitForFill(context.Background(), "BTCUSDT", id)
	require.NoError(t, err)
	assert.Equal(t, FillFilled, status)
}

func TestWaitForFillHonoursContext(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = -1
	id := placeSell(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFillExecutor(gw, time.Hour).WaitForFill(ctx, "BTCUSDT", id)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSellTimeoutLeavesOrderResting(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = -1
	gw.BalanceData["BTC"] = broker.Balance{Free: dec("1"), Locked: dec("0")}
	e, notifier, _ := newTestEngine(gw, nil)

	d, err := e.RunCycle(context.Background(), evaluation(strategy.Sell, "90", "95", "91"))
	require.NoError(t, err)
	assert.Equal(t, FillTimedOut, d.Fill)
	assert.True(t, notifier.contains("not filled"))
	orders, err := gw.OpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCancelledCycleStillReportsFailure(t *testing.T) {
	gw := newMarket()
	gw.SellFillAfterPolls = -1
	gw.BalanceData["BTC"] = broker.Balance{Free: dec("1"), Locked: dec("0")}
	e, notifier, rec := newTestEngine(gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// shutdown arrives while the sell is waiting to fill
	e.exec.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	d, err := e.RunCycle(ctx, evaluation(strategy.Sell, "90", "95", "91"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, PhaseFailed, d.Phase)

	assert.True(t, notifier.contains("Error at sell and buy back"))
	for _, m := range notifier.dropped {
		assert.NotContains(t, m, "Error at sell and buy back")
	}
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, PhaseFailed, rec.decisions[0].Phase)
}
