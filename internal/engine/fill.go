package engine

import (
	"context"
	"fmt"
	"log/slog"

	"spotbot/internal/broker"
	"spotbot/internal/metrics"
)

type FillStatus string

const (
	FillFilled          FillStatus = "FILLED"
	FillPartiallyFilled FillStatus = "PARTIALLY_FILLED"
	FillTimedOut        FillStatus = "TIMED_OUT"
)

// WaitForFill polls the symbol's open orders until orderID is gone or the
// fill timeout elapses. Buy-side orders are ignored. A vanished order is
// reported as filled.
func (e *Executor) WaitForFill(ctx context.Context, symbol, orderID string) (FillStatus, error) {
	deadline := e.now().Add(e.timing.FillTimeout)
	polls := 0
	for {
		if err := e.sleep(ctx, e.timing.FillPollInterval); err != nil {
			return FillTimedOut, err
		}
		orders, err := e.gateway.OpenOrders(ctx, symbol)
		if err != nil {
			return FillTimedOut, fmt.Errorf("poll open orders: %w", err)
		}
		polls++

		var pending *broker.OpenOrder
		for i := range orders {
			if orders[i].Side == broker.Buy {
				continue
			}
			if orders[i].ID == orderID {
				pending = &orders[i]
				break
			}
		}
		if pending == nil {
			slog.Info("sell order filled", "symbol", symbol, "order_id", orderID, "polls", polls)
			metrics.FillWaitsTotal.WithLabelValues(string(FillFilled)).Inc()
			return FillFilled, nil
		}

		if !e.now().Before(deadline) {
			status := FillTimedOut
			if pending.ExecutedQty.IsPositive() {
				status = FillPartiallyFilled
			}
			slog.Warn("sell order not filled before timeout", "symbol", symbol, "order_id", orderID, "status", status, "executed", pending.ExecutedQty, "qty", pending.Quantity)
			metrics.FillWaitsTotal.WithLabelValues(string(status)).Inc()
			return status, nil
		}
		slog.Debug("sell order still open, waiting", "symbol", symbol, "order_id", orderID, "executed", pending.ExecutedQty)
	}
}
