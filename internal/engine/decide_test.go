package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotbot/internal/broker"
	"spotbot/internal/strategy"
)

func TestDecideDoNothingSkips(t *testing.T) {
	plan := Decide(evaluation(strategy.DoNothing, "100", "100", "100"), nil, testNow, strategy.DefaultParams())
	if !plan.Skip {
		t.Fatalf("expected skip, got %+v", plan)
	}
}

func TestDecideTargetAndBuyBack(t *testing.T) {
	plan := Decide(evaluation(strategy.RiskBuy, "100", "95", "100.5"), nil, testNow, strategy.DefaultParams())
	if plan.Skip || plan.Escalate {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if !plan.Snapshot.TargetPrice.Equal(dec("101.8")) {
		t.Fatalf("expected target 101.8, got %s", plan.Snapshot.TargetPrice)
	}
	// 100.5 * 0.99 = 99.495
	if !plan.Snapshot.BuyBackPrice.Equal(dec("99.495")) {
		t.Fatalf("expected buy back 99.495, got %s", plan.Snapshot.BuyBackPrice)
	}
}

func TestDecideBuyBackFloorsToEightPlaces(t *testing.T) {
	plan := Decide(evaluation(strategy.Sell, "0.1", "0.2", "0.123456789"), nil, testNow, strategy.DefaultParams())
	// 0.123456789 * 0.99 = 0.12222222111
	if !plan.Snapshot.BuyBackPrice.Equal(dec("0.12222222")) {
		t.Fatalf("expected floored buy back, got %s", plan.Snapshot.BuyBackPrice)
	}
}

func TestSnapshotRatchetNeverLowers(t *testing.T) {
	snap := NewSnapshot(evaluation(strategy.GoodBuy, "100", "95", "102"), strategy.DefaultParams())
	if !snap.TargetPrice.Equal(dec("102")) {
		t.Fatalf("expected ratchet to current, got %s", snap.TargetPrice)
	}
	if snap.Ratchet(dec("99")) {
		t.Fatal("ratchet lowered the target")
	}
	if !snap.Ratchet(dec("103")) || !snap.TargetPrice.Equal(dec("103")) {
		t.Fatalf("expected ratchet up to 103, got %s", snap.TargetPrice)
	}
}

func TestDecideEscalation(t *testing.T) {
	params := strategy.DefaultParams()
	order := func(price string, age time.Duration) []broker.OpenOrder {
		return []broker.OpenOrder{{ID: "1", Side: broker.Buy, Type: broker.Limit, Price: dec(price), Quantity: decimal.NewFromInt(1), PlacedAt: testNow.Add(-age)}}
	}
	tests := []struct {
		name     string
		signal   strategy.Signal
		orders   []broker.OpenOrder
		escalate bool
		margin   string
	}{
		{"no open order", strategy.GoodBuy, nil, false, "0"},
		{"small margin young order", strategy.GoodBuy, order("100", time.Hour), false, "2"},
		{"margin exactly ten", strategy.GoodBuy, order("92.72727273", time.Hour), false, "10"},
		{"margin above ten", strategy.GoodBuy, order("92", time.Hour), true, "10.87"},
		{"old order", strategy.GoodBuy, order("101", 5*24*time.Hour+time.Second), true, "0.99"},
		{"old order on risk buy", strategy.RiskBuy, order("101", 6*24*time.Hour), false, "0.99"},
		{"large margin on sell", strategy.Sell, order("50", time.Hour), false, "104"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Decide(evaluation(tt.signal, "100", "95", "102"), tt.orders, testNow, params)
			if plan.Escalate != tt.escalate {
				t.Fatalf("escalate = %v, want %v (margin %s age %s)", plan.Escalate, tt.escalate, plan.MarginPct, plan.OrderAge)
			}
			if !plan.MarginPct.Equal(dec(tt.margin)) {
				t.Fatalf("margin = %s, want %s", plan.MarginPct, tt.margin)
			}
		})
	}
}
