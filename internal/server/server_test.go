package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotbot/internal/broker"
	"spotbot/internal/broker/brokertest"
	"spotbot/internal/journal"
	"spotbot/internal/state"
)

type fixedValuer struct{ total decimal.Decimal }

func (f fixedValuer) TotalQuoteValue(context.Context, broker.Balances) (decimal.Decimal, error) {
	return f.total, nil
}

type fakeJournal struct{ symbol string }

func (f *fakeJournal) Recent(_ context.Context, symbol string, limit int) ([]journal.Cycle, error) {
	f.symbol = symbol
	return []journal.Cycle{{CycleID: "c1", Symbol: "BTCUSDT"}}, nil
}

func newTestServer(deps Deps) *Server {
	return New(":0", deps)
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func memoryGateway() *brokertest.Memory {
	gw := brokertest.NewMemory()
	gw.BalanceData["USDT"] = broker.Balance{Free: decimal.NewFromInt(100), Locked: decimal.Zero}
	gw.BalanceData["BTC"] = broker.Balance{Free: decimal.RequireFromString("0.5"), Locked: decimal.Zero}
	gw.BalanceData["DUST"] = broker.Balance{Free: decimal.Zero, Locked: decimal.Zero}
	gw.TradeData["BTCUSDT"] = []broker.Trade{{ID: "1", Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(1), IsBuyer: true}}
	return gw
}

func TestHealth(t *testing.T) {
	store := state.NewStore()
	store.SetLastRun("run-9", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	code, body := get(t, newTestServer(Deps{Gateway: memoryGateway(), State: store}), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "run-9", body["run_id"])
}

func TestStatusListsNonZeroBalances(t *testing.T) {
	s := newTestServer(Deps{Gateway: memoryGateway(), Valuer: fixedValuer{decimal.NewFromInt(150)}, QuoteAsset: "USDT"})
	code, body := get(t, s, "/status")
	require.Equal(t, http.StatusOK, code)
	balances := body["balances"].(map[string]any)
	assert.Contains(t, balances, "BTC")
	assert.NotContains(t, balances, "DUST")
	assert.Equal(t, "150", body["total"])
}

func TestStatusGatewayError(t *testing.T) {
	gw := memoryGateway()
	gw.Fail["balances"] = &broker.Error{Kind: broker.KindAuth, Op: "account"}
	code, _ := get(t, newTestServer(Deps{Gateway: gw}), "/status")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestOrdersHistory(t *testing.T) {
	code, body := get(t, newTestServer(Deps{Gateway: memoryGateway()}), "/orders/BTCUSDT?limit=5")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BTCUSDT", body["symbol"])
	assert.Len(t, body["trades"], 1)
}

func TestCyclesFromStateAndJournal(t *testing.T) {
	store := state.NewStore()
	store.Update(state.SymbolState{Symbol: "ETHUSDT", Phase: "DONE"})
	s := newTestServer(Deps{Gateway: memoryGateway(), State: store})

	code, body := get(t, s, "/cycles")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["cycles"], 1)

	code, _ = get(t, s, "/cycles/ADAUSDT")
	assert.Equal(t, http.StatusNotFound, code)

	j := &fakeJournal{}
	s = newTestServer(Deps{Gateway: memoryGateway(), State: store, Journal: j})
	code, body = get(t, s, "/cycles/BTCUSDT")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BTCUSDT", j.symbol)
	assert.Len(t, body["cycles"], 1)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(Deps{Gateway: memoryGateway()}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
