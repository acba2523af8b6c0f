package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotbot/internal/broker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("key", "secret", srv.URL)
}

func TestSignedRequestCarriesSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		q := r.URL.Query()
		sig := q.Get("signature")
		q.Del("signature")
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(q.Encode()))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.Equal(t, "5000", q.Get("recvWindow"))
		_, _ = w.Write([]byte(`{"balances":[{"asset":"USDT","free":"100.5","locked":"1"},{"asset":"BTC","free":"0.01","locked":"0"}]}`))
	})

	balances, err := c.Balances(context.Background())
	require.NoError(t, err)
	assert.True(t, balances.Get("USDT").Total().Equal(decimal.RequireFromString("101.5")))
	assert.True(t, balances.Get("BTC").Free.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, balances.Get("ETH").Total().IsZero())
}

func TestCandlesParsesKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Empty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`[[1700000000000,"1","2","0.5","1.5","10",1700003599999,"15",3,"5","7","0"]]`))
	})

	candles, err := c.Candles(context.Background(), "BTCUSDT", "1h", time.UnixMilli(1700000000000), time.UnixMilli(1700003600000))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.True(t, candles[0].Close.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, int64(1700003599999), candles[0].CloseTime.UnixMilli())
}

func TestPlaceLimitOrderPostsForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "LIMIT", r.Form.Get("type"))
		assert.Equal(t, "GTC", r.Form.Get("timeInForce"))
		assert.Equal(t, "SELL", r.Form.Get("side"))
		assert.Equal(t, "0.5", r.Form.Get("quantity"))
		assert.Equal(t, "101.8", r.Form.Get("price"))
		assert.True(t, strings.HasPrefix(r.Form.Get("newClientOrderId"), "spotbot-"))
		assert.NotEmpty(t, r.Form.Get("signature"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"x","status":"NEW","transactTime":1700000000000}`))
	})

	res, err := c.PlaceLimitOrder(context.Background(), "BTCUSDT", broker.Sell, decimal.RequireFromString("0.5"), decimal.RequireFromString("101.8"))
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, "NEW", res.Status)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   broker.ErrorKind
	}{
		{"min notional", 400, `{"code":-1013,"msg":"Filter failure: MIN_NOTIONAL"}`, broker.KindBelowMinNotional},
		{"notional", 400, `{"code":-1013,"msg":"Filter failure: NOTIONAL"}`, broker.KindBelowMinNotional},
		{"lot size", 400, `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, broker.KindInvalidQuantity},
		{"balance", 400, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, broker.KindInsufficientBalance},
		{"unknown order", 400, `{"code":-2011,"msg":"Unknown order sent."}`, broker.KindUnknownOrder},
		{"rate limit", 429, `{"code":-1003,"msg":"Too many requests"}`, broker.KindRateLimited},
		{"banned", 418, `{"code":-1003,"msg":"Way too many requests; IP banned"}`, broker.KindRateLimited},
		{"auth", 401, `{"code":-2015,"msg":"Invalid API-key"}`, broker.KindAuth},
		{"plain text", 500, `oops`, broker.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", broker.Buy, decimal.NewFromInt(1))
			require.Error(t, err)
			assert.Equal(t, tc.want, broker.KindOf(err))
		})
	}
}

func TestErrorMappingKeepsCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})
	err := c.CancelOrder(context.Background(), "BTCUSDT", "7")
	require.Error(t, err)

	var brokerErr *broker.Error
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, broker.KindUnknownOrder, brokerErr.Kind)
	assert.Equal(t, -2013, brokerErr.Code)
	assert.Equal(t, "cancel order", brokerErr.Op)
}

func TestCancelOrderRejectsMalformedID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	err := c.CancelOrder(context.Background(), "BTCUSDT", "abc")
	assert.True(t, broker.IsKind(err, broker.KindUnknownOrder))
}

func TestStats24hReadsTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"101.25","volume":"1234.5"}`))
	})
	stats, err := c.Stats24h(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, stats.LastPrice.Equal(decimal.RequireFromString("101.25")))
	assert.True(t, stats.Volume.Equal(decimal.RequireFromString("1234.5")))
}

func TestSymbolConstraints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.00001","stepSize":"0.00001"},
			{"filterType":"NOTIONAL","minNotional":"5"}]}]}`))
	})

	cons, err := c.SymbolConstraints(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, cons.MinPrice.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cons.MinQty.Equal(decimal.RequireFromString("0.00001")))
	assert.True(t, cons.MinNotional.Equal(decimal.NewFromInt(5)))

	_, err = c.SymbolConstraints(context.Background(), "ETHUSDT")
	assert.Error(t, err)
}

func TestSymbolsSkipsHalted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING"},{"symbol":"LUNAUSDT","status":"BREAK"}]}`))
	})

	symbols, err := c.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
}

func TestCancelOrderUsesDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "7", r.Form.Get("orderId"))
		_, _ = w.Write([]byte(`{}`))
	})
	require.NoError(t, c.CancelOrder(context.Background(), "BTCUSDT", "7"))
}
