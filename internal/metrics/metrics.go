package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_cycles_total",
		Help: "Trading cycles by final phase",
	}, []string{"symbol", "phase"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spotbot_cycle_duration_seconds",
		Help:    "Wall time of one trading cycle",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
	}, []string{"symbol"})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_signals_total",
		Help: "Classified signals",
	}, []string{"symbol", "signal"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_orders_total",
		Help: "Order actions by kind and result",
	}, []string{"symbol", "kind", "result"})

	FillWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_fill_waits_total",
		Help: "Sell fill confirmations by outcome",
	}, []string{"status"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_gateway_errors_total",
		Help: "Exchange errors by kind",
	}, []string{"kind"})

	PassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotbot_passes_total",
		Help: "Scheduling passes over the symbol universe",
	}, []string{"result"})

	LastPassTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spotbot_last_pass_timestamp_seconds",
		Help: "Unix time the last pass finished",
	})

	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spotbot_portfolio_quote_value",
		Help: "Account value in the quote asset at the last valuation",
	})
)
