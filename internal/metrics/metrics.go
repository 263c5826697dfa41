// Package metrics holds the Prometheus collectors the engine updates while
// running:
//   - bot_orders_total{mode,side}           – orders submitted to the broker
//   - bot_execution_attempts_total{outcome} – attempts by final outcome
//   - bot_guard_rejections_total{reason}    – guardrail rejections by reason
//   - bot_fill_latency_seconds              – order submit→fill latency
//   - bot_trades_closed_total{result}       – closed trades (win|loss|flat)
//   - bot_open_trades                       – currently open trades
//   - bot_aggregate_exposure_usd            – risk ledger aggregate exposure
//   - bot_account_balance_usd               – risk ledger account balance
//   - bot_trading_halted                    – 1 while the halt latch is set
//   - bot_cycles_total                      – completed orchestrator cycles
//
// Registered in init() and served at /metrics by internal/monitor.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted to the broker",
		},
		[]string{"mode", "side"},
	)

	ExecutionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_execution_attempts_total",
			Help: "Execution attempts by final outcome",
		},
		[]string{"outcome"}, // filled|rejected|cancelled|timeout
	)

	GuardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_guard_rejections_total",
			Help: "Guardrail rejections split by reason",
		},
		[]string{"reason"},
	)

	FillLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_fill_latency_seconds",
			Help:    "Latency from order submission to confirmed fill",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_closed_total",
			Help: "Closed trades by result",
		},
		[]string{"result"}, // win|loss|flat
	)

	OpenTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_trades",
			Help: "Number of currently open trades",
		},
	)

	AggregateExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_aggregate_exposure_usd",
			Help: "Aggregate open exposure tracked by the risk ledger",
		},
	)

	AccountBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_account_balance_usd",
			Help: "Account balance tracked by the risk ledger",
		},
	)

	TradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_trading_halted",
			Help: "1 while the risk ledger halt latch is set",
		},
	)

	Cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Completed orchestrator cycles",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		ExecutionAttempts,
		GuardRejections,
		FillLatency,
		TradesClosed,
		OpenTrades,
		AggregateExposure,
		AccountBalance,
		TradingHalted,
		Cycles,
	)
}
