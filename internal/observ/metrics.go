// Package observ exposes Prometheus metrics for the scalping engine.
package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_cache_requests_total",
			Help: "Greeks cache requests split by outcome",
		},
		[]string{"outcome"}, // hit|miss|stale
	)

	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_provider_calls_total",
			Help: "Upstream provider calls split by op and result",
		},
		[]string{"op", "result"}, // ok|error
	)

	biasState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalper_bias_state",
			Help: "Current bias indicator (one labeled series set to 1)",
		},
		[]string{"bias"},
	)

	biasConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_bias_confidence",
			Help: "Bias engine confidence score (0-100)",
		},
	)

	trapsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_traps_total",
			Help: "Trap patterns detected by type",
		},
		[]string{"type"},
	)

	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_entries_total",
			Help: "Entry decisions split by outcome",
		},
		[]string{"outcome"}, // taken|rejected
	)

	exitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_exits_total",
			Help: "Exits split by reason",
		},
		[]string{"reason"},
	)

	dailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_daily_pnl",
			Help: "Realized daily PnL in rupees",
		},
	)

	tradingHalted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_trading_halted",
			Help: "1 when the risk manager has halted trading",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Number of open positions",
		},
	)
)

func init() {
	prometheus.MustRegister(cacheHits, providerCalls)
	prometheus.MustRegister(biasState, biasConfidence)
	prometheus.MustRegister(trapsDetected, entriesTotal, exitsTotal)
	prometheus.MustRegister(dailyPnL, tradingHalted, openPositions)
}

// Serve starts the metrics HTTP endpoint on addr. It blocks.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// IncCacheOutcome records a cache lookup outcome (hit|miss|stale).
func IncCacheOutcome(outcome string) { cacheHits.WithLabelValues(outcome).Inc() }

// IncProviderCall records an upstream call result.
func IncProviderCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCalls.WithLabelValues(op, result).Inc()
}

// SetBias flips the labeled bias series so exactly one reads 1.
func SetBias(bias string, confidence float64) {
	for _, b := range []string{"BULLISH", "BEARISH", "NO_TRADE", "UNKNOWN"} {
		v := 0.0
		if b == bias {
			v = 1.0
		}
		biasState.WithLabelValues(b).Set(v)
	}
	biasConfidence.Set(confidence)
}

// IncTrap records a detected trap pattern.
func IncTrap(trapType string) { trapsDetected.WithLabelValues(trapType).Inc() }

// IncEntry records an entry decision outcome (taken|rejected).
func IncEntry(outcome string) { entriesTotal.WithLabelValues(outcome).Inc() }

// IncExit records a trade exit by reason.
func IncExit(reason string) { exitsTotal.WithLabelValues(reason).Inc() }

// SetDailyPnL updates the realized daily PnL gauge.
func SetDailyPnL(v float64) { dailyPnL.Set(v) }

// SetHalted updates the halt indicator.
func SetHalted(halted bool) {
	if halted {
		tradingHalted.Set(1)
	} else {
		tradingHalted.Set(0)
	}
}

// SetOpenPositions updates the open position count.
func SetOpenPositions(n int) { openPositions.Set(float64(n)) }
