// Package metrics exposes the Prometheus collectors tracking a market's
// accounting health, grounded on the teacher's sync.Once-guarded registry
// pattern (observability.ModuleMetrics/Payoutd/Consensus).
package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics bundles the collectors the HTTP server records after each
// ledger entry point call it handles.
type MarketMetrics struct {
	reserveRatio      *prometheus.GaugeVec
	scaleFactor       *prometheus.GaugeVec
	delinquent        *prometheus.GaugeVec
	timeDelinquent    *prometheus.GaugeVec
	unpaidQueueDepth  *prometheus.GaugeVec
	heldAssets        *prometheus.GaugeVec
	protocolFees      *prometheus.GaugeVec
	entryPointErrors  *prometheus.CounterVec
	entryPointLatency *prometheus.HistogramVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the lazily-initialised market metrics registry.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			reserveRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "reserve_ratio_bips",
				Help:      "Configured reserve ratio in basis points for the pool.",
			}, []string{"pool"}),
			scaleFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "scale_factor",
				Help:      "Current scale factor expressed as a float in ray units.",
			}, []string{"pool"}),
			delinquent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "delinquent",
				Help:      "Whether the pool is currently delinquent (1) or not (0).",
			}, []string{"pool"}),
			timeDelinquent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "time_delinquent_seconds",
				Help:      "Accumulated delinquency clock for the pool, in seconds.",
			}, []string{"pool"}),
			unpaidQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "unpaid_withdrawal_queue_depth",
				Help:      "Count of withdrawal batches still waiting on liquidity.",
			}, []string{"pool"}),
			heldAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "held_assets",
				Help:      "Liquidity currently held by the pool, in asset base units.",
			}, []string{"pool"}),
			protocolFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "marketcore",
				Subsystem: "market",
				Name:      "accrued_protocol_fees",
				Help:      "Protocol fees accrued and not yet collected, in asset base units.",
			}, []string{"pool"}),
			entryPointErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "marketcore",
				Subsystem: "ledger",
				Name:      "entry_point_errors_total",
				Help:      "Count of ledger entry point calls that returned an error.",
			}, []string{"pool", "entry_point", "reason"}),
			entryPointLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "marketcore",
				Subsystem: "ledger",
				Name:      "entry_point_duration_seconds",
				Help:      "Latency distribution for ledger entry point calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"pool", "entry_point"}),
		}
		prometheus.MustRegister(
			marketRegistry.reserveRatio,
			marketRegistry.scaleFactor,
			marketRegistry.delinquent,
			marketRegistry.timeDelinquent,
			marketRegistry.unpaidQueueDepth,
			marketRegistry.heldAssets,
			marketRegistry.protocolFees,
			marketRegistry.entryPointErrors,
			marketRegistry.entryPointLatency,
		)
	})
	return marketRegistry
}

// RecordState updates the gauges that describe a pool's current accounting
// state. Callers pass the unpaid-queue length separately since it lives in
// the store rather than on State itself.
func (m *MarketMetrics) RecordState(pool string, reserveRatioBips uint64, scaleFactor *big.Int, delinquent bool, timeDelinquent uint64, heldAssets, accruedProtocolFees *big.Int, unpaidQueueDepth int) {
	if m == nil {
		return
	}
	m.reserveRatio.WithLabelValues(pool).Set(float64(reserveRatioBips))
	m.scaleFactor.WithLabelValues(pool).Set(bigToFloat(scaleFactor))
	m.timeDelinquent.WithLabelValues(pool).Set(float64(timeDelinquent))
	m.unpaidQueueDepth.WithLabelValues(pool).Set(float64(unpaidQueueDepth))
	m.heldAssets.WithLabelValues(pool).Set(bigToFloat(heldAssets))
	m.protocolFees.WithLabelValues(pool).Set(bigToFloat(accruedProtocolFees))
	if delinquent {
		m.delinquent.WithLabelValues(pool).Set(1)
	} else {
		m.delinquent.WithLabelValues(pool).Set(0)
	}
}

// ObserveEntryPoint records the outcome and latency of a ledger entry point
// call.
func (m *MarketMetrics) ObserveEntryPoint(pool, entryPoint string, err error, seconds float64) {
	if m == nil {
		return
	}
	m.entryPointLatency.WithLabelValues(pool, entryPoint).Observe(seconds)
	if err != nil {
		m.entryPointErrors.WithLabelValues(pool, entryPoint, err.Error()).Inc()
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
