package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleAggregatorMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *VaultLedgerMetrics

	liquidationMetricsOnce sync.Once
	liquidationRegistry    *LiquidationMetrics
)

// OracleAggregatorMetrics tracks aggregation rounds and published prices.
type OracleAggregatorMetrics struct {
	rounds    *prometheus.CounterVec
	published *prometheus.GaugeVec
}

// OracleMetrics returns the lazily-initialised oracle metrics registry.
func OracleMetrics() *OracleAggregatorMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleAggregatorMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "oracle",
				Name:      "aggregation_rounds_total",
				Help:      "Aggregation rounds segmented by asset and outcome.",
			}, []string{"asset", "outcome"}),
			published: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stablevault",
				Subsystem: "oracle",
				Name:      "published_price",
				Help:      "Last published price per asset (monitoring only, lossy float).",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.rounds, oracleRegistry.published)
	})
	return oracleRegistry
}

// ObserveRound records the outcome of one aggregation round.
func (m *OracleAggregatorMetrics) ObserveRound(asset, outcome string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(asset, outcome).Inc()
}

// SetPublished exports the published price as a float gauge. Monetary logic
// never reads this back; it exists only for dashboards and alerting.
func (m *OracleAggregatorMetrics) SetPublished(asset string, value *big.Int) {
	if m == nil || value == nil {
		return
	}
	f, _ := new(big.Rat).SetFrac(value, big.NewInt(100_000_000)).Float64()
	m.published.WithLabelValues(asset).Set(f)
}

// VaultLedgerMetrics tracks ledger operations by outcome.
type VaultLedgerMetrics struct {
	operations *prometheus.CounterVec
}

// LedgerMetrics returns the lazily-initialised vault ledger metrics registry.
func LedgerMetrics() *VaultLedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &VaultLedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
		}
		prometheus.MustRegister(ledgerRegistry.operations)
	})
	return ledgerRegistry
}

// ObserveOperation records the outcome of one ledger operation.
func (m *VaultLedgerMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// LiquidationMetrics tracks liquidation attempts and keeper scans.
type LiquidationMetrics struct {
	executed   prometheus.Counter
	superseded prometheus.Counter
	scanSecs   prometheus.Histogram
}

// LiquidationEngineMetrics returns the lazily-initialised liquidation metrics
// registry.
func LiquidationEngineMetrics() *LiquidationMetrics {
	liquidationMetricsOnce.Do(func() {
		liquidationRegistry = &LiquidationMetrics{
			executed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "liquidation",
				Name:      "executed_total",
				Help:      "Completed liquidations.",
			}),
			superseded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stablevault",
				Subsystem: "liquidation",
				Name:      "superseded_total",
				Help:      "Liquidation attempts that lost the race to another actor.",
			}),
			scanSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "stablevault",
				Subsystem: "liquidation",
				Name:      "scan_duration_seconds",
				Help:      "Latency distribution for full vault scans.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(liquidationRegistry.executed, liquidationRegistry.superseded, liquidationRegistry.scanSecs)
	})
	return liquidationRegistry
}

// ObserveExecuted records a completed liquidation.
func (m *LiquidationMetrics) ObserveExecuted() {
	if m == nil {
		return
	}
	m.executed.Inc()
}

// ObserveSuperseded records a liquidation attempt beaten by a concurrent actor.
func (m *LiquidationMetrics) ObserveSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

// ObserveScan records the duration of one full vault scan.
func (m *LiquidationMetrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanSecs.Observe(d.Seconds())
}
