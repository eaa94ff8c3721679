package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine-level Prometheus series: operation latency
// histograms, cache gauges, and source health gauges. Built once at
// startup and passed where needed, never fetched from a package global.
type Metrics struct {
	OperationDuration *prometheus.HistogramVec
	OperationsTotal   *prometheus.CounterVec
	SourceHealthy     *prometheus.GaugeVec
	CacheHitRate      *prometheus.GaugeVec
	CacheKeys         prometheus.Gauge
	SlowTierConnected prometheus.Gauge
}

// NewMetrics registers the engine metric series under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency of tool-layer operations",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),

		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total tool-layer operation invocations by outcome",
		}, []string{"operation", "outcome"}),

		SourceHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "healthy",
			Help:      "1 when a source's last health check succeeded",
		}, []string{"source"}),

		CacheHitRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Hit rate per cache content type",
		}, []string{"content_type"}),

		CacheKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fast_tier_keys",
			Help:      "Current fast-tier key count",
		}),

		SlowTierConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "slow_tier_connected",
			Help:      "1 when the slow cache tier is reachable",
		}),
	}
}
