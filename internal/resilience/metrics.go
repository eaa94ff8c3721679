package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-source circuit breaker Prometheus series. One
// instance is created explicitly at startup and passed to every breaker
// the registry constructs; it is not a package-level singleton.
type Metrics struct {
	State           *prometheus.GaugeVec
	StateChanges    *prometheus.CounterVec
	Successes       *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RequestsBlocked *prometheus.CounterVec
}

// NewMetrics registers the circuit breaker metric series under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		State: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open) per source",
		}, []string{"source"}),

		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state_changes_total",
			Help:      "Total circuit breaker state transitions per source",
		}, []string{"source", "from", "to"}),

		Successes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "successes_total",
			Help:      "Total successful calls observed by the circuit breaker per source",
		}, []string{"source"}),

		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "failures_total",
			Help:      "Total failed calls observed by the circuit breaker per source",
		}, []string{"source"}),

		RequestsBlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "requests_blocked_total",
			Help:      "Total calls rejected while the circuit was open per source",
		}, []string{"source"}),
	}
}
