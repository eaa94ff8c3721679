// Package health polls per-source health on an interval, derives the
// engine's overall status, and keeps the performance counters the
// /api/performance snapshot exposes.
package health

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the per-operation latency reservoir used for
// percentile estimates.
const maxSamples = 512

type opCounters struct {
	calls     int64
	successes int64
	totalMS   int64
	samples   []float64 // ring buffer of latencies in ms
	next      int
}

// OpStats is a point-in-time snapshot for one operation.
type OpStats struct {
	Calls     int64   `json:"calls"`
	Successes int64   `json:"successes"`
	AvgMS     float64 `json:"avg_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
}

// PerformanceTracker aggregates per-operation latencies and counts. One
// instance per process, created at startup and passed to the HTTP
// surface's metrics middleware.
type PerformanceTracker struct {
	startedAt time.Time
	metrics   *Metrics

	mu  sync.Mutex
	ops map[string]*opCounters
}

// NewPerformanceTracker creates a tracker. metrics may be nil.
func NewPerformanceTracker(metrics *Metrics) *PerformanceTracker {
	return &PerformanceTracker{
		startedAt: time.Now(),
		metrics:   metrics,
		ops:       make(map[string]*opCounters),
	}
}

// Observe records one operation invocation.
func (p *PerformanceTracker) Observe(operation string, elapsed time.Duration, success bool) {
	ms := float64(elapsed.Microseconds()) / 1000.0

	p.mu.Lock()
	c, ok := p.ops[operation]
	if !ok {
		c = &opCounters{}
		p.ops[operation] = c
	}
	c.calls++
	if success {
		c.successes++
	}
	c.totalMS += elapsed.Milliseconds()
	if len(c.samples) < maxSamples {
		c.samples = append(c.samples, ms)
	} else {
		c.samples[c.next] = ms
		c.next = (c.next + 1) % maxSamples
	}
	p.mu.Unlock()

	if p.metrics != nil {
		outcome := "success"
		if !success {
			outcome = "error"
		}
		p.metrics.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
		p.metrics.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

// Snapshot returns per-operation stats plus process memory and uptime.
func (p *PerformanceTracker) Snapshot() PerformanceSnapshot {
	p.mu.Lock()
	ops := make(map[string]OpStats, len(p.ops))
	for name, c := range p.ops {
		stats := OpStats{Calls: c.calls, Successes: c.successes}
		if c.calls > 0 {
			stats.AvgMS = float64(c.totalMS) / float64(c.calls)
		}
		stats.P95MS = percentile(c.samples, 0.95)
		stats.P99MS = percentile(c.samples, 0.99)
		ops[name] = stats
	}
	p.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return PerformanceSnapshot{
		Operations:    ops,
		MemoryBytes:   mem.Alloc,
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}
}

// PerformanceSnapshot is the /api/performance payload body.
type PerformanceSnapshot struct {
	Operations    map[string]OpStats `json:"operations"`
	MemoryBytes   uint64             `json:"memory_bytes"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Goroutines    int                `json:"goroutines"`
}

func percentile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
