package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/cache"
	"github.com/vitaliisemenov/runbook-engine/internal/realtime"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
)

// Status is the engine's aggregate health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Report is the /api/health payload body.
type Report struct {
	Status         Status         `json:"api_status"`
	Sources        []SourceReport `json:"sources"`
	CacheHealthy   bool           `json:"cache_overall_healthy"`
	CacheStats     cache.Stats    `json:"cache_stats"`
	CheckedAt      time.Time      `json:"checked_at"`
	FeedbackLedger int            `json:"feedback_ledger_size"`
}

// SourceReport is one source's entry in the health report.
type SourceReport struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	Healthy      bool   `json:"healthy"`
	LatencyMS    int64  `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
	BreakerState string `json:"circuit_breaker_state"`
}

// LedgerSizer reports the feedback ledger's current size; satisfied by
// the tool layer's ledger.
type LedgerSizer interface {
	Len() int
}

// Poller polls per-source health on an interval, maintains the latest
// report, and broadcasts transitions on the realtime bus.
type Poller struct {
	registry *registry.Registry
	cache    *cache.Manager
	ledger   LedgerSizer
	bus      realtime.EventBus
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration

	mu        sync.RWMutex
	latest    Report
	wasHealthy map[string]bool
	cacheWasOK bool

	stop chan struct{}
	done chan struct{}
}

// NewPoller builds a health poller. bus, ledger, and metrics may be nil.
func NewPoller(reg *registry.Registry, cacheManager *cache.Manager, ledger LedgerSizer, bus realtime.EventBus, metrics *Metrics, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Poller{
		registry:   reg,
		cache:      cacheManager,
		ledger:     ledger,
		bus:        bus,
		metrics:    metrics,
		logger:     logger.With("component", "health_poller"),
		interval:   interval,
		wasHealthy: make(map[string]bool),
		cacheWasOK: true,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called. The first poll runs
// immediately so the report is populated before traffic arrives.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		p.poll(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Stop halts the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

// Latest returns the most recent report.
func (p *Poller) Latest() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Check polls immediately and returns the fresh report. Used by the
// /api/health handler so operators never read a stale status.
func (p *Poller) Check(ctx context.Context) Report {
	p.poll(ctx)
	return p.Latest()
}

func (p *Poller) poll(ctx context.Context) {
	sources := p.registry.HealthCheckAll(ctx)

	report := Report{CheckedAt: time.Now().UTC(), CacheHealthy: true}
	enabledCount, healthyCount := 0, 0
	for _, s := range sources {
		report.Sources = append(report.Sources, SourceReport{
			Name:         s.Name,
			Type:         string(s.Type),
			Enabled:      s.Enabled,
			Healthy:      s.Health.Healthy,
			LatencyMS:    s.Health.Latency.Milliseconds(),
			Error:        s.Health.Error,
			BreakerState: s.Breaker.State.String(),
		})
		if !s.Enabled {
			continue
		}
		enabledCount++
		if s.Health.Healthy {
			healthyCount++
		}
		p.noteSourceTransition(s.Name, s.Health.Healthy)
		if p.metrics != nil {
			v := 0.0
			if s.Health.Healthy {
				v = 1.0
			}
			p.metrics.SourceHealthy.WithLabelValues(s.Name).Set(v)
		}
	}

	if p.cache != nil {
		report.CacheHealthy = p.cache.OverallHealthy()
		report.CacheStats = p.cache.Stats()
		p.noteCacheTransition(report.CacheHealthy)
		if !report.CacheHealthy {
			// Give the slow tier a reconnect chance each cycle.
			p.cache.ReconnectSlow(ctx)
		}
		if p.metrics != nil {
			p.metrics.CacheKeys.Set(float64(report.CacheStats.FastKeyCount))
			v := 0.0
			if report.CacheStats.SlowConnected {
				v = 1.0
			}
			p.metrics.SlowTierConnected.Set(v)
			for tag, stats := range report.CacheStats.PerTag {
				p.metrics.CacheHitRate.WithLabelValues(string(tag)).Set(stats.HitRate)
			}
		}
	}
	if p.ledger != nil {
		report.FeedbackLedger = p.ledger.Len()
	}

	switch {
	case enabledCount == 0:
		report.Status = StatusDegraded
	case healthyCount == 0:
		report.Status = StatusUnhealthy
	case healthyCount < enabledCount || !report.CacheHealthy:
		report.Status = StatusDegraded
	default:
		report.Status = StatusHealthy
	}

	p.mu.Lock()
	p.latest = report
	p.mu.Unlock()
}

func (p *Poller) noteSourceTransition(name string, healthy bool) {
	p.mu.Lock()
	prev, seen := p.wasHealthy[name]
	p.wasHealthy[name] = healthy
	p.mu.Unlock()

	if seen && prev != healthy {
		p.logger.Info("source health changed", "source", name, "healthy", healthy)
		p.publish(realtime.EventTypeSourceHealthChanged, map[string]interface{}{
			"source": name, "healthy": healthy,
		}, realtime.EventSourceHealthMonitor)
	}
}

func (p *Poller) noteCacheTransition(healthy bool) {
	p.mu.Lock()
	prev := p.cacheWasOK
	p.cacheWasOK = healthy
	p.mu.Unlock()

	if prev == healthy {
		return
	}
	eventType := realtime.EventTypeCacheDegraded
	if healthy {
		eventType = realtime.EventTypeCacheRecovered
	}
	p.logger.Warn("cache health changed", "healthy", healthy)
	p.publish(eventType, map[string]interface{}{"healthy": healthy}, realtime.EventSourceCache)
}

func (p *Poller) publish(eventType string, data map[string]interface{}, source string) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(*realtime.NewEvent(eventType, data, source)); err != nil {
		p.logger.Debug("failed to publish health event", "error", err)
	}
}
