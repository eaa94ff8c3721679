package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/cache"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
)

// healthStub flips between healthy and unhealthy for transition tests.
type healthStub struct {
	name    string
	healthy bool
}

func (h *healthStub) Search(ctx context.Context, q string, f adapter.Filters) ([]domain.SearchResult, error) {
	return nil, nil
}
func (h *healthStub) SearchRunbooks(ctx context.Context, a string, s domain.Severity, sys []string, c map[string]string) ([]domain.RunbookScore, error) {
	return nil, nil
}
func (h *healthStub) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return domain.Document{}, domain.ErrNotFound
}
func (h *healthStub) HealthCheck(ctx context.Context) (adapter.HealthResult, error) {
	return adapter.HealthResult{Healthy: h.healthy}, nil
}
func (h *healthStub) Metadata(ctx context.Context) (adapter.Metadata, error) {
	return adapter.Metadata{Name: h.name}, nil
}
func (h *healthStub) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }
func (h *healthStub) Initialize(ctx context.Context) error                       { return nil }
func (h *healthStub) Shutdown(ctx context.Context) error                         { return nil }
func (h *healthStub) Name() string                                               { return h.name }

func pollerWith(t *testing.T, stubs ...*healthStub) *Poller {
	t.Helper()
	reg := registry.New(registry.Config{}, nil, nil)
	for _, s := range stubs {
		require.NoError(t, reg.RegisterAdapter(context.Background(), s,
			domain.SourceConfig{Name: s.name, Type: domain.SourceTypeFile, Enabled: true, CallTimeout: time.Second}))
	}
	mgr := cache.NewManager(cache.Config{Enabled: true, Strategy: cache.StrategyFastOnly, FastMaxKeys: 16}, nil)
	return NewPoller(reg, mgr, nil, nil, nil, time.Minute, nil)
}

func TestOverallHealthy(t *testing.T) {
	p := pollerWith(t, &healthStub{name: "a", healthy: true}, &healthStub{name: "b", healthy: true})
	report := p.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.CacheHealthy)
	require.Len(t, report.Sources, 2)
}

func TestDegradedWhenSomeUnhealthy(t *testing.T) {
	p := pollerWith(t, &healthStub{name: "a", healthy: true}, &healthStub{name: "b", healthy: false})
	report := p.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestUnhealthyWhenAllDown(t *testing.T) {
	p := pollerWith(t, &healthStub{name: "a", healthy: false})
	report := p.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestNoSourcesIsDegraded(t *testing.T) {
	p := pollerWith(t)
	report := p.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestHealthTransitionTracked(t *testing.T) {
	s := &healthStub{name: "a", healthy: true}
	p := pollerWith(t, s)

	report := p.Check(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)

	s.healthy = false
	report = p.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.False(t, report.Sources[0].Healthy)
}

func TestPerformanceTrackerPercentiles(t *testing.T) {
	tr := NewPerformanceTracker(nil)
	for i := 1; i <= 100; i++ {
		tr.Observe("search", time.Duration(i)*time.Millisecond, true)
	}
	tr.Observe("search", 500*time.Millisecond, false)

	snap := tr.Snapshot()
	stats, ok := snap.Operations["search"]
	require.True(t, ok)
	assert.Equal(t, int64(101), stats.Calls)
	assert.Equal(t, int64(100), stats.Successes)
	assert.Greater(t, stats.P95MS, 90.0)
	assert.GreaterOrEqual(t, stats.P99MS, stats.P95MS)
	assert.Greater(t, snap.UptimeSeconds, int64(-1))
	assert.NotZero(t, snap.MemoryBytes)
}
