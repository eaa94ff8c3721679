package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/resilience"
)

// fakeAdapter is a scriptable in-memory Adapter used to exercise the
// registry's fan-out and failure handling without touching real sources.
type fakeAdapter struct {
	name      string
	results   []domain.SearchResult
	scores    []domain.RunbookScore
	documents map[string]domain.Document
	searchErr error
	calls     atomic.Int64
	shutdowns atomic.Int64
}

func (f *fakeAdapter) Search(ctx context.Context, query string, filters adapter.Filters) ([]domain.SearchResult, error) {
	f.calls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, systems []string, qctx map[string]string) ([]domain.RunbookScore, error) {
	f.calls.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.scores, nil
}

func (f *fakeAdapter) GetDocument(ctx context.Context, localID string) (domain.Document, error) {
	if doc, ok := f.documents[localID]; ok {
		return doc, nil
	}
	return domain.Document{}, domain.ErrNotFound
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) (adapter.HealthResult, error) {
	return adapter.HealthResult{Healthy: true}, nil
}

func (f *fakeAdapter) Metadata(ctx context.Context) (adapter.Metadata, error) {
	return adapter.Metadata{Name: f.name, Type: domain.SourceTypeFile}, nil
}

func (f *fakeAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }
func (f *fakeAdapter) Initialize(ctx context.Context) error                       { return nil }
func (f *fakeAdapter) Shutdown(ctx context.Context) error {
	f.shutdowns.Add(1)
	return nil
}
func (f *fakeAdapter) Name() string { return f.name }

// registerFake injects a pre-built adapter, bypassing the factory.
func registerFake(r *Registry, fa *fakeAdapter, cfg domain.SourceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[cfg.Name] = &entry{adapter: fa, cfg: cfg, order: r.nextOrder}
	r.nextOrder++
}

func fakeCfg(name string, priority int) domain.SourceConfig {
	return domain.SourceConfig{
		Name:        name,
		Type:        domain.SourceTypeFile,
		Enabled:     true,
		Priority:    priority,
		CallTimeout: time.Second,
		MaxRetries:  0,
	}
}

func result(source, localID string, confidence float64, updated time.Time) domain.SearchResult {
	return domain.SearchResult{
		ID:          source + ":" + localID,
		Title:       localID,
		SourceName:  source,
		SourceType:  domain.SourceTypeFile,
		Confidence:  confidence,
		LastUpdated: updated,
	}
}

func TestAggregateSearchEmptyRegistry(t *testing.T) {
	r := New(Config{}, nil, nil)
	outcome, err := r.AggregateSearch(context.Background(), "disk", adapter.Filters{}, 0)
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, outcome.FailedSources)
}

func TestAggregateSearchMergesAndSorts(t *testing.T) {
	r := New(Config{}, nil, nil)
	now := time.Now()

	a := &fakeAdapter{name: "a", results: []domain.SearchResult{
		result("a", "doc1", 0.9, now),
		result("a", "doc2", 0.5, now),
	}}
	b := &fakeAdapter{name: "b", results: []domain.SearchResult{
		result("b", "doc3", 0.7, now),
	}}
	registerFake(r, a, fakeCfg("a", 1))
	registerFake(r, b, fakeCfg("b", 2))

	outcome, err := r.AggregateSearch(context.Background(), "disk", adapter.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, "a:doc1", outcome.Results[0].ID)
	assert.Equal(t, "b:doc3", outcome.Results[1].ID)
	assert.Equal(t, "a:doc2", outcome.Results[2].ID)
}

func TestAggregateSearchPriorityTieBreak(t *testing.T) {
	r := New(Config{}, nil, nil)
	now := time.Now()

	low := &fakeAdapter{name: "preferred", results: []domain.SearchResult{result("preferred", "x", 0.8, now)}}
	high := &fakeAdapter{name: "fallback", results: []domain.SearchResult{result("fallback", "y", 0.8, now)}}
	// Register the higher-priority-number source first to prove ordering
	// comes from priority, not registration order.
	registerFake(r, high, fakeCfg("fallback", 9))
	registerFake(r, low, fakeCfg("preferred", 1))

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "preferred", outcome.Results[0].SourceName)
	assert.Equal(t, "fallback", outcome.Results[1].SourceName)
}

func TestAggregateSearchDedupesKeepingHigherConfidence(t *testing.T) {
	r := New(Config{}, nil, nil)
	now := time.Now()

	a := &fakeAdapter{name: "a", results: []domain.SearchResult{result("a", "same", 0.6, now)}}
	b := &fakeAdapter{name: "b", results: []domain.SearchResult{result("b", "same", 0.9, now)}}
	registerFake(r, a, fakeCfg("a", 1))
	registerFake(r, b, fakeCfg("b", 2))

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, 0.9, outcome.Results[0].Confidence)
	assert.Equal(t, "b", outcome.Results[0].SourceName)
}

func TestAggregateSearchPartialFailure(t *testing.T) {
	r := New(Config{}, nil, nil)
	now := time.Now()

	ok := &fakeAdapter{name: "ok", results: []domain.SearchResult{result("ok", "doc", 0.8, now)}}
	failing := &fakeAdapter{name: "bad", searchErr: domain.WrapError(domain.ErrKindSourceUnavailable, "bad", "timeout", nil)}
	registerFake(r, ok, fakeCfg("ok", 1))
	registerFake(r, failing, fakeCfg("bad", 2))

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	require.Len(t, outcome.FailedSources, 1)
	assert.Equal(t, "bad", outcome.FailedSources[0].Name)
	assert.Equal(t, domain.ErrKindSourceUnavailable, outcome.FailedSources[0].Reason)
}

func TestAggregateSearchAllTransientFailuresIsNotAnError(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := &fakeAdapter{name: "a", searchErr: domain.WrapError(domain.ErrKindSourceUnavailable, "a", "timeout", nil)}
	b := &fakeAdapter{name: "b", searchErr: domain.WrapError(domain.ErrKindSourceUnavailable, "b", "timeout", nil)}
	registerFake(r, a, fakeCfg("a", 1))
	registerFake(r, b, fakeCfg("b", 2))

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
	assert.Len(t, outcome.FailedSources, 2)
}

func TestAggregateSearchAllPermanentFailuresIsAnError(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := &fakeAdapter{name: "a", searchErr: domain.WrapError(domain.ErrKindSourceError, "a", "forbidden", nil)}
	registerFake(r, a, fakeCfg("a", 1))

	_, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindSourceError, kind)
}

func TestAggregateSearchSkipsDisabledAndTypeFiltered(t *testing.T) {
	r := New(Config{}, nil, nil)
	now := time.Now()

	disabled := &fakeAdapter{name: "off", results: []domain.SearchResult{result("off", "d", 0.9, now)}}
	cfgOff := fakeCfg("off", 1)
	cfgOff.Enabled = false
	registerFake(r, disabled, cfgOff)

	web := &fakeAdapter{name: "web", results: []domain.SearchResult{result("web", "w", 0.9, now)}}
	cfgWeb := fakeCfg("web", 1)
	cfgWeb.Type = domain.SourceTypeWeb
	registerFake(r, web, cfgWeb)

	outcome, err := r.AggregateSearch(context.Background(), "q",
		adapter.Filters{SourceTypes: []domain.SourceType{domain.SourceTypeFile}}, 0)
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
	assert.Zero(t, disabled.calls.Load())
	assert.Zero(t, web.calls.Load())
}

func TestAggregateSearchLimitClamped(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := &fakeAdapter{name: "a"}
	registerFake(r, a, fakeCfg("a", 1))

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, MaxLimit+50)
	require.NoError(t, err)
	assert.True(t, outcome.LimitClamped)
}

func TestCircuitOpenSourceReportedAndSkipped(t *testing.T) {
	r := New(Config{Breaker: resilience.Config{FailureThreshold: 1, Cooldown: time.Hour}}, nil, nil)
	now := time.Now()

	ok := &fakeAdapter{name: "ok", results: []domain.SearchResult{result("ok", "doc", 0.8, now)}}
	failing := &fakeAdapter{name: "bad", searchErr: domain.WrapError(domain.ErrKindSourceError, "bad", "forbidden", nil)}
	registerFake(r, ok, fakeCfg("ok", 1))
	registerFake(r, failing, fakeCfg("bad", 2))

	// First call trips bad's breaker.
	_, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	badCalls := failing.calls.Load()

	outcome, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 1)
	require.Len(t, outcome.FailedSources, 1)
	assert.Equal(t, domain.ErrKindCircuitOpen, outcome.FailedSources[0].Reason)
	assert.Equal(t, badCalls, failing.calls.Load(), "open circuit must not contact the source")
}

func TestRetryOnTransientFailure(t *testing.T) {
	r := New(Config{}, nil, nil)

	failing := &fakeAdapter{name: "flaky", searchErr: domain.WrapError(domain.ErrKindSourceUnavailable, "flaky", "timeout", nil)}
	cfg := fakeCfg("flaky", 1)
	cfg.MaxRetries = 2
	registerFake(r, failing, cfg)

	_, err := r.AggregateSearch(context.Background(), "q", adapter.Filters{}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), failing.calls.Load(), "1 initial + 2 retries")
}

func TestGetDocumentRoundTrip(t *testing.T) {
	r := New(Config{}, nil, nil)
	doc := domain.Document{SourceName: "a", SourceLocalID: "rb-1", Title: "Disk runbook"}
	a := &fakeAdapter{name: "a", documents: map[string]domain.Document{"rb-1": doc}}
	registerFake(r, a, fakeCfg("a", 1))

	got, err := r.GetDocument(context.Background(), "a:rb-1")
	require.NoError(t, err)
	assert.Equal(t, "Disk runbook", got.Title)

	_, err = r.GetDocument(context.Background(), "a:missing")
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindNotFound, kind)

	_, err = r.GetDocument(context.Background(), "no-colon")
	kind, ok = domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindValidation, kind)
}

func TestSplitEngineID(t *testing.T) {
	tests := []struct {
		in         string
		source, id string
		ok         bool
	}{
		{"files:runbook-1", "files", "runbook-1", true},
		{`files:path\:with\:colons`, "files", `path\:with\:colons`, true},
		{"no-colon", "", "", false},
		{":leading", "", "", false},
		{"trailing:", "", "", false},
	}
	for _, tt := range tests {
		source, id, ok := SplitEngineID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.source, source, tt.in)
		assert.Equal(t, tt.id, id, tt.in)
	}
}

func TestShutdownStopsEveryAdapter(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}
	registerFake(r, a, fakeCfg("a", 1))
	registerFake(r, b, fakeCfg("b", 2))

	r.Shutdown(context.Background())
	assert.Equal(t, int64(1), a.shutdowns.Load())
	assert.Equal(t, int64(1), b.shutdowns.Load())
	assert.Empty(t, r.All())
}

func TestHealthCheckAll(t *testing.T) {
	r := New(Config{}, nil, nil)
	a := &fakeAdapter{name: "a"}
	registerFake(r, a, fakeCfg("a", 1))

	health := r.HealthCheckAll(context.Background())
	require.Len(t, health, 1)
	assert.Equal(t, "a", health[0].Name)
	assert.True(t, health[0].Health.Healthy)
}
