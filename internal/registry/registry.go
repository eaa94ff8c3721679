// Package registry owns the lifetime of every source adapter and is the
// only component permitted to invoke one. It fans queries out to enabled
// adapters concurrently, wrapping each call in a per-call timeout, the
// source's circuit breaker, and the centralized retry policy.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/resilience"
)

type entry struct {
	adapter adapter.Adapter
	cfg     domain.SourceConfig
	order   int // creation order, for reverse shutdown
}

// Config tunes the registry's fan-out behavior.
type Config struct {
	// MaxConcurrency caps the number of adapter calls in flight across
	// one aggregate operation. Zero means "number of adapters".
	MaxConcurrency int

	// Breaker is applied to every circuit breaker the registry creates.
	Breaker resilience.Config

	// Credentials resolves each source's auth descriptor; handed to
	// every adapter the registry builds.
	Credentials adapter.CredentialSource
}

// Registry owns adapter lifecycle and fan-out. One instance per process,
// created at startup and passed to the tool layer.
type Registry struct {
	cfg       Config
	logger    *slog.Logger
	cbMetrics *resilience.Metrics

	mu        sync.RWMutex
	adapters  map[string]*entry
	breakers  map[string]*resilience.CircuitBreaker
	nextOrder int
}

// New creates an empty Registry.
func New(cfg Config, logger *slog.Logger, cbMetrics *resilience.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger.With("component", "registry"),
		cbMetrics: cbMetrics,
		adapters:  make(map[string]*entry),
		breakers:  make(map[string]*resilience.CircuitBreaker),
	}
}

// Register builds an adapter for cfg via the variant factory,
// initializes it, and adds it under cfg.Name. Registering an
// already-present name is an error; use Reload for config-driven
// replacement.
func (r *Registry) Register(ctx context.Context, cfg domain.SourceConfig) error {
	a, err := adapter.New(cfg, adapter.Dependencies{Logger: r.logger, Credentials: r.cfg.Credentials})
	if err != nil {
		return err
	}
	return r.RegisterAdapter(ctx, a, cfg)
}

// RegisterAdapter initializes and adds a pre-built adapter under
// cfg.Name.
func (r *Registry) RegisterAdapter(ctx context.Context, a adapter.Adapter, cfg domain.SourceConfig) error {
	r.mu.Lock()
	if _, exists := r.adapters[cfg.Name]; exists {
		r.mu.Unlock()
		return domain.NewError(domain.ErrKindValidation, fmt.Sprintf("source %q is already registered", cfg.Name))
	}
	r.mu.Unlock()

	if err := a.Initialize(ctx); err != nil {
		return domain.WrapError(domain.ErrKindFatal, cfg.Name, "adapter initialization failed", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[cfg.Name]; exists {
		return domain.NewError(domain.ErrKindValidation, fmt.Sprintf("source %q is already registered", cfg.Name))
	}
	r.adapters[cfg.Name] = &entry{adapter: a, cfg: cfg, order: r.nextOrder}
	r.nextOrder++
	r.logger.Info("source registered", "source", cfg.Name, "type", cfg.Type, "enabled", cfg.Enabled)
	return nil
}

// Unregister shuts the named adapter down and removes it.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	e, ok := r.adapters[name]
	if ok {
		delete(r.adapters, name)
		delete(r.breakers, name)
	}
	r.mu.Unlock()

	if !ok {
		return domain.ErrNotFound
	}
	if err := e.adapter.Shutdown(ctx); err != nil {
		r.logger.Warn("adapter shutdown failed", "source", name, "error", err)
		return err
	}
	r.logger.Info("source unregistered", "source", name)
	return nil
}

// Get returns the named adapter and its config, if the name is
// registered.
func (r *Registry) Get(name string) (adapter.Adapter, domain.SourceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.adapters[name]
	if !ok {
		return nil, domain.SourceConfig{}, false
	}
	return e.adapter, e.cfg, true
}

// All returns the configs of every registered source, in creation order.
func (r *Registry) All() []domain.SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SourceConfig, 0, len(r.adapters))
	for _, e := range r.sortedEntries() {
		out = append(out, e.cfg)
	}
	return out
}

// sortedEntries returns entries in creation order. Caller must hold r.mu.
func (r *Registry) sortedEntries() []*entry {
	out := make([]*entry, 0, len(r.adapters))
	for _, e := range r.adapters {
		out = append(out, e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].order > out[j].order; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SourceHealth is the health-check outcome for one source.
type SourceHealth struct {
	Name     string
	Type     domain.SourceType
	Enabled  bool
	Health   adapter.HealthResult
	Metadata adapter.Metadata
	Breaker  resilience.Stats
}

// HealthCheckAll polls every registered adapter concurrently and returns
// per-source health. Disabled sources are reported but not polled.
func (r *Registry) HealthCheckAll(ctx context.Context) []SourceHealth {
	r.mu.RLock()
	entries := r.sortedEntries()
	r.mu.RUnlock()

	out := make([]SourceHealth, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		out[i] = SourceHealth{Name: e.cfg.Name, Type: e.cfg.Type, Enabled: e.cfg.Enabled}
		if !e.cfg.Enabled {
			continue
		}
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout())
			defer cancel()

			health, err := e.adapter.HealthCheck(callCtx)
			if err != nil {
				health = adapter.HealthResult{Healthy: false, Error: err.Error()}
			}
			meta, err := e.adapter.Metadata(callCtx)
			if err != nil {
				r.logger.Debug("metadata call failed during health check", "source", e.cfg.Name, "error", err)
			}
			out[i].Health = health
			out[i].Metadata = meta
			out[i].Breaker = r.breakerFor(e.cfg.Name).Stats()
		}(i, e)
	}
	wg.Wait()
	return out
}

// RefreshAll asks every enabled adapter to refresh its index.
func (r *Registry) RefreshAll(ctx context.Context, force bool) {
	r.mu.RLock()
	entries := r.sortedEntries()
	r.mu.RUnlock()

	for _, e := range entries {
		if !e.cfg.Enabled {
			continue
		}
		if _, err := e.adapter.RefreshIndex(ctx, force); err != nil {
			r.logger.Warn("index refresh failed", "source", e.cfg.Name, "error", err)
		}
	}
}

// Reload diffs the currently registered sources against next: new names
// are registered, removed names are shut down, and changed configs are
// replaced (shutdown then re-register). Unchanged sources keep their
// adapter and circuit breaker untouched.
func (r *Registry) Reload(ctx context.Context, next []domain.SourceConfig) error {
	wanted := make(map[string]domain.SourceConfig, len(next))
	for _, cfg := range next {
		wanted[cfg.Name] = cfg
	}

	r.mu.RLock()
	current := make(map[string]domain.SourceConfig, len(r.adapters))
	for name, e := range r.adapters {
		current[name] = e.cfg
	}
	r.mu.RUnlock()

	var firstErr error
	for name := range current {
		if _, keep := wanted[name]; !keep {
			if err := r.Unregister(ctx, name); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	for name, cfg := range wanted {
		old, exists := current[name]
		switch {
		case !exists:
			if err := r.Register(ctx, cfg); err != nil && firstErr == nil {
				firstErr = err
			}
		case !sourceConfigEqual(old, cfg):
			if err := r.Unregister(ctx, name); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := r.Register(ctx, cfg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func sourceConfigEqual(a, b domain.SourceConfig) bool {
	if a.Name != b.Name || a.Type != b.Type || a.BaseURL != b.BaseURL ||
		a.RefreshInterval != b.RefreshInterval || a.Priority != b.Priority ||
		a.Enabled != b.Enabled || a.CallTimeout != b.CallTimeout || a.MaxRetries != b.MaxRetries {
		return false
	}
	if len(a.Paths) != len(b.Paths) {
		return false
	}
	for i := range a.Paths {
		if a.Paths[i] != b.Paths[i] {
			return false
		}
	}
	return true
}

// Shutdown stops every adapter in reverse creation order.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	entries := r.sortedEntries()
	r.adapters = make(map[string]*entry)
	r.breakers = make(map[string]*resilience.CircuitBreaker)
	r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.adapter.Shutdown(ctx); err != nil {
			r.logger.Warn("adapter shutdown failed", "source", e.cfg.Name, "error", err)
		}
	}
}

// breakerFor returns the source's circuit breaker, creating it lazily on
// first use.
func (r *Registry) breakerFor(name string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = resilience.New(name, r.cfg.Breaker, r.logger, r.cbMetrics)
		r.breakers[name] = cb
	}
	return cb
}

// BreakerStats returns a snapshot of every lazily-created breaker.
func (r *Registry) BreakerStats() map[string]resilience.Stats {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	breakers := make([]*resilience.CircuitBreaker, 0, len(names))
	for _, name := range names {
		breakers = append(breakers, r.breakers[name])
	}
	r.mu.RUnlock()

	out := make(map[string]resilience.Stats, len(names))
	for i, name := range names {
		out[name] = breakers[i].Stats()
	}
	return out
}

func (e *entry) callTimeout() time.Duration {
	if e.cfg.CallTimeout > 0 {
		return e.cfg.CallTimeout
	}
	return 10 * time.Second
}

// retryPolicy builds the per-source retry policy from its config.
func (r *Registry) retryPolicy(cfg domain.SourceConfig) *resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	p.MaxRetries = cfg.MaxRetries
	p.Logger = r.logger
	return p
}

// guardedCall runs op against one adapter under the full protection
// stack: retry policy outermost, then the circuit breaker, then the
// per-call timeout on each attempt. Retries only fire on transient
// failures; open-circuit rejections never consume retry budget.
func (r *Registry) guardedCall(ctx context.Context, e *entry, op func(context.Context) error) error {
	cb := r.breakerFor(e.cfg.Name)
	return resilience.WithRetry(ctx, r.retryPolicy(e.cfg), func(ctx context.Context) error {
		return cb.Call(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout())
			defer cancel()
			err := op(callCtx)
			if err != nil && callCtx.Err() == context.DeadlineExceeded {
				// A timed-out call counts as a transient failure.
				return domain.WrapError(domain.ErrKindSourceUnavailable, e.cfg.Name, "call timed out", callCtx.Err())
			}
			return err
		}, nil)
	})
}
