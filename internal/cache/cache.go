package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager is the two-level cache: a fast in-process LRU tier and an
// optional slow (Redis) tier, composed according to Config.Strategy.
// Exactly one Manager exists per process; it is constructed at startup
// and passed to every component that needs caching.
type Manager struct {
	cfg    Config
	fast   *fastTier
	slow   *slowTier
	logger *slog.Logger

	writeGroup singleflight.Group // coalesces concurrent writers of one key

	countersMu sync.Mutex
	counters   map[ContentType]*tagCounters
}

// NewManager builds a Manager from cfg. If the slow tier is configured
// and reachable it participates per cfg.Strategy; if unreachable the
// Manager degrades to fast-only immediately and keeps retrying in the
// background.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		counters: make(map[ContentType]*tagCounters),
	}
	if cfg.usesFast() {
		m.fast = newFastTier(cfg.FastMaxKeys, cfg.Policies)
	}
	if cfg.usesSlow() {
		m.slow = newSlowTier(cfg, logger)
	}
	return m
}

func (m *Manager) counterFor(tag ContentType) *tagCounters {
	m.countersMu.Lock()
	defer m.countersMu.Unlock()
	c, ok := m.counters[tag]
	if !ok {
		c = &tagCounters{}
		m.counters[tag] = c
	}
	return c
}

// Get returns the raw bytes stored under (tag, id). The fast tier is
// consulted first; on a fast-miss with a slow-hit, the fast tier is
// repopulated before returning, within this same call.
func (m *Manager) Get(ctx context.Context, tag ContentType, id string) ([]byte, bool) {
	counter := m.counterFor(tag)

	if m.fast != nil {
		if v, ok := m.fast.get(tag, id); ok {
			counter.hits.Add(1)
			return v, true
		}
	}

	if m.slow != nil && m.slow.isConnected() {
		v, err := m.slow.get(ctx, tag, id)
		if err == nil {
			counter.hits.Add(1)
			if m.fast != nil {
				m.fast.set(tag, id, v)
			}
			return v, true
		}
		if err != ErrNotFound {
			go m.slow.reconnectLoop(context.Background())
		}
	} else if m.slow != nil {
		go m.slow.reconnectLoop(context.Background())
	}

	counter.misses.Add(1)
	return nil, false
}

// GetJSON is a convenience wrapper decoding the cached value into out.
func (m *Manager) GetJSON(ctx context.Context, tag ContentType, id string, out any) bool {
	raw, ok := m.Get(ctx, tag, id)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		m.logger.Warn("cache value failed to unmarshal, treating as miss", "content_type", tag, "error", err)
		return false
	}
	return true
}

// Set writes value under (tag, id) to every active tier. Concurrent
// writers of the same key are coalesced through a singleflight group so
// that no reader ever observes a value that is a mix of two writes; only
// the winning write of a coalesced group is actually performed.
func (m *Manager) Set(ctx context.Context, tag ContentType, id string, value []byte) error {
	groupKey := string(tag) + "|" + id
	_, err, _ := m.writeGroup.Do(groupKey, func() (any, error) {
		if m.fast != nil {
			m.fast.set(tag, id, value)
		}
		if m.slow != nil && m.slow.isConnected() {
			ttl := m.cfg.policyFor(tag).TTL
			if err := m.slow.set(ctx, tag, id, value, ttl); err != nil {
				go m.slow.reconnectLoop(context.Background())
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// SetJSON is a convenience wrapper encoding value as JSON before Set.
func (m *Manager) SetJSON(ctx context.Context, tag ContentType, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(ctx, tag, id, data)
}

// Delete removes (tag, id) from every active tier.
func (m *Manager) Delete(ctx context.Context, tag ContentType, id string) {
	if m.fast != nil {
		m.fast.delete(tag, id)
	}
	if m.slow != nil && m.slow.isConnected() {
		_ = m.slow.delete(ctx, tag, id)
	}
}

// Warmup preloads entries for content types flagged Warmup=true. loader
// is called once per (tag) asked to supply the entries to preload; it is
// the caller's responsibility to know what "known entries" means for its
// domain (e.g. every enabled runbook).
func (m *Manager) Warmup(ctx context.Context, loader func(tag ContentType) map[string][]byte) {
	for tag, policy := range m.cfg.Policies {
		if !policy.Warmup {
			continue
		}
		entries := loader(tag)
		for id, value := range entries {
			if err := m.Set(ctx, tag, id, value); err != nil {
				m.logger.Warn("cache warmup write failed", "content_type", tag, "id", id, "error", err)
			}
		}
	}
}

// Stats returns a point-in-time snapshot of hit/miss counters and tier
// health.
func (m *Manager) Stats() Stats {
	m.countersMu.Lock()
	perTag := make(map[ContentType]TagStats, len(m.counters))
	for tag, c := range m.counters {
		hits, misses := c.hits.Load(), c.misses.Load()
		total := hits + misses
		rate := 0.0
		if total > 0 {
			rate = float64(hits) / float64(total)
		}
		perTag[tag] = TagStats{Hits: hits, Misses: misses, HitRate: rate, TotalOps: total}
	}
	m.countersMu.Unlock()

	fastKeys := 0
	if m.fast != nil {
		fastKeys = m.fast.keyCount()
	}

	return Stats{
		PerTag:         perTag,
		FastKeyCount:   fastKeys,
		MemoryEstimate: int64(fastKeys) * 2048, // rough per-entry estimate
		SlowConnected:  m.slow != nil && m.slow.isConnected(),
	}
}

// OverallHealthy reports whether the cache as a whole is in a fully
// healthy state. A configured-but-disconnected slow tier makes the cache
// degraded (still serving, just not fully healthy) rather than unhealthy.
func (m *Manager) OverallHealthy() bool {
	if m.slow == nil {
		return true
	}
	return m.slow.isConnected()
}

// Close releases tier resources (the slow tier's connection pool).
func (m *Manager) Close() error {
	if m.slow != nil {
		return m.slow.close()
	}
	return nil
}

// ReconnectSlow forces an immediate reconnect attempt against the slow
// tier. Intended to be called from the health poller's cycle.
func (m *Manager) ReconnectSlow(ctx context.Context) {
	if m.slow != nil && !m.slow.isConnected() {
		m.slow.reconnectLoop(ctx)
	}
}
