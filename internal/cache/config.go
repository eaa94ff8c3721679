// Package cache implements the engine's two-level, content-type-aware
// cache: a fast in-process tier (LRU with TTL) and an optional slow tier
// (Redis).
package cache

import "time"

// ContentType is the closed set of cache-key tags. Each tag carries its
// own default TTL and warmup flag.
type ContentType string

const (
	ContentRunbooks      ContentType = "runbooks"
	ContentProcedures    ContentType = "procedures"
	ContentDecisionTrees ContentType = "decision-trees"
	ContentKnowledgeBase ContentType = "knowledge-base"
	ContentWebResponse   ContentType = "web-response"
)

// Valid reports whether c is one of the closed set of content types.
func (c ContentType) Valid() bool {
	switch c {
	case ContentRunbooks, ContentProcedures, ContentDecisionTrees, ContentKnowledgeBase, ContentWebResponse:
		return true
	}
	return false
}

// Policy describes the TTL and warmup behavior for one content type.
type Policy struct {
	TTL    time.Duration
	Warmup bool
}

// DefaultPolicies returns the engine's built-in per-content-type policy
// table. Runbooks and decision trees change rarely and warm up at
// startup; web responses are the most volatile and are never warmed.
func DefaultPolicies() map[ContentType]Policy {
	return map[ContentType]Policy{
		ContentRunbooks:      {TTL: 15 * time.Minute, Warmup: true},
		ContentProcedures:    {TTL: 15 * time.Minute, Warmup: true},
		ContentDecisionTrees: {TTL: 30 * time.Minute, Warmup: true},
		ContentKnowledgeBase: {TTL: 5 * time.Minute, Warmup: false},
		ContentWebResponse:   {TTL: 1 * time.Minute, Warmup: false},
	}
}

// Strategy selects which tiers are active.
type Strategy string

const (
	StrategyFastOnly Strategy = "memory-only"
	StrategySlowOnly Strategy = "redis-only"
	StrategyHybrid   Strategy = "hybrid"
)

// Config configures the two-level cache.
type Config struct {
	Enabled  bool
	Strategy Strategy

	// Fast tier (in-process LRU).
	FastMaxKeys int

	// Slow tier (Redis), optional.
	SlowAddr     string
	SlowPassword string
	SlowDB       int
	SlowPoolSize int
	KeyPrefix    string

	Policies map[ContentType]Policy
}

// DefaultConfig returns the engine's default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Strategy:     StrategyHybrid,
		FastMaxKeys:  10_000,
		SlowAddr:     "localhost:6379",
		SlowPoolSize: 20,
		KeyPrefix:    "runbook-engine:",
		Policies:     DefaultPolicies(),
	}
}

func (c Config) policyFor(tag ContentType) Policy {
	if p, ok := c.Policies[tag]; ok {
		return p
	}
	return Policy{TTL: 5 * time.Minute}
}

func (c Config) usesFast() bool {
	return c.Strategy == StrategyFastOnly || c.Strategy == StrategyHybrid
}

func (c Config) usesSlow() bool {
	return c.Strategy == StrategySlowOnly || c.Strategy == StrategyHybrid
}
