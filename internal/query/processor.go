package query

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// Request is the processor's input: the free-text query plus the alert
// signature and context the caller already knows.
type Request struct {
	Query           string
	AlertType       string
	Severity        domain.Severity
	AffectedSystems []string
	Context         map[string]string
}

// Result is the processor's output, consumed by strategy-aware callers
// in the tool layer.
type Result struct {
	Intents  []IntentResult
	Enriched EnrichedContext
	Strategy Strategy

	// Degraded is set when the pipeline hit an internal failure and the
	// balanced fallback was substituted. A latency overrun alone does not
	// set it.
	Degraded bool
}

// ProcessorConfig tunes the pipeline.
type ProcessorConfig struct {
	Classifier ClassifierConfig

	// TargetLatency is the end-to-end pipeline target. On overrun the
	// processor logs a warning but still returns its computed result.
	TargetLatency time.Duration

	// MemoSize bounds the memoization map.
	MemoSize int
}

// DefaultProcessorConfig returns the engine defaults: 50ms target,
// threshold 0.8, single-intent mode.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Classifier:    DefaultClassifierConfig(),
		TargetLatency: 50 * time.Millisecond,
		MemoSize:      1024,
	}
}

// Processor runs the enrichment pipeline. Pure and in-memory, so the
// API is synchronous; the memo map is the only shared state.
type Processor struct {
	cfg    ProcessorConfig
	flows  []IncidentFlow
	org    OrgContext
	logger *slog.Logger

	mu   sync.Mutex
	memo map[string]Result
}

// NewProcessor builds a Processor with the given flow catalogue and
// organizational context. Nil flows take the default catalogue.
func NewProcessor(cfg ProcessorConfig, flows []IncidentFlow, org OrgContext, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if flows == nil {
		flows = DefaultFlowCatalogue()
	}
	if cfg.TargetLatency <= 0 {
		cfg.TargetLatency = 50 * time.Millisecond
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = 1024
	}
	return &Processor{
		cfg:    cfg,
		flows:  flows,
		org:    org,
		logger: logger.With("component", "query_processor"),
		memo:   make(map[string]Result),
	}
}

// Process runs the full pipeline: classify, predict, select. Output is
// memoized by (normalized query, context hash). Any internal panic is
// converted to the balanced fallback so the request can proceed.
func (p *Processor) Process(req Request) (result Result) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("query pipeline failed, using fallback", "panic", r)
			result = fallbackResult()
		}
		if elapsed := time.Since(start); elapsed > p.cfg.TargetLatency {
			p.logger.Warn("query pipeline exceeded latency target",
				"elapsed", elapsed, "target", p.cfg.TargetLatency)
		}
	}()

	key := p.memoKey(req)
	p.mu.Lock()
	if cached, ok := p.memo[key]; ok {
		p.mu.Unlock()
		return cached
	}
	p.mu.Unlock()

	intents := ClassifyIntent(req.Query, req.Context, p.cfg.Classifier)
	enriched := PredictContext(req.Query, req.AlertType, req.Severity, req.AffectedSystems, p.flows, p.org)
	strategy := SelectStrategy(intents[0].Intent, enriched)

	result = Result{Intents: intents, Enriched: enriched, Strategy: strategy}

	p.mu.Lock()
	if len(p.memo) >= p.cfg.MemoSize {
		// Bounded memo: drop everything rather than track recency for a
		// cache whose entries are this cheap to recompute.
		p.memo = make(map[string]Result)
	}
	p.memo[key] = result
	p.mu.Unlock()

	return result
}

// memoKey is (normalized-query, context-hash).
func (p *Processor) memoKey(req Request) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")

	h := sha256.New()
	h.Write([]byte(req.AlertType))
	h.Write([]byte{0})
	h.Write([]byte(req.Severity))
	h.Write([]byte{0})
	systems := append([]string(nil), req.AffectedSystems...)
	sort.Strings(systems)
	for _, s := range systems {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{1})
		h.Write([]byte(req.Context[k]))
		h.Write([]byte{0})
	}

	return normalized + "|" + hex.EncodeToString(h.Sum(nil)[:16])
}

func fallbackResult() Result {
	return Result{
		Intents:  []IntentResult{{Intent: IntentGeneralSearch, Confidence: 0.5}},
		Strategy: BalancedStrategy(),
		Degraded: true,
	}
}
