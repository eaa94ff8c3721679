package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/resilience"
)

const (
	// DefaultLimit is the merged-result truncation applied when the
	// caller supplies none.
	DefaultLimit = 10

	// MaxLimit caps any caller-supplied limit.
	MaxLimit = 100
)

// SourceFailure records one source that could not contribute to an
// aggregate call, with a stable reason code from the error taxonomy.
type SourceFailure struct {
	Name   string
	Reason domain.ErrorKind
}

// SearchOutcome is the merged result of one aggregate search.
type SearchOutcome struct {
	Results       []domain.SearchResult
	FailedSources []SourceFailure
	LimitClamped  bool
}

// RunbookOutcome is the merged result of one aggregate runbook search.
type RunbookOutcome struct {
	Scores        []domain.RunbookScore
	FailedSources []SourceFailure
}

// AggregateSearch fans query out to every enabled, type-eligible adapter
// concurrently, merges the per-source results, deduplicates, sorts, and
// truncates to limit. Partial failure keeps partial results; the call as
// a whole errors only when no adapter returned usable results and at
// least one failed permanently.
func (r *Registry) AggregateSearch(ctx context.Context, query string, filters adapter.Filters, limit int) (SearchOutcome, error) {
	limit, clamped := clampLimit(limit)
	filters = filters.Normalized()

	entries := r.eligibleEntries(filters)
	if len(entries) == 0 {
		return SearchOutcome{Results: []domain.SearchResult{}, LimitClamped: clamped}, nil
	}

	type sourceResult struct {
		entry   *entry
		results []domain.SearchResult
		err     error
	}

	results := make([]sourceResult, len(entries))
	sem := r.semaphore(len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var found []domain.SearchResult
			err := r.guardedCall(ctx, e, func(ctx context.Context) error {
				var callErr error
				found, callErr = e.adapter.Search(ctx, query, filters)
				return callErr
			})
			results[i] = sourceResult{entry: e, results: found, err: err}
		}(i, e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled mid-flight: partial results are discarded.
		return SearchOutcome{}, err
	}

	outcome := SearchOutcome{LimitClamped: clamped}
	var merged []domain.SearchResult
	priorities := make(map[string]int)
	anyOK, anyPermanent := false, false

	for _, sr := range results {
		priorities[sr.entry.cfg.Name] = sr.entry.cfg.Priority
		if sr.err != nil {
			outcome.FailedSources = append(outcome.FailedSources, failureFor(sr.entry.cfg.Name, sr.err))
			if kind, ok := domain.KindOf(sr.err); ok && kind == domain.ErrKindSourceError {
				anyPermanent = true
			}
			continue
		}
		anyOK = true
		merged = append(merged, sr.results...)
	}

	if !anyOK && anyPermanent {
		return outcome, domain.NewError(domain.ErrKindSourceError, "all sources failed permanently")
	}

	merged = dedupeResults(merged)
	sortMerged(merged, priorities)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []domain.SearchResult{}
	}
	outcome.Results = merged
	return outcome, nil
}

// AggregateRunbookSearch fans a runbook search out to every enabled
// adapter and merges the scored candidates under the same partial-failure
// rules as AggregateSearch.
func (r *Registry) AggregateRunbookSearch(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string, limit int) (RunbookOutcome, error) {
	limit, _ = clampLimit(limit)

	entries := r.eligibleEntries(adapter.Filters{})
	if len(entries) == 0 {
		return RunbookOutcome{Scores: []domain.RunbookScore{}}, nil
	}

	type sourceResult struct {
		entry  *entry
		scores []domain.RunbookScore
		err    error
	}

	results := make([]sourceResult, len(entries))
	sem := r.semaphore(len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var scores []domain.RunbookScore
			err := r.guardedCall(ctx, e, func(ctx context.Context) error {
				var callErr error
				scores, callErr = e.adapter.SearchRunbooks(ctx, alertType, severity, affectedSystems, queryContext)
				return callErr
			})
			results[i] = sourceResult{entry: e, scores: scores, err: err}
		}(i, e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return RunbookOutcome{}, err
	}

	outcome := RunbookOutcome{}
	var merged []domain.RunbookScore
	priorities := make(map[string]int)
	anyOK, anyPermanent := false, false

	for _, sr := range results {
		priorities[sr.entry.cfg.Name] = sr.entry.cfg.Priority
		if sr.err != nil {
			outcome.FailedSources = append(outcome.FailedSources, failureFor(sr.entry.cfg.Name, sr.err))
			if kind, ok := domain.KindOf(sr.err); ok && kind == domain.ErrKindSourceError {
				anyPermanent = true
			}
			continue
		}
		anyOK = true
		merged = append(merged, sr.scores...)
	}

	if !anyOK && anyPermanent {
		return outcome, domain.NewError(domain.ErrKindSourceError, "all sources failed permanently")
	}

	merged = dedupeScores(merged)
	sortScores(merged, priorities)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []domain.RunbookScore{}
	}
	outcome.Scores = merged
	return outcome, nil
}

// GetDocument resolves an engine-wide id "<source-name>:<local-id>"
// through the owning adapter, guarded like any other call.
func (r *Registry) GetDocument(ctx context.Context, engineID string) (domain.Document, error) {
	sourceName, localID, ok := SplitEngineID(engineID)
	if !ok {
		return domain.Document{}, domain.NewError(domain.ErrKindValidation, "document id must be <source-name>:<source-local-id>")
	}

	r.mu.RLock()
	e, found := r.adapters[sourceName]
	r.mu.RUnlock()
	if !found {
		return domain.Document{}, domain.ErrNotFound
	}

	var doc domain.Document
	err := r.guardedCall(ctx, e, func(ctx context.Context) error {
		var callErr error
		doc, callErr = e.adapter.GetDocument(ctx, localID)
		return callErr
	})
	return doc, err
}

// SplitEngineID splits "<source-name>:<escaped-local-id>" at the first
// unescaped colon.
func SplitEngineID(engineID string) (sourceName, localID string, ok bool) {
	for i := 0; i < len(engineID); i++ {
		if engineID[i] == '\\' {
			i++
			continue
		}
		if engineID[i] == ':' {
			if i == 0 || i == len(engineID)-1 {
				return "", "", false
			}
			return engineID[:i], engineID[i+1:], true
		}
	}
	return "", "", false
}

// eligibleEntries returns the enabled adapters passing the filter's
// source-type restriction, in creation order. The snapshot is taken once
// at call start: adapters registered mid-request are not consulted.
func (r *Registry) eligibleEntries(filters adapter.Filters) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entry
	for _, e := range r.sortedEntries() {
		if !e.cfg.Enabled {
			continue
		}
		if len(filters.SourceTypes) > 0 && !containsType(filters.SourceTypes, e.cfg.Type) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsType(list []domain.SourceType, want domain.SourceType) bool {
	for _, t := range list {
		if t == want {
			return true
		}
	}
	return false
}

func (r *Registry) semaphore(adapterCount int) chan struct{} {
	n := r.cfg.MaxConcurrency
	if n <= 0 {
		n = adapterCount
	}
	return make(chan struct{}, n)
}

func clampLimit(limit int) (int, bool) {
	if limit <= 0 {
		return DefaultLimit, false
	}
	if limit > MaxLimit {
		return MaxLimit, true
	}
	return limit, false
}

func failureFor(name string, err error) SourceFailure {
	if errors.Is(err, resilience.ErrOpen) {
		return SourceFailure{Name: name, Reason: domain.ErrKindCircuitOpen}
	}
	kind, ok := domain.KindOf(err)
	if !ok {
		kind = domain.ErrKindSourceUnavailable
	}
	return SourceFailure{Name: name, Reason: kind}
}

// dedupeResults collapses duplicates sharing (source-type, local-id),
// keeping the higher-confidence copy; ties keep the more recently
// updated one.
func dedupeResults(results []domain.SearchResult) []domain.SearchResult {
	type dupKey struct {
		sourceType domain.SourceType
		localID    string
	}
	best := make(map[dupKey]int, len(results))
	var out []domain.SearchResult
	for _, res := range results {
		_, localID, ok := SplitEngineID(res.ID)
		if !ok {
			localID = res.ID
		}
		key := dupKey{sourceType: res.SourceType, localID: localID}
		if i, seen := best[key]; seen {
			keep := out[i]
			if res.Confidence > keep.Confidence ||
				(res.Confidence == keep.Confidence && res.LastUpdated.After(keep.LastUpdated)) {
				out[i] = res
			}
			continue
		}
		best[key] = len(out)
		out = append(out, res)
	}
	return out
}

func dedupeScores(scores []domain.RunbookScore) []domain.RunbookScore {
	type dupKey struct {
		sourceType domain.SourceType
		localID    string
	}
	best := make(map[dupKey]int, len(scores))
	var out []domain.RunbookScore
	for _, s := range scores {
		key := dupKey{sourceType: sourceTypeOfScore(s), localID: s.Runbook.SourceLocalID}
		if i, seen := best[key]; seen {
			keep := out[i]
			if s.Confidence > keep.Confidence ||
				(s.Confidence == keep.Confidence && s.Runbook.LastUpdated.After(keep.Runbook.LastUpdated)) {
				out[i] = s
			}
			continue
		}
		best[key] = len(out)
		out = append(out, s)
	}
	return out
}

func sourceTypeOfScore(s domain.RunbookScore) domain.SourceType {
	if t, ok := s.Runbook.Metadata["source_type"]; ok {
		return domain.SourceType(t)
	}
	return domain.SourceTypeOther
}

// sortMerged orders by descending confidence, then ascending source
// priority (lower number preferred), then descending last-updated.
func sortMerged(results []domain.SearchResult, priorities map[string]int) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		pi, pj := priorities[results[i].SourceName], priorities[results[j].SourceName]
		if pi != pj {
			return pi < pj
		}
		return results[i].LastUpdated.After(results[j].LastUpdated)
	})
}

func sortScores(scores []domain.RunbookScore, priorities map[string]int) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		pi, pj := priorities[scores[i].Runbook.SourceName], priorities[scores[j].Runbook.SourceName]
		if pi != pj {
			return pi < pj
		}
		return scores[i].Runbook.LastUpdated.After(scores[j].Runbook.LastUpdated)
	})
}
