package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/cache"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/query"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
)

// Meta is the common result metadata every operation returns alongside
// its payload.
type Meta struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	RetrievalMS int64     `json:"retrieval_time_ms"`
	Timestamp   time.Time `json:"timestamp"`
	Cached      bool      `json:"cached"`
}

// Tools wires the seven operations over the registry, the cache, the
// query processor, the feedback ledger, and the escalation catalogue.
// One instance per process; both request surfaces share it.
type Tools struct {
	registry   *registry.Registry
	cache      *cache.Manager
	processor  *query.Processor
	ledger     *FeedbackLedger
	escalation *EscalationCatalogue
	logger     *slog.Logger

	// Runbooks pass through here on every search so identity-keyed
	// operations (get-decision-tree, get-procedure, single-runbook
	// retrieval) can resolve without another fan-out.
	storeMu sync.RWMutex
	store   map[string]domain.RunbookScore
}

// New builds the tool layer. ledger and escalation may be nil, in which
// case defaults are used.
func New(reg *registry.Registry, cacheManager *cache.Manager, processor *query.Processor, ledger *FeedbackLedger, escalation *EscalationCatalogue, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewFeedbackLedger(0)
	}
	if escalation == nil {
		escalation = NewEscalationCatalogue(nil)
	}
	return &Tools{
		registry:   reg,
		cache:      cacheManager,
		processor:  processor,
		ledger:     ledger,
		escalation: escalation,
		logger:     logger.With("component", "tools"),
		store:      make(map[string]domain.RunbookScore),
	}
}

// Ledger exposes the feedback ledger (the health snapshot reports its size).
func (t *Tools) Ledger() *FeedbackLedger { return t.ledger }

func meta(start time.Time, cached bool) Meta {
	return Meta{
		Success:     true,
		RetrievalMS: time.Since(start).Milliseconds(),
		Timestamp:   time.Now().UTC(),
		Cached:      cached,
	}
}

// ---- search-runbooks ----

// SearchRunbooksInput is the alert signature driving a runbook search.
type SearchRunbooksInput struct {
	AlertType       string            `json:"alert_type" validate:"required"`
	Severity        string            `json:"severity" validate:"required"`
	AffectedSystems []string          `json:"affected_systems" validate:"required"`
	Context         map[string]string `json:"context,omitempty"`
	Limit           int               `json:"limit,omitempty"`
}

// SearchRunbooksPayload is the search-runbooks operation payload.
type SearchRunbooksPayload struct {
	Runbooks         []RunbookView      `json:"runbooks"`
	ConfidenceScores []float64          `json:"confidence_scores"`
	SourcesFailed    []SourceFailure    `json:"sources_failed,omitempty"`
	Intent           string             `json:"intent,omitempty"`
	FlowID           string             `json:"matched_flow,omitempty"`
	LimitClamped     bool               `json:"limit_clamped,omitempty"`
}

// SourceFailure mirrors the registry's failure annotation in JSON form.
type SourceFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// SearchRunbooks finds runbooks matching an alert signature. Results are
// cached per signature fingerprint under the runbooks content type; a
// repeat call within the TTL returns a byte-identical payload.
func (t *Tools) SearchRunbooks(ctx context.Context, in SearchRunbooksInput) (SearchRunbooksPayload, Meta, error) {
	start := time.Now()
	severity := domain.Severity(in.Severity)
	if !severity.Valid() {
		return SearchRunbooksPayload{}, Meta{}, domain.NewError(domain.ErrKindValidation, "severity must be one of info, low, medium, high, critical")
	}

	key := "search:" + fingerprint(in.AlertType, in.Severity, in.AffectedSystems, in.Context, in.Limit)
	var cached SearchRunbooksPayload
	if t.cache != nil && t.cache.GetJSON(ctx, cache.ContentRunbooks, key, &cached) {
		return cached, meta(start, true), nil
	}

	processed := t.processor.Process(query.Request{
		Query:           in.AlertType + " " + strings.Join(in.AffectedSystems, " "),
		AlertType:       in.AlertType,
		Severity:        severity,
		AffectedSystems: in.AffectedSystems,
		Context:         in.Context,
	})

	limit := in.Limit
	if limit <= 0 {
		limit = processed.Strategy.ResultLimit
	}
	outcome, err := t.registry.AggregateRunbookSearch(ctx, in.AlertType, severity, in.AffectedSystems, in.Context, limit)
	if err != nil {
		return SearchRunbooksPayload{}, Meta{}, err
	}

	payload := SearchRunbooksPayload{
		Runbooks:         make([]RunbookView, 0, len(outcome.Scores)),
		ConfidenceScores: make([]float64, 0, len(outcome.Scores)),
		SourcesFailed:    failures(outcome.FailedSources),
		Intent:           string(processed.Intents[0].Intent),
		FlowID:           processed.Enriched.FlowID,
	}
	for _, score := range outcome.Scores {
		t.remember(score)
		payload.Runbooks = append(payload.Runbooks, t.withRollup(runbookView(score)))
		payload.ConfidenceScores = append(payload.ConfidenceScores, score.Confidence)
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cache.ContentRunbooks, key, payload); err != nil {
			t.logger.Warn("failed to cache runbook search", "error", err)
		}
	}
	return payload, meta(start, false), nil
}

// ---- get-decision-tree ----

// DecisionTreePayload is the get-decision-tree operation payload.
type DecisionTreePayload struct {
	RunbookID      string           `json:"runbook_id"`
	DecisionTree   DecisionTreeView `json:"decision_tree"`
	Confidence     float64          `json:"confidence"`
	ContextApplied bool             `json:"context_applied"`
}

// GetDecisionTree returns the decision tree embedded in a runbook. When
// a scenario is supplied, branches are reordered so those whose
// condition mentions the scenario come first, and the context-applied
// flag is set.
func (t *Tools) GetDecisionTree(ctx context.Context, runbookID, scenario string) (DecisionTreePayload, Meta, error) {
	start := time.Now()

	cacheKey := "tree:" + runbookID + ":" + fingerprint(scenario, "", nil, nil, 0)
	var cached DecisionTreePayload
	if t.cache != nil && t.cache.GetJSON(ctx, cache.ContentDecisionTrees, cacheKey, &cached) {
		return cached, meta(start, true), nil
	}

	score, err := t.runbookByID(ctx, runbookID)
	if err != nil {
		return DecisionTreePayload{}, Meta{}, err
	}

	view := decisionTreeView(score.Runbook.DecisionTree)
	applied := false
	if scenario != "" {
		applied = reorderBranches(view.Branches, scenario)
	}

	payload := DecisionTreePayload{
		RunbookID:      runbookID,
		DecisionTree:   view,
		Confidence:     score.Confidence,
		ContextApplied: applied,
	}
	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cache.ContentDecisionTrees, cacheKey, payload); err != nil {
			t.logger.Warn("failed to cache decision tree", "error", err)
		}
	}
	return payload, meta(start, false), nil
}

// reorderBranches moves branches whose condition or description mentions
// the scenario to the front, keeping relative order otherwise. Reports
// whether anything moved.
func reorderBranches(branches []BranchView, scenario string) bool {
	s := strings.ToLower(scenario)
	matches := func(b BranchView) bool {
		return strings.Contains(strings.ToLower(b.Condition), s) ||
			strings.Contains(strings.ToLower(b.Description), s)
	}
	anyMatch := false
	for _, b := range branches {
		if matches(b) {
			anyMatch = true
			break
		}
	}
	if !anyMatch {
		return false
	}
	sort.SliceStable(branches, func(i, j int) bool {
		return matches(branches[i]) && !matches(branches[j])
	})
	return true
}

// ---- get-procedure ----

// ProcedurePayload is the get-procedure operation payload.
type ProcedurePayload struct {
	Procedure    ProcedureView   `json:"procedure"`
	RelatedSteps []ProcedureView `json:"related_steps,omitempty"`
	Confidence   float64         `json:"confidence"`
}

// GetProcedure resolves a procedure id of the form
// "<runbook-id>_<step-name>". Related steps are the step's declared
// prerequisites plus any step that lists it as a prerequisite.
func (t *Tools) GetProcedure(ctx context.Context, procedureID string) (ProcedurePayload, Meta, error) {
	start := time.Now()

	var cached ProcedurePayload
	if t.cache != nil && t.cache.GetJSON(ctx, cache.ContentProcedures, procedureID, &cached) {
		return cached, meta(start, true), nil
	}

	score, step, err := t.procedureByID(ctx, procedureID)
	if err != nil {
		return ProcedurePayload{}, Meta{}, err
	}

	related := relatedSteps(score.Runbook.Procedures, step)
	payload := ProcedurePayload{
		Procedure:    procedureView(step),
		RelatedSteps: procedureViews(related),
		Confidence:   score.Confidence,
	}
	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cache.ContentProcedures, procedureID, payload); err != nil {
			t.logger.Warn("failed to cache procedure", "error", err)
		}
	}
	return payload, meta(start, false), nil
}

func relatedSteps(all []domain.ProcedureStep, step domain.ProcedureStep) []domain.ProcedureStep {
	wanted := make(map[string]bool, len(step.Prerequisites))
	for _, p := range step.Prerequisites {
		wanted[p] = true
	}
	var out []domain.ProcedureStep
	for _, s := range all {
		if s.ID == step.ID {
			continue
		}
		if wanted[s.ID] {
			out = append(out, s)
			continue
		}
		for _, p := range s.Prerequisites {
			if p == step.ID {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// ---- get-escalation-path ----

// EscalationInput is the get-escalation-path operation input.
type EscalationInput struct {
	Severity       string `json:"severity" validate:"required"`
	System         string `json:"system,omitempty"`
	BusinessHours  *bool  `json:"business_hours,omitempty"`
	FailedAttempts int    `json:"failed_attempts,omitempty"`
}

// EscalationPayload is the get-escalation-path operation payload.
type EscalationPayload struct {
	Contacts              []ContactView `json:"contacts"`
	Procedure             string        `json:"procedure"`
	EstimatedResponseMins int64         `json:"estimated_response_minutes"`
	Severity              string        `json:"severity"`
	System                string        `json:"system,omitempty"`
}

// GetEscalationPath resolves the escalation ladder for a severity.
func (t *Tools) GetEscalationPath(ctx context.Context, in EscalationInput) (EscalationPayload, Meta, error) {
	start := time.Now()
	severity := domain.Severity(in.Severity)
	if !severity.Valid() {
		return EscalationPayload{}, Meta{}, domain.NewError(domain.ErrKindValidation, "severity must be one of info, low, medium, high, critical")
	}

	businessHours := true
	if in.BusinessHours != nil {
		businessHours = *in.BusinessHours
	}

	level, ok := t.escalation.Resolve(severity, businessHours, in.FailedAttempts)
	if !ok {
		return EscalationPayload{}, Meta{}, domain.ErrNotFound
	}

	contacts := make([]ContactView, 0, len(level.Contacts))
	for _, c := range level.Contacts {
		contacts = append(contacts, ContactView{Name: c.Name, Role: c.Role, Channel: c.Channel, Target: c.Target, Order: c.Order})
	}
	payload := EscalationPayload{
		Contacts:              contacts,
		Procedure:             level.Procedure,
		EstimatedResponseMins: int64(level.ResponseTime.Minutes()),
		Severity:              string(level.Severity),
		System:                in.System,
	}
	return payload, meta(start, false), nil
}

// ---- list-sources ----

// SourcesPayload is the list-sources operation payload.
type SourcesPayload struct {
	Sources []SourceView `json:"sources"`
}

// ListSources reports per-source health and metadata.
func (t *Tools) ListSources(ctx context.Context) (SourcesPayload, Meta, error) {
	start := time.Now()
	health := t.registry.HealthCheckAll(ctx)
	views := make([]SourceView, 0, len(health))
	for _, h := range health {
		views = append(views, sourceView(h))
	}
	return SourcesPayload{Sources: views}, meta(start, false), nil
}

// ---- search-knowledge-base ----

// SearchKnowledgeBaseInput is the free-text search input.
type SearchKnowledgeBaseInput struct {
	Query      string   `json:"query" validate:"required"`
	Categories []string `json:"categories,omitempty"`
	MaxResults int      `json:"max_results,omitempty"`
}

// SearchKnowledgeBasePayload is the search-knowledge-base payload.
type SearchKnowledgeBasePayload struct {
	Results             []SearchResultView `json:"results"`
	AggregateConfidence float64            `json:"aggregate_confidence"`
	SourcesFailed       []SourceFailure    `json:"sources_failed,omitempty"`
	Intent              string             `json:"intent,omitempty"`
	LimitClamped        bool               `json:"limit_clamped,omitempty"`
}

// SearchKnowledgeBase runs a federated free-text search.
func (t *Tools) SearchKnowledgeBase(ctx context.Context, in SearchKnowledgeBaseInput) (SearchKnowledgeBasePayload, Meta, error) {
	start := time.Now()

	key := "kb:" + fingerprint(in.Query, "", in.Categories, nil, in.MaxResults)
	var cached SearchKnowledgeBasePayload
	if t.cache != nil && t.cache.GetJSON(ctx, cache.ContentKnowledgeBase, key, &cached) {
		return cached, meta(start, true), nil
	}

	processed := t.processor.Process(query.Request{Query: in.Query})

	categories := make([]domain.DocumentCategory, 0, len(in.Categories))
	for _, c := range in.Categories {
		categories = append(categories, domain.DocumentCategory(c))
	}
	limit := in.MaxResults
	if limit <= 0 {
		limit = processed.Strategy.ResultLimit
	}

	outcome, err := t.registry.AggregateSearch(ctx, in.Query, adapterFilters(categories), limit)
	if err != nil {
		return SearchKnowledgeBasePayload{}, Meta{}, err
	}

	payload := SearchKnowledgeBasePayload{
		Results:       make([]SearchResultView, 0, len(outcome.Results)),
		SourcesFailed: failures(outcome.FailedSources),
		Intent:        string(processed.Intents[0].Intent),
		LimitClamped:  outcome.LimitClamped,
	}
	var sum float64
	for _, r := range outcome.Results {
		payload.Results = append(payload.Results, searchResultView(r))
		sum += r.Confidence
	}
	if len(outcome.Results) > 0 {
		payload.AggregateConfidence = sum / float64(len(outcome.Results))
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cache.ContentKnowledgeBase, key, payload); err != nil {
			t.logger.Warn("failed to cache knowledge-base search", "error", err)
		}
	}
	return payload, meta(start, false), nil
}

// ---- record-resolution-feedback ----

// FeedbackInput is the record-resolution-feedback operation input.
type FeedbackInput struct {
	RunbookID         string  `json:"runbook_id" validate:"required"`
	ProcedureID       string  `json:"procedure_id" validate:"required"`
	Outcome           string  `json:"outcome" validate:"required"`
	ResolutionMinutes float64 `json:"resolution_time_minutes" validate:"gte=0"`
	Notes             string  `json:"notes,omitempty"`
}

// FeedbackPayload acknowledges a recorded resolution.
type FeedbackPayload struct {
	EntryID string        `json:"entry_id"`
	Rollup  RunbookRollup `json:"rollup"`
}

// RecordResolutionFeedback appends to the ledger and updates the
// runbook's running success counters.
func (t *Tools) RecordResolutionFeedback(ctx context.Context, in FeedbackInput) (FeedbackPayload, Meta, error) {
	start := time.Now()
	outcome := Outcome(in.Outcome)
	if !outcome.Valid() {
		return FeedbackPayload{}, Meta{}, domain.NewError(domain.ErrKindValidation, "outcome must be one of success, partial, failure")
	}

	entry := t.ledger.Append(in.RunbookID, in.ProcedureID, outcome, in.ResolutionMinutes, in.Notes)
	rollup, _ := t.ledger.Rollup(in.RunbookID)
	return FeedbackPayload{EntryID: entry.ID, Rollup: rollup}, meta(start, false), nil
}

// ---- runbook retrieval/listing used by the HTTP surface ----

// GetRunbook returns a single runbook by its id, with feedback rollups
// applied.
func (t *Tools) GetRunbook(ctx context.Context, runbookID string) (RunbookView, Meta, error) {
	start := time.Now()
	score, err := t.runbookByID(ctx, runbookID)
	if err != nil {
		return RunbookView{}, Meta{}, err
	}
	return t.withRollup(runbookView(score)), meta(start, false), nil
}

// ListRunbooksInput filters the runbook catalogue listing.
type ListRunbooksInput struct {
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ListRunbooksPayload is the catalogue listing payload.
type ListRunbooksPayload struct {
	Runbooks      []RunbookView   `json:"runbooks"`
	Total         int             `json:"total"`
	SourcesFailed []SourceFailure `json:"sources_failed,omitempty"`
}

// ListRunbooks enumerates the runbook catalogue across all sources.
func (t *Tools) ListRunbooks(ctx context.Context, in ListRunbooksInput) (ListRunbooksPayload, Meta, error) {
	start := time.Now()
	limit := in.Limit
	switch {
	case limit <= 0:
		limit = 50
	case limit > 100:
		limit = 100
	}

	outcome, err := t.registry.AggregateRunbookSearch(ctx, "", "", nil, nil, registry.MaxLimit)
	if err != nil {
		return ListRunbooksPayload{}, Meta{}, err
	}

	payload := ListRunbooksPayload{SourcesFailed: failures(outcome.FailedSources)}
	for _, score := range outcome.Scores {
		t.remember(score)
		rb := score.Runbook
		if in.Category != "" && string(rb.Category) != in.Category {
			continue
		}
		if in.Severity != "" && !runbookHandlesSeverity(rb, domain.Severity(in.Severity)) {
			continue
		}
		payload.Runbooks = append(payload.Runbooks, t.withRollup(runbookView(score)))
		if len(payload.Runbooks) >= limit {
			break
		}
	}
	if payload.Runbooks == nil {
		payload.Runbooks = []RunbookView{}
	}
	payload.Total = len(payload.Runbooks)
	return payload, meta(start, false), nil
}

func runbookHandlesSeverity(rb domain.Runbook, severity domain.Severity) bool {
	for _, s := range rb.SeverityMap {
		if s == severity {
			return true
		}
	}
	return false
}

// Warmup primes the in-memory runbook store from the current catalogue
// (up to 100 runbooks). It writes no cache entries; the warmup flag on a
// cache tag is not acted on here. Called once at startup, after adapters
// initialize.
func (t *Tools) Warmup(ctx context.Context) {
	if _, _, err := t.ListRunbooks(ctx, ListRunbooksInput{Limit: 100}); err != nil {
		t.logger.Warn("runbook warmup failed", "error", err)
	}
}

// ---- internals ----

// remember stores one scored runbook for identity-keyed lookups.
func (t *Tools) remember(score domain.RunbookScore) {
	t.storeMu.Lock()
	defer t.storeMu.Unlock()
	t.store[score.Runbook.ID] = score
	t.store[score.Runbook.Document.ID()] = score
}

func (t *Tools) runbookByID(ctx context.Context, runbookID string) (domain.RunbookScore, error) {
	t.storeMu.RLock()
	score, ok := t.store[runbookID]
	t.storeMu.RUnlock()
	if ok {
		return score, nil
	}

	// Cold store: enumerate the catalogue once and retry.
	outcome, err := t.registry.AggregateRunbookSearch(ctx, "", "", nil, nil, registry.MaxLimit)
	if err != nil {
		return domain.RunbookScore{}, err
	}
	for _, s := range outcome.Scores {
		t.remember(s)
	}

	t.storeMu.RLock()
	score, ok = t.store[runbookID]
	t.storeMu.RUnlock()
	if !ok {
		return domain.RunbookScore{}, domain.ErrNotFound
	}
	return score, nil
}

// procedureByID parses "<runbook-id>_<step-name>" by trying every split
// point, since runbook ids may themselves contain underscores.
func (t *Tools) procedureByID(ctx context.Context, procedureID string) (domain.RunbookScore, domain.ProcedureStep, error) {
	for i := len(procedureID) - 1; i > 0; i-- {
		if procedureID[i] != '_' {
			continue
		}
		runbookID, stepName := procedureID[:i], procedureID[i+1:]
		score, err := t.runbookByID(ctx, runbookID)
		if err != nil {
			continue
		}
		for _, step := range score.Runbook.Procedures {
			if step.ID == stepName || step.ID == procedureID || step.Name == stepName {
				return score, step, nil
			}
		}
	}
	return domain.RunbookScore{}, domain.ProcedureStep{}, domain.ErrNotFound
}

// withRollup overlays the ledger's running aggregates onto a runbook view.
func (t *Tools) withRollup(view RunbookView) RunbookView {
	rollup, ok := t.ledger.Rollup(view.ID)
	if !ok {
		return view
	}
	rate := rollup.SuccessRate
	avg := rollup.AvgResolutionMins
	view.SuccessRate = &rate
	view.AvgResolutionMin = &avg
	return view
}

func failures(in []registry.SourceFailure) []SourceFailure {
	out := make([]SourceFailure, 0, len(in))
	for _, f := range in {
		out = append(out, SourceFailure{Name: f.Name, Reason: string(f.Reason)})
	}
	return out
}

func adapterFilters(categories []domain.DocumentCategory) adapter.Filters {
	return adapter.Filters{Categories: categories}
}

// fingerprint hashes the identifying parts of a query into a stable
// cache-key suffix.
func fingerprint(a, b string, list []string, kv map[string]string, n int) string {
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	h.Write([]byte{0})
	sorted := append([]string(nil), list...)
	sort.Strings(sorted)
	for _, s := range sorted {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{1})
		h.Write([]byte(kv[k]))
		h.Write([]byte{0})
	}
	h.Write([]byte{byte(n), byte(n >> 8)})
	return hex.EncodeToString(h.Sum(nil)[:16])
}
