// Package tools implements the seven named operations consumed by both
// the tool-call surface and the HTTP surface. Every operation returns a
// result envelope carrying success, an optional message, retrieval time,
// and a timestamp, plus its operation-specific payload.
package tools

import (
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
)

// RunbookView is the JSON shape of one runbook in responses.
type RunbookView struct {
	ID                string                   `json:"id"`
	EngineID          string                   `json:"engine_id"`
	Version           string                   `json:"version,omitempty"`
	Title             string                   `json:"title"`
	SourceName        string                   `json:"source"`
	Category          string                   `json:"category,omitempty"`
	Triggers          []string                 `json:"triggers"`
	SeverityMap       map[string]string        `json:"severity_map,omitempty"`
	DecisionTree      DecisionTreeView         `json:"decision_tree"`
	Procedures        []ProcedureView          `json:"procedures"`
	EscalationPathRef string                   `json:"escalation_path_ref,omitempty"`
	Author            string                   `json:"author,omitempty"`
	Confidence        float64                  `json:"confidence"`
	SuccessRate       *float64                 `json:"success_rate,omitempty"`
	AvgResolutionMin  *float64                 `json:"average_resolution_minutes,omitempty"`
	LastUpdated       time.Time                `json:"last_updated"`
	URL               string                   `json:"url,omitempty"`
	MatchReasons      []string                 `json:"match_reasons,omitempty"`
}

// DecisionTreeView is the JSON shape of a decision tree.
type DecisionTreeView struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Branches      []BranchView `json:"branches"`
	DefaultAction string       `json:"default_action,omitempty"`
}

// BranchView is the JSON shape of one decision-tree branch.
type BranchView struct {
	ID             string  `json:"id"`
	Condition      string  `json:"condition"`
	Description    string  `json:"description,omitempty"`
	Action         string  `json:"action"`
	NextStepID     string  `json:"next_step_id,omitempty"`
	Confidence     float64 `json:"confidence"`
	RollbackStepID string  `json:"rollback_step_id,omitempty"`
}

// ProcedureView is the JSON shape of one procedure step.
type ProcedureView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Command         string   `json:"command,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	TimeoutSeconds  *int     `json:"timeout_seconds,omitempty"`
	Prerequisites   []string `json:"prerequisites,omitempty"`
	RollbackRef     string   `json:"rollback_ref,omitempty"`
	ToolsRequired   []string `json:"tools_required,omitempty"`
}

// SearchResultView is the JSON shape of one search result.
type SearchResultView struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	ContentExcerpt string            `json:"content_excerpt,omitempty"`
	SourceName     string            `json:"source"`
	SourceType     string            `json:"source_type"`
	Category       string            `json:"category,omitempty"`
	Confidence     float64           `json:"confidence"`
	MatchReasons   []string          `json:"match_reasons,omitempty"`
	RetrievalMS    int64             `json:"retrieval_time_ms"`
	LastUpdated    time.Time         `json:"last_updated"`
	URL            string            `json:"url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SourceView is the JSON shape of one source in list-sources.
type SourceView struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Enabled       bool      `json:"enabled"`
	Healthy       bool      `json:"healthy"`
	LatencyMS     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	DocumentCount int       `json:"document_count"`
	LastIndexed   time.Time `json:"last_indexed"`
	SuccessRate   float64   `json:"success_rate"`
	BreakerState  string    `json:"circuit_breaker_state"`
}

// ContactView is one escalation contact.
type ContactView struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Channel string `json:"channel"`
	Target  string `json:"target"`
	Order   int    `json:"order"`
}

func runbookView(score domain.RunbookScore) RunbookView {
	rb := score.Runbook
	sevMap := make(map[string]string, len(rb.SeverityMap))
	for k, v := range rb.SeverityMap {
		sevMap[k] = string(v)
	}
	return RunbookView{
		ID:                rb.ID,
		EngineID:          rb.Document.ID(),
		Version:           rb.Version,
		Title:             rb.Title,
		SourceName:        rb.SourceName,
		Category:          string(rb.Category),
		Triggers:          rb.Triggers,
		SeverityMap:       sevMap,
		DecisionTree:      decisionTreeView(rb.DecisionTree),
		Procedures:        procedureViews(rb.Procedures),
		EscalationPathRef: rb.EscalationPathRef,
		Author:            rb.Rollup.Author,
		Confidence:        score.Confidence,
		SuccessRate:       rb.Rollup.SuccessRate,
		AvgResolutionMin:  rb.Rollup.AverageResolutionMin,
		LastUpdated:       rb.LastUpdated.UTC(),
		URL:               rb.URL,
		MatchReasons:      score.MatchReasons,
	}
}

func decisionTreeView(t domain.DecisionTree) DecisionTreeView {
	branches := make([]BranchView, 0, len(t.Branches))
	for _, b := range t.Branches {
		branches = append(branches, BranchView{
			ID: b.ID, Condition: b.Condition, Description: b.Description,
			Action: b.Action, NextStepID: b.NextStepID,
			Confidence: b.Confidence, RollbackStepID: b.RollbackStepID,
		})
	}
	return DecisionTreeView{
		ID: t.ID, Name: t.Name, Description: t.Description,
		Branches: branches, DefaultAction: t.DefaultAction,
	}
}

func procedureViews(steps []domain.ProcedureStep) []ProcedureView {
	out := make([]ProcedureView, 0, len(steps))
	for _, p := range steps {
		out = append(out, procedureView(p))
	}
	return out
}

func procedureView(p domain.ProcedureStep) ProcedureView {
	return ProcedureView{
		ID: p.ID, Name: p.Name, Description: p.Description, Command: p.Command,
		ExpectedOutcome: p.ExpectedOutcome, TimeoutSeconds: p.TimeoutSeconds,
		Prerequisites: p.Prerequisites, RollbackRef: p.RollbackRef, ToolsRequired: p.ToolsRequired,
	}
}

func searchResultView(r domain.SearchResult) SearchResultView {
	return SearchResultView{
		ID: r.ID, Title: r.Title, ContentExcerpt: r.ContentExcerpt,
		SourceName: r.SourceName, SourceType: string(r.SourceType),
		Category: string(r.Category), Confidence: r.Confidence,
		MatchReasons: r.MatchReasons, RetrievalMS: r.RetrievalMS,
		LastUpdated: r.LastUpdated, URL: r.URL, Metadata: r.Metadata,
	}
}

func sourceView(h registry.SourceHealth) SourceView {
	return SourceView{
		Name:          h.Name,
		Type:          string(h.Type),
		Enabled:       h.Enabled,
		Healthy:       h.Health.Healthy,
		LatencyMS:     h.Health.Latency.Milliseconds(),
		Error:         h.Health.Error,
		DocumentCount: h.Metadata.DocumentCount,
		LastIndexed:   h.Metadata.LastIndexed,
		SuccessRate:   h.Metadata.SuccessRate,
		BreakerState:  h.Breaker.State.String(),
	}
}
