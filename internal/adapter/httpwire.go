package adapter

import (
	"fmt"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// toDocument converts one wire document into the engine's Document type.
func (w wireDocument) toDocument(sourceName string) domain.Document {
	return domain.Document{
		SourceName:    sourceName,
		SourceLocalID: w.ID,
		Title:         w.Title,
		Content:       w.Content,
		Category:      domain.DocumentCategory(w.Category),
		LastUpdated:   w.LastUpdated,
		URL:           w.URL,
		Metadata:      w.Metadata,
	}
}

// toRunbook converts a wire document carrying runbook fields into the
// engine's Runbook type, rejecting one whose decision tree contains a
// cycle.
func (w wireDocument) toRunbook(sourceName string) (domain.Runbook, error) {
	doc := w.toDocument(sourceName)

	var tree domain.DecisionTree
	if w.DecisionTree != nil {
		branches := make([]domain.Branch, 0, len(w.DecisionTree.Branches))
		for _, b := range w.DecisionTree.Branches {
			branches = append(branches, domain.Branch{
				ID: b.ID, Condition: b.Condition, Description: b.Description,
				Action: b.Action, NextStepID: b.NextStepID,
				Confidence: b.Confidence, RollbackStepID: b.RollbackStepID,
			})
		}
		tree = domain.DecisionTree{
			ID: w.DecisionTree.ID, Name: w.DecisionTree.Name,
			Description: w.DecisionTree.Description, Branches: branches,
			DefaultAction: w.DecisionTree.DefaultAction,
		}
		if err := domain.ValidateDecisionTree(tree); err != nil {
			return domain.Runbook{}, fmt.Errorf("decision tree %s: %w", tree.ID, err)
		}
	}

	severityMap := make(map[string]domain.Severity, len(w.SeverityMap))
	for k, v := range w.SeverityMap {
		severityMap[k] = domain.Severity(v)
	}

	procedures := make([]domain.ProcedureStep, 0, len(w.Procedures))
	for _, p := range w.Procedures {
		procedures = append(procedures, domain.ProcedureStep{
			ID: p.ID, Name: p.Name, Description: p.Description, Command: p.Command,
			ExpectedOutcome: p.ExpectedOutcome, TimeoutSeconds: p.TimeoutSeconds,
			Prerequisites: p.Prerequisites, RollbackRef: p.RollbackRef, ToolsRequired: p.ToolsRequired,
		})
	}

	return domain.Runbook{
		Document:          doc,
		ID:                w.ID,
		Version:           w.Version,
		Triggers:          w.Triggers,
		SeverityMap:       severityMap,
		DecisionTree:      tree,
		Procedures:        procedures,
		EscalationPathRef: w.EscalationPathRef,
		Rollup:            domain.RunbookMetadata{Confidence: w.Confidence},
	}, nil
}

// wireDocument is the common JSON shape a web/wiki/git-host source
// returns for one document or runbook. Each variant's endpoint wraps
// these differently (flat array vs. paginated envelope); that difference
// stays internal to the variant.
type wireDocument struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Category    string            `json:"category"`
	URL         string            `json:"url"`
	LastUpdated time.Time         `json:"last_updated"`
	Metadata    map[string]string `json:"metadata"`

	// Present only on runbook documents.
	Version           string                    `json:"version,omitempty"`
	Triggers          []string                  `json:"triggers,omitempty"`
	SeverityMap       map[string]string         `json:"severity_map,omitempty"`
	DecisionTree      *wireDecisionTree         `json:"decision_tree,omitempty"`
	Procedures        []wireProcedure           `json:"procedures,omitempty"`
	EscalationPathRef string                    `json:"escalation_path_ref,omitempty"`
	Confidence        float64                   `json:"confidence,omitempty"`
}

type wireDecisionTree struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	DefaultAction string       `json:"default_action"`
	Branches      []wireBranch `json:"branches"`
}

type wireBranch struct {
	ID             string  `json:"id"`
	Condition      string  `json:"condition"`
	Description    string  `json:"description"`
	Action         string  `json:"action"`
	NextStepID     string  `json:"next_step_id"`
	Confidence     float64 `json:"confidence"`
	RollbackStepID string  `json:"rollback_step_id"`
}

type wireProcedure struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Command         string   `json:"command"`
	ExpectedOutcome string   `json:"expected_outcome"`
	TimeoutSeconds  *int     `json:"timeout_seconds,omitempty"`
	Prerequisites   []string `json:"prerequisites,omitempty"`
	RollbackRef     string   `json:"rollback_ref,omitempty"`
	ToolsRequired   []string `json:"tools_required,omitempty"`
}

type searchEnvelope struct {
	Results []wireDocument `json:"results"`
}

// pagedEnvelope is the paginated shape the wiki and git-host variants
// use instead of a flat array.
type pagedEnvelope struct {
	Items      []wireDocument `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

type runbookEnvelope struct {
	Runbooks []wireDocument `json:"runbooks"`
}
