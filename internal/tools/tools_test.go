package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/runbook-engine/internal/adapter"
	"github.com/vitaliisemenov/runbook-engine/internal/cache"
	"github.com/vitaliisemenov/runbook-engine/internal/domain"
	"github.com/vitaliisemenov/runbook-engine/internal/query"
	"github.com/vitaliisemenov/runbook-engine/internal/registry"
)

// stubAdapter serves a fixed runbook catalogue for tool-layer tests.
type stubAdapter struct {
	name     string
	runbooks []domain.Runbook
}

func (s *stubAdapter) Search(ctx context.Context, q string, f adapter.Filters) ([]domain.SearchResult, error) {
	var out []domain.SearchResult
	for _, rb := range s.runbooks {
		out = append(out, domain.SearchResult{
			ID: rb.Document.ID(), Title: rb.Title, SourceName: s.name,
			SourceType: domain.SourceTypeFile, Confidence: 0.8, LastUpdated: rb.LastUpdated,
		})
	}
	return out, nil
}

func (s *stubAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, systems []string, qctx map[string]string) ([]domain.RunbookScore, error) {
	var out []domain.RunbookScore
	for _, rb := range s.runbooks {
		score := domain.ScoreRunbook(rb, alertType, severity, systems)
		if score.Confidence > 0 {
			out = append(out, score)
		}
	}
	return out, nil
}

func (s *stubAdapter) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	for _, rb := range s.runbooks {
		if rb.SourceLocalID == id {
			return rb.Document, nil
		}
	}
	return domain.Document{}, domain.ErrNotFound
}

func (s *stubAdapter) HealthCheck(ctx context.Context) (adapter.HealthResult, error) {
	return adapter.HealthResult{Healthy: true}, nil
}

func (s *stubAdapter) Metadata(ctx context.Context) (adapter.Metadata, error) {
	return adapter.Metadata{Name: s.name, Type: domain.SourceTypeFile, DocumentCount: len(s.runbooks)}, nil
}

func (s *stubAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) { return true, nil }
func (s *stubAdapter) Initialize(ctx context.Context) error                       { return nil }
func (s *stubAdapter) Shutdown(ctx context.Context) error                         { return nil }
func (s *stubAdapter) Name() string                                               { return s.name }

func testRunbook() domain.Runbook {
	return domain.Runbook{
		Document: domain.Document{
			SourceName:    "files",
			SourceLocalID: "rb-disk",
			Title:         "Disk space exhaustion",
			Category:      domain.CategoryRunbook,
			LastUpdated:   time.Now(),
			Metadata:      map[string]string{"systems": "web-01,web-02"},
		},
		ID:       "rb-disk",
		Version:  "3",
		Triggers: []string{"disk_space"},
		SeverityMap: map[string]domain.Severity{
			"disk_space": domain.SeverityCritical,
		},
		DecisionTree: domain.DecisionTree{
			ID:   "dt-disk",
			Name: "Disk triage",
			Branches: []domain.Branch{
				{ID: "b1", Condition: "usage above 95 percent", Action: "clean logs", Confidence: 0.9},
				{ID: "b2", Condition: "growth is sudden", Action: "find runaway process", Confidence: 0.7, NextStepID: "b1"},
			},
			DefaultAction: "escalate",
		},
		Procedures: []domain.ProcedureStep{
			{ID: "check-usage", Name: "Check usage", ExpectedOutcome: "usage report"},
			{ID: "clean-logs", Name: "Clean logs", Prerequisites: []string{"check-usage"}, Command: "journalctl --vacuum-size=1G"},
		},
		Rollup: domain.RunbookMetadata{Author: "ops", Confidence: 0.9},
	}
}

func newTestTools(t *testing.T) *Tools {
	t.Helper()
	reg := registry.New(registry.Config{}, nil, nil)
	require.NoError(t, reg.RegisterAdapter(context.Background(), &stubAdapter{name: "files", runbooks: []domain.Runbook{testRunbook()}},
		domain.SourceConfig{Name: "files", Type: domain.SourceTypeFile, Enabled: true, Priority: 1, CallTimeout: time.Second}))

	mgr := cache.NewManager(cache.Config{Enabled: true, Strategy: cache.StrategyFastOnly, FastMaxKeys: 128}, nil)
	proc := query.NewProcessor(query.DefaultProcessorConfig(), nil, query.OrgContext{}, nil)
	return New(reg, mgr, proc, nil, nil, nil)
}

func TestSearchRunbooksHappyPath(t *testing.T) {
	tl := newTestTools(t)
	payload, m, err := tl.SearchRunbooks(context.Background(), SearchRunbooksInput{
		AlertType:       "disk_space",
		Severity:        "critical",
		AffectedSystems: []string{"web-01"},
	})
	require.NoError(t, err)
	require.Len(t, payload.Runbooks, 1)
	assert.Equal(t, "rb-disk", payload.Runbooks[0].ID)
	require.Len(t, payload.ConfidenceScores, 1)
	assert.InDelta(t, 1.0, payload.ConfidenceScores[0], 0.01)
	assert.False(t, m.Cached)
	assert.True(t, m.Success)

	for _, c := range payload.ConfidenceScores {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestSearchRunbooksCacheHit(t *testing.T) {
	tl := newTestTools(t)
	in := SearchRunbooksInput{AlertType: "disk_space", Severity: "critical", AffectedSystems: []string{"web-01"}}

	first, m1, err := tl.SearchRunbooks(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, m1.Cached)

	second, m2, err := tl.SearchRunbooks(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, m2.Cached)
	assert.Equal(t, first.Runbooks, second.Runbooks)
	assert.Equal(t, first.ConfidenceScores, second.ConfidenceScores)
}

func TestSearchRunbooksRejectsBadSeverity(t *testing.T) {
	tl := newTestTools(t)
	_, _, err := tl.SearchRunbooks(context.Background(), SearchRunbooksInput{AlertType: "x", Severity: "catastrophic"})
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindValidation, kind)
}

func TestGetDecisionTree(t *testing.T) {
	tl := newTestTools(t)
	payload, _, err := tl.GetDecisionTree(context.Background(), "rb-disk", "")
	require.NoError(t, err)
	assert.Equal(t, "dt-disk", payload.DecisionTree.ID)
	assert.False(t, payload.ContextApplied)
	assert.Len(t, payload.DecisionTree.Branches, 2)

	// Scenario reorders matching branches to the front.
	payload, _, err = tl.GetDecisionTree(context.Background(), "rb-disk", "sudden")
	require.NoError(t, err)
	assert.True(t, payload.ContextApplied)
	assert.Equal(t, "b2", payload.DecisionTree.Branches[0].ID)
}

func TestGetDecisionTreeNotFound(t *testing.T) {
	tl := newTestTools(t)
	_, _, err := tl.GetDecisionTree(context.Background(), "rb-missing", "")
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindNotFound, kind)
}

func TestGetProcedure(t *testing.T) {
	tl := newTestTools(t)
	payload, _, err := tl.GetProcedure(context.Background(), "rb-disk_clean-logs")
	require.NoError(t, err)
	assert.Equal(t, "clean-logs", payload.Procedure.ID)
	require.Len(t, payload.RelatedSteps, 1)
	assert.Equal(t, "check-usage", payload.RelatedSteps[0].ID)
	assert.Greater(t, payload.Confidence, 0.0)
}

func TestGetProcedureNotFound(t *testing.T) {
	tl := newTestTools(t)
	_, _, err := tl.GetProcedure(context.Background(), "rb-disk_no-such-step")
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.ErrKindNotFound, kind)
}

func TestGetEscalationPath(t *testing.T) {
	tl := newTestTools(t)
	hours := true
	payload, _, err := tl.GetEscalationPath(context.Background(), EscalationInput{Severity: "critical", BusinessHours: &hours})
	require.NoError(t, err)
	require.NotEmpty(t, payload.Contacts)
	assert.Equal(t, int64(5), payload.EstimatedResponseMins)

	offHours := false
	payload, _, err = tl.GetEscalationPath(context.Background(), EscalationInput{Severity: "critical", BusinessHours: &offHours})
	require.NoError(t, err)
	assert.Equal(t, int64(10), payload.EstimatedResponseMins)
}

func TestGetEscalationPathFailedAttemptsEscalate(t *testing.T) {
	tl := newTestTools(t)
	hours := true
	base, _, err := tl.GetEscalationPath(context.Background(), EscalationInput{Severity: "medium", BusinessHours: &hours})
	require.NoError(t, err)

	escalated, _, err := tl.GetEscalationPath(context.Background(), EscalationInput{Severity: "medium", BusinessHours: &hours, FailedAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "high", escalated.Severity)
	assert.Less(t, escalated.EstimatedResponseMins, base.EstimatedResponseMins)
}

func TestListSources(t *testing.T) {
	tl := newTestTools(t)
	payload, _, err := tl.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, payload.Sources, 1)
	assert.Equal(t, "files", payload.Sources[0].Name)
	assert.True(t, payload.Sources[0].Healthy)
}

func TestSearchKnowledgeBase(t *testing.T) {
	tl := newTestTools(t)
	payload, m, err := tl.SearchKnowledgeBase(context.Background(), SearchKnowledgeBaseInput{Query: "disk"})
	require.NoError(t, err)
	require.NotEmpty(t, payload.Results)
	assert.Greater(t, payload.AggregateConfidence, 0.0)
	assert.False(t, m.Cached)

	_, m2, err := tl.SearchKnowledgeBase(context.Background(), SearchKnowledgeBaseInput{Query: "disk"})
	require.NoError(t, err)
	assert.True(t, m2.Cached)
}

func TestRecordFeedbackUpdatesRollup(t *testing.T) {
	tl := newTestTools(t)

	for i := 0; i < 2; i++ {
		payload, _, err := tl.RecordResolutionFeedback(context.Background(), FeedbackInput{
			RunbookID: "rb-disk", ProcedureID: "p1", Outcome: "success", ResolutionMinutes: 10,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, payload.EntryID)
	}

	rollup, ok := tl.Ledger().Rollup("rb-disk")
	require.True(t, ok)
	assert.Equal(t, 2, rollup.SuccessCount)
	assert.Equal(t, 10.0, rollup.AvgResolutionMins)

	// The rollup shows on the runbook view.
	view, _, err := tl.GetRunbook(context.Background(), "rb-disk")
	require.NoError(t, err)
	require.NotNil(t, view.SuccessRate)
	assert.Equal(t, 1.0, *view.SuccessRate)
	require.NotNil(t, view.AvgResolutionMin)
	assert.Equal(t, 10.0, *view.AvgResolutionMin)
}

func TestListRunbooks(t *testing.T) {
	tl := newTestTools(t)
	payload, _, err := tl.ListRunbooks(context.Background(), ListRunbooksInput{})
	require.NoError(t, err)
	require.Len(t, payload.Runbooks, 1)

	payload, _, err = tl.ListRunbooks(context.Background(), ListRunbooksInput{Category: "guide"})
	require.NoError(t, err)
	assert.Empty(t, payload.Runbooks)

	payload, _, err = tl.ListRunbooks(context.Background(), ListRunbooksInput{Severity: "critical"})
	require.NoError(t, err)
	assert.Len(t, payload.Runbooks, 1)
}
