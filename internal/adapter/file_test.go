package adapter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

const runbookYAML = `
id: rb-disk-001
version: "1"
title: Disk space exhaustion
content: Free up disk space on the affected host.
category: runbook
last_updated: 2026-01-01T00:00:00Z
triggers: [disk_space]
severity_map:
  disk_space: critical
metadata:
  systems: web-01,web-02
decision_tree:
  id: dt-1
  name: disk-space-flow
  default_action: escalate
  branches:
    - id: b1
      condition: "usage > 90%"
      action: clear_logs
      next_step_id: b2
    - id: b2
      condition: "usage > 95%"
      action: page_oncall
procedures:
  - id: p1
    name: clear temp files
    description: remove /tmp scratch files
    expected_outcome: disk usage drops below 80%
`

func writeTempDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write temp doc: %v", err)
	}
}

func TestFileAdapter_IndexSearchAndGet(t *testing.T) {
	dir := t.TempDir()
	writeTempDoc(t, dir, "rb1.yaml", runbookYAML)

	cfg := domain.SourceConfig{Name: "local-runbooks", Type: domain.SourceTypeFile, Paths: []string{dir}, Enabled: true}
	a, err := New(cfg, Dependencies{Logger: slog.Default()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer a.Shutdown(ctx)

	scores, err := a.SearchRunbooks(ctx, "disk_space", domain.SeverityCritical, []string{"web-01"}, nil)
	if err != nil {
		t.Fatalf("SearchRunbooks() error = %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected 1 runbook match, got %d", len(scores))
	}
	if scores[0].Confidence != 1.0 {
		t.Fatalf("expected full confidence match, got %v reasons=%v", scores[0].Confidence, scores[0].MatchReasons)
	}

	doc, err := a.GetDocument(ctx, "rb-disk-001")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Title != "Disk space exhaustion" {
		t.Fatalf("unexpected document title %q", doc.Title)
	}

	results, err := a.Search(ctx, "disk space", Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 search result, got %d", len(results))
	}

	health, err := a.HealthCheck(ctx)
	if err != nil || !health.Healthy {
		t.Fatalf("HealthCheck() = %+v, err=%v", health, err)
	}
}

func TestFileAdapter_RejectsDecisionTreeCycle(t *testing.T) {
	dir := t.TempDir()
	cyclic := `
id: rb-bad
title: Bad runbook
content: has a cycle
triggers: [bad]
decision_tree:
  id: dt-bad
  name: cyclic
  branches:
    - id: a
      action: go-to-b
      next_step_id: b
    - id: b
      action: go-to-a
      next_step_id: a
`
	writeTempDoc(t, dir, "bad.yaml", cyclic)

	cfg := domain.SourceConfig{Name: "local-runbooks", Type: domain.SourceTypeFile, Paths: []string{dir}}
	a, _ := New(cfg, Dependencies{Logger: slog.Default()})
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer a.Shutdown(ctx)

	// Document is still indexed as a plain document; the runbook is
	// rejected at load time and excluded from runbook search.
	_, err := a.GetDocument(ctx, "rb-bad")
	if err != nil {
		t.Fatalf("expected the underlying document to still be indexed, got %v", err)
	}
	scores, err := a.SearchRunbooks(ctx, "bad", domain.SeverityLow, nil, nil)
	if err != nil {
		t.Fatalf("SearchRunbooks() error = %v", err)
	}
	if len(scores) != 0 {
		t.Fatalf("expected the cyclic runbook to be excluded, got %d", len(scores))
	}
}
