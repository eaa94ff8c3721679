package adapter

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

//go:embed filemigrations/*.sql
var fileMigrations embed.FS

// yamlDocument is the on-disk shape of one document file under a file
// adapter's configured paths. A file with non-empty Triggers is treated
// as a Runbook; otherwise it is a plain Document.
type yamlDocument struct {
	ID                string              `yaml:"id"`
	Version           string              `yaml:"version"`
	Title             string              `yaml:"title"`
	Content           string              `yaml:"content"`
	Category          string              `yaml:"category"`
	URL               string              `yaml:"url"`
	LastUpdated       time.Time           `yaml:"last_updated"`
	Metadata          map[string]string   `yaml:"metadata"`
	Triggers          []string            `yaml:"triggers"`
	SeverityMap       map[string]string   `yaml:"severity_map"`
	DecisionTree      yamlDecisionTree    `yaml:"decision_tree"`
	Procedures        []yamlProcedure     `yaml:"procedures"`
	EscalationPathRef string              `yaml:"escalation_path_ref"`
	Author            string              `yaml:"author"`
	Confidence        float64             `yaml:"confidence"`
}

type yamlDecisionTree struct {
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	Description   string       `yaml:"description"`
	DefaultAction string       `yaml:"default_action"`
	Branches      []yamlBranch `yaml:"branches"`
}

type yamlBranch struct {
	ID             string  `yaml:"id"`
	Condition      string  `yaml:"condition"`
	Description    string  `yaml:"description"`
	Action         string  `yaml:"action"`
	NextStepID     string  `yaml:"next_step_id"`
	Confidence     float64 `yaml:"confidence"`
	RollbackStepID string  `yaml:"rollback_step_id"`
}

type yamlProcedure struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Command         string   `yaml:"command"`
	ExpectedOutcome string   `yaml:"expected_outcome"`
	TimeoutSeconds  *int     `yaml:"timeout_seconds"`
	Prerequisites   []string `yaml:"prerequisites"`
	RollbackRef     string   `yaml:"rollback_ref"`
	ToolsRequired   []string `yaml:"tools_required"`
}

// fileAdapter indexes a set of local directories of YAML documents into
// a cgo-free sqlite index, serving reads from an in-memory copy kept in
// sync with the index.
type fileAdapter struct {
	cfg    domain.SourceConfig
	logger *slog.Logger

	db *sql.DB

	mu        sync.RWMutex
	docs      map[string]domain.Document
	runbooks  map[string]domain.Runbook
	lastIndex time.Time
}

func newFileAdapter(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	return &fileAdapter{
		cfg:      cfg,
		logger:   deps.Logger.With("adapter", cfg.Name, "type", "file"),
		docs:     make(map[string]domain.Document),
		runbooks: make(map[string]domain.Runbook),
	}, nil
}

func (a *fileAdapter) Name() string { return a.cfg.Name }

func (a *fileAdapter) Initialize(ctx context.Context) error {
	dbPath := ":memory:"
	if len(a.cfg.Paths) > 0 {
		dbPath = filepath.Join(a.cfg.Paths[0], ".runbook-index.db")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return domain.WrapError(domain.ErrKindFatal, a.cfg.Name, "failed to open local index", err)
	}
	a.db = db

	sub, err := fs.Sub(fileMigrations, "filemigrations")
	if err != nil {
		return domain.WrapError(domain.ErrKindFatal, a.cfg.Name, "embedded migrations unreadable", err)
	}
	goose.SetBaseFS(sub)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return domain.WrapError(domain.ErrKindFatal, a.cfg.Name, "failed to set migration dialect", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return domain.WrapError(domain.ErrKindFatal, a.cfg.Name, "failed to apply local index migrations", err)
	}

	_, err = a.RefreshIndex(ctx, true)
	return err
}

func (a *fileAdapter) Shutdown(ctx context.Context) error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// RefreshIndex walks every configured path for *.yaml/*.yml documents,
// parses them, validates decision trees, and persists the parsed payload
// to the local sqlite index. force is accepted for interface symmetry;
// the file variant always does a full re-walk since there is no cheap
// last-modified signal across arbitrary filesystems here.
func (a *fileAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	docs := make(map[string]domain.Document)
	runbooks := make(map[string]domain.Runbook)

	for _, root := range a.cfg.Paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // best-effort: skip unreadable entries
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				a.logger.Warn("failed to read document file", "path", path, "error", err)
				return nil
			}
			var y yamlDocument
			if err := yaml.Unmarshal(raw, &y); err != nil {
				a.logger.Warn("failed to parse document file", "path", path, "error", err)
				return nil
			}
			doc, rb, convErr := a.convert(y)
			if convErr != nil {
				a.logger.Warn("rejected document", "path", path, "error", convErr)
				if doc.SourceLocalID == "" {
					return nil
				}
				// A rejected runbook (e.g. a decision-tree cycle) stays
				// indexed as a plain document.
			}
			docs[doc.SourceLocalID] = doc
			if rb != nil {
				runbooks[rb.ID] = *rb
			}
			return nil
		})
		if err != nil {
			return false, domain.WrapError(domain.ErrKindSourceUnavailable, a.cfg.Name, "failed walking source path", err)
		}
	}

	if a.db != nil {
		if err := a.persist(ctx, docs); err != nil {
			a.logger.Warn("failed to persist local index", "error", err)
		}
	}

	a.mu.Lock()
	a.docs = docs
	a.runbooks = runbooks
	a.lastIndex = time.Now()
	a.mu.Unlock()

	return true, nil
}

func (a *fileAdapter) convert(y yamlDocument) (domain.Document, *domain.Runbook, error) {
	localID := y.ID
	if localID == "" {
		return domain.Document{}, nil, fmt.Errorf("document is missing an id")
	}

	doc := domain.Document{
		SourceName:    a.cfg.Name,
		SourceLocalID: localID,
		Title:         y.Title,
		Content:       y.Content,
		Category:      domain.DocumentCategory(y.Category),
		LastUpdated:   y.LastUpdated,
		URL:           y.URL,
		Metadata:      y.Metadata,
	}

	if len(y.Triggers) == 0 {
		return doc, nil, nil
	}

	severityMap := make(map[string]domain.Severity, len(y.SeverityMap))
	for k, v := range y.SeverityMap {
		severityMap[k] = domain.Severity(v)
	}

	branches := make([]domain.Branch, 0, len(y.DecisionTree.Branches))
	for _, b := range y.DecisionTree.Branches {
		branches = append(branches, domain.Branch{
			ID: b.ID, Condition: b.Condition, Description: b.Description,
			Action: b.Action, NextStepID: b.NextStepID,
			Confidence: b.Confidence, RollbackStepID: b.RollbackStepID,
		})
	}
	tree := domain.DecisionTree{
		ID: y.DecisionTree.ID, Name: y.DecisionTree.Name,
		Description: y.DecisionTree.Description, Branches: branches,
		DefaultAction: y.DecisionTree.DefaultAction,
	}
	if err := domain.ValidateDecisionTree(tree); err != nil {
		return doc, nil, fmt.Errorf("decision tree %s: %w", tree.ID, err)
	}

	procedures := make([]domain.ProcedureStep, 0, len(y.Procedures))
	for _, p := range y.Procedures {
		procedures = append(procedures, domain.ProcedureStep{
			ID: p.ID, Name: p.Name, Description: p.Description, Command: p.Command,
			ExpectedOutcome: p.ExpectedOutcome, TimeoutSeconds: p.TimeoutSeconds,
			Prerequisites: p.Prerequisites, RollbackRef: p.RollbackRef, ToolsRequired: p.ToolsRequired,
		})
	}

	rb := domain.Runbook{
		Document:          doc,
		ID:                localID,
		Version:           y.Version,
		Triggers:          y.Triggers,
		SeverityMap:       severityMap,
		DecisionTree:      tree,
		Procedures:        procedures,
		EscalationPathRef: y.EscalationPathRef,
		Rollup:            domain.RunbookMetadata{Author: y.Author, Confidence: y.Confidence},
	}
	return doc, &rb, nil
}

func (a *fileAdapter) persist(ctx context.Context, docs map[string]domain.Document) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO documents (source_local_id, category, last_updated, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.SourceLocalID, string(d.Category), d.LastUpdated, []byte(d.Content)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (a *fileAdapter) Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error) {
	filters = filters.Normalized()
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []domain.SearchResult
	q := strings.ToLower(query)
	for _, d := range a.docs {
		confidence := textMatchConfidence(q, d.Title, d.Content)
		if confidence <= 0 {
			continue
		}
		if !filters.Allows(domain.SourceTypeFile, d.Category, d.LastUpdated, confidence) {
			continue
		}
		results = append(results, domain.SearchResult{
			ID: d.ID(), Title: d.Title, ContentExcerpt: excerpt(d.Content),
			SourceName: a.cfg.Name, SourceType: domain.SourceTypeFile, Category: d.Category,
			Confidence: confidence, MatchReasons: []string{"text match in local document"},
			LastUpdated: d.LastUpdated, URL: d.URL, Metadata: d.Metadata,
		})
	}
	sortSearchResults(results)
	return clampResults(results, filters.MaxResults), nil
}

func (a *fileAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var scores []domain.RunbookScore
	for _, rb := range a.runbooks {
		s := domain.ScoreRunbook(rb, alertType, severity, affectedSystems)
		if s.Confidence > 0 {
			scores = append(scores, s)
		}
	}
	sortRunbookScores(scores)
	return scores, nil
}

func (a *fileAdapter) GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d, ok := a.docs[sourceLocalID]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (a *fileAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	start := time.Now()
	if a.db == nil {
		return HealthResult{Healthy: false, Error: "index not initialized"}, nil
	}
	err := a.db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return HealthResult{Healthy: false, Latency: latency, Error: err.Error()}, nil
	}
	return HealthResult{Healthy: true, Latency: latency}, nil
}

func (a *fileAdapter) Metadata(ctx context.Context) (Metadata, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Metadata{
		Name: a.cfg.Name, Type: domain.SourceTypeFile,
		DocumentCount: len(a.docs), LastIndexed: a.lastIndex, SuccessRate: 1.0,
	}, nil
}

// textMatchConfidence is a small, deterministic scoring function: 1.0 for
// a title match, 0.6 for a content match, 0 otherwise. It exists so the
// file adapter has a usable default without an embedding/model
// dependency (embedding is a config-gated concern owned by the query
// processor's strategy selection, not the adapter).
func textMatchConfidence(query, title, content string) float64 {
	if query == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(title), query) {
		return 1.0
	}
	if strings.Contains(strings.ToLower(content), query) {
		return 0.6
	}
	return 0
}

func excerpt(content string) string {
	const max = 280
	if len(content) <= max {
		return content
	}
	return content[:max] + "…"
}
