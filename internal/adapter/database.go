package adapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// databaseAdapter queries a Postgres-backed documentation store: a
// `documents` table for general content and a `runbooks` table carrying
// the structured incident-response fields, joined by source-local id.
type databaseAdapter struct {
	cfg    domain.SourceConfig
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func newDatabaseAdapter(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	return &databaseAdapter{cfg: cfg, logger: deps.Logger.With("adapter", cfg.Name, "type", "database")}, nil
}

func (a *databaseAdapter) Name() string { return a.cfg.Name }

func (a *databaseAdapter) Initialize(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(a.cfg.BaseURL)
	if err != nil {
		return domain.WrapError(domain.ErrKindFatal, a.cfg.Name, "invalid database DSN", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return domain.WrapError(domain.ErrKindSourceUnavailable, a.cfg.Name, "failed to connect", err)
	}
	a.pool = pool
	return nil
}

func (a *databaseAdapter) Shutdown(ctx context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func (a *databaseAdapter) Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error) {
	filters = filters.Normalized()
	rows, err := a.pool.Query(ctx, `
		SELECT source_local_id, title, content, category, last_updated, url, metadata
		FROM documents
		WHERE title ILIKE '%' || $1 || '%' OR content ILIKE '%' || $1 || '%'
		ORDER BY last_updated DESC
		LIMIT $2`, query, filters.MaxResults)
	if err != nil {
		return nil, classifyPgError(a.cfg.Name, err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			localID, title, content, category, urlStr string
			lastUpdated                                time.Time
			metaRaw                                    []byte
		)
		if err := rows.Scan(&localID, &title, &content, &category, &lastUpdated, &urlStr, &metaRaw); err != nil {
			return nil, domain.WrapError(domain.ErrKindSourceError, a.cfg.Name, "malformed row", err)
		}
		meta := map[string]string{}
		_ = json.Unmarshal(metaRaw, &meta)

		confidence := textMatchConfidence(query, title, content)
		if confidence <= 0 {
			confidence = 0.5
		}
		cat := domain.DocumentCategory(category)
		if !filters.Allows(domain.SourceTypeDatabase, cat, lastUpdated, confidence) {
			continue
		}
		doc := domain.Document{SourceName: a.cfg.Name, SourceLocalID: localID, Title: title, Content: content, Category: cat, LastUpdated: lastUpdated, URL: urlStr, Metadata: meta}
		results = append(results, domain.SearchResult{
			ID: doc.ID(), Title: title, ContentExcerpt: excerpt(content),
			SourceName: a.cfg.Name, SourceType: domain.SourceTypeDatabase, Category: cat,
			Confidence: confidence, MatchReasons: []string{"matched database full-text filter"},
			LastUpdated: lastUpdated, URL: urlStr, Metadata: meta,
		})
	}
	sortSearchResults(results)
	return clampResults(results, filters.MaxResults), rows.Err()
}

func (a *databaseAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT r.id, r.version, r.triggers, r.severity_map, r.decision_tree, r.procedures,
		       r.escalation_path_ref, r.author, r.confidence,
		       d.title, d.content, d.category, d.last_updated, d.url, d.metadata
		FROM runbooks r JOIN documents d ON d.source_local_id = r.id
		WHERE $1 = '' OR $1 = ANY(r.triggers)`, alertType)
	if err != nil {
		return nil, classifyPgError(a.cfg.Name, err)
	}
	defer rows.Close()

	var scores []domain.RunbookScore
	for rows.Next() {
		var (
			id, version, escalationRef, author, title, content, category, urlStr string
			triggers                                                              []string
			severityMapRaw, treeRaw, proceduresRaw, metaRaw                       []byte
			confidence                                                            float64
			lastUpdated                                                           time.Time
		)
		if err := rows.Scan(&id, &version, &triggers, &severityMapRaw, &treeRaw, &proceduresRaw,
			&escalationRef, &author, &confidence, &title, &content, &category, &lastUpdated, &urlStr, &metaRaw); err != nil {
			return nil, domain.WrapError(domain.ErrKindSourceError, a.cfg.Name, "malformed runbook row", err)
		}

		var severityMap map[string]domain.Severity
		_ = json.Unmarshal(severityMapRaw, &severityMap)
		var tree domain.DecisionTree
		_ = json.Unmarshal(treeRaw, &tree)
		if err := domain.ValidateDecisionTree(tree); err != nil {
			a.logger.Warn("runbook rejected: decision tree cycle", "runbook_id", id, "error", err)
			continue
		}
		var procedures []domain.ProcedureStep
		_ = json.Unmarshal(proceduresRaw, &procedures)
		meta := map[string]string{}
		_ = json.Unmarshal(metaRaw, &meta)

		rb := domain.Runbook{
			Document: domain.Document{
				SourceName: a.cfg.Name, SourceLocalID: id, Title: title, Content: content,
				Category: domain.DocumentCategory(category), LastUpdated: lastUpdated, URL: urlStr, Metadata: meta,
			},
			ID: id, Version: version, Triggers: triggers, SeverityMap: severityMap,
			DecisionTree: tree, Procedures: procedures, EscalationPathRef: escalationRef,
			Rollup: domain.RunbookMetadata{Author: author, Confidence: confidence},
		}
		s := domain.ScoreRunbook(rb, alertType, severity, affectedSystems)
		if s.Confidence > 0 {
			scores = append(scores, s)
		}
	}
	sortRunbookScores(scores)
	return scores, rows.Err()
}

func (a *databaseAdapter) GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT title, content, category, last_updated, url, metadata
		FROM documents WHERE source_local_id = $1`, sourceLocalID)

	var title, content, category, urlStr string
	var lastUpdated time.Time
	var metaRaw []byte
	if err := row.Scan(&title, &content, &category, &lastUpdated, &urlStr, &metaRaw); err != nil {
		if isPgNoRows(err) {
			return domain.Document{}, domain.ErrNotFound
		}
		return domain.Document{}, classifyPgError(a.cfg.Name, err)
	}
	meta := map[string]string{}
	_ = json.Unmarshal(metaRaw, &meta)
	return domain.Document{
		SourceName: a.cfg.Name, SourceLocalID: sourceLocalID, Title: title, Content: content,
		Category: domain.DocumentCategory(category), LastUpdated: lastUpdated, URL: urlStr, Metadata: meta,
	}, nil
}

func (a *databaseAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	start := time.Now()
	err := a.pool.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		return HealthResult{Healthy: false, Latency: latency, Error: err.Error()}, nil
	}
	return HealthResult{Healthy: true, Latency: latency}, nil
}

func (a *databaseAdapter) Metadata(ctx context.Context) (Metadata, error) {
	var count int
	row := a.pool.QueryRow(ctx, "SELECT count(*) FROM documents")
	_ = row.Scan(&count)
	return Metadata{Name: a.cfg.Name, Type: domain.SourceTypeDatabase, DocumentCount: count, LastIndexed: time.Now(), SuccessRate: 1.0}, nil
}

func (a *databaseAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	// The database variant queries live tables directly; there is no
	// separate index to refresh.
	return false, nil
}
