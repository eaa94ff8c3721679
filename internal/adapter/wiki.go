package adapter

import (
	"context"
	"net/url"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// wikiAdapter accesses a paginated wiki-style API (e.g. Confluence):
// results arrive a page at a time behind a cursor, and auth is typically
// basic or cookie-based rather than a bearer token.
type wikiAdapter struct {
	cfg  domain.SourceConfig
	http *httpBase
}

// maxWikiPages bounds how many pages a single call follows before
// returning what it has; the registry's own per-call timeout is the
// backstop against a pathological cursor loop.
const maxWikiPages = 5

func newWikiAdapter(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	return &wikiAdapter{
		cfg:  cfg,
		http: newHTTPBase(cfg, deps.Credentials, deps.Logger.With("adapter", cfg.Name, "type", "wiki")),
	}, nil
}

func (a *wikiAdapter) Name() string { return a.cfg.Name }

func (a *wikiAdapter) Initialize(ctx context.Context) error {
	a.http.resolveAuth(a.cfg.Auth)
	return nil
}

func (a *wikiAdapter) Shutdown(ctx context.Context) error { return nil }

func (a *wikiAdapter) fetchPages(ctx context.Context, path string, base url.Values, max int) ([]wireDocument, error) {
	var all []wireDocument
	cursor := ""
	for page := 0; page < maxWikiPages && (len(all) < max || max <= 0); page++ {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var env pagedEnvelope
		if err := a.http.doGet(ctx, path, q, &env); err != nil {
			return all, err
		}
		all = append(all, env.Items...)
		if env.NextCursor == "" {
			break
		}
		cursor = env.NextCursor
	}
	return all, nil
}

func (a *wikiAdapter) Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error) {
	filters = filters.Normalized()
	base := url.Values{"q": {query}}
	items, err := a.fetchPages(ctx, "/wiki/search", base, filters.MaxResults)
	if err != nil && len(items) == 0 {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(items))
	for _, w := range items {
		doc := w.toDocument(a.cfg.Name)
		confidence := textMatchConfidence(query, doc.Title, doc.Content)
		if confidence <= 0 {
			confidence = 0.5
		}
		if !filters.Allows(domain.SourceTypeWiki, doc.Category, doc.LastUpdated, confidence) {
			continue
		}
		results = append(results, domain.SearchResult{
			ID: doc.ID(), Title: doc.Title, ContentExcerpt: excerpt(doc.Content),
			SourceName: a.cfg.Name, SourceType: domain.SourceTypeWiki, Category: doc.Category,
			Confidence: confidence, MatchReasons: []string{"matched in wiki page content"},
			LastUpdated: doc.LastUpdated, URL: doc.URL, Metadata: doc.Metadata,
		})
	}
	sortSearchResults(results)
	return clampResults(results, filters.MaxResults), nil
}

func (a *wikiAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error) {
	base := url.Values{"alert_type": {alertType}, "severity": {string(severity)}}
	items, err := a.fetchPages(ctx, "/wiki/runbooks", base, 0)
	if err != nil && len(items) == 0 {
		return nil, err
	}

	var scores []domain.RunbookScore
	for _, w := range items {
		rb, convErr := w.toRunbook(a.cfg.Name)
		if convErr != nil {
			continue
		}
		s := domain.ScoreRunbook(rb, alertType, severity, affectedSystems)
		if s.Confidence > 0 {
			scores = append(scores, s)
		}
	}
	sortRunbookScores(scores)
	return scores, nil
}

func (a *wikiAdapter) GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error) {
	var w wireDocument
	if err := a.http.doGet(ctx, "/wiki/pages/"+url.PathEscape(sourceLocalID), nil, &w); err != nil {
		return domain.Document{}, err
	}
	return w.toDocument(a.cfg.Name), nil
}

func (a *wikiAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	return a.http.healthCheck(ctx)
}

func (a *wikiAdapter) Metadata(ctx context.Context) (Metadata, error) {
	return Metadata{Name: a.cfg.Name, Type: domain.SourceTypeWiki, LastIndexed: time.Now(), SuccessRate: 1.0}, nil
}

func (a *wikiAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	return false, nil
}
