package adapter

import (
	"context"
	"net/url"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// gitHostAdapter accesses runbooks checked into a repository on a
// hosted Git platform (e.g. GitHub/GitLab): documents are markdown/yaml
// files under a runbooks directory, indexed by the host's own code
// search, paginated the same way the wiki variant is, but authenticated
// with a personal or app token instead of basic/cookie auth.
type gitHostAdapter struct {
	cfg  domain.SourceConfig
	http *httpBase
}

func newGitHostAdapter(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	return &gitHostAdapter{
		cfg:  cfg,
		http: newHTTPBase(cfg, deps.Credentials, deps.Logger.With("adapter", cfg.Name, "type", "git-host")),
	}, nil
}

func (a *gitHostAdapter) Name() string { return a.cfg.Name }

func (a *gitHostAdapter) Initialize(ctx context.Context) error {
	a.http.resolveAuth(a.cfg.Auth)
	return nil
}

func (a *gitHostAdapter) Shutdown(ctx context.Context) error { return nil }

func (a *gitHostAdapter) fetchPaged(ctx context.Context, path string, base url.Values) ([]wireDocument, error) {
	var all []wireDocument
	cursor := ""
	for page := 0; page < maxWikiPages; page++ {
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

func (a *gitHostAdapter) Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error) {
	filters = filters.Normalized()
	items, err := a.fetchPaged(ctx, "/repo/search", url.Values{"q": {query}})
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
		if !filters.Allows(domain.SourceTypeGitHost, doc.Category, doc.LastUpdated, confidence) {
			continue
		}
		results = append(results, domain.SearchResult{
			ID: doc.ID(), Title: doc.Title, ContentExcerpt: excerpt(doc.Content),
			SourceName: a.cfg.Name, SourceType: domain.SourceTypeGitHost, Category: doc.Category,
			Confidence: confidence, MatchReasons: []string{"matched by repository code search"},
			LastUpdated: doc.LastUpdated, URL: doc.URL, Metadata: doc.Metadata,
		})
	}
	sortSearchResults(results)
	return clampResults(results, filters.MaxResults), nil
}

func (a *gitHostAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error) {
	items, err := a.fetchPaged(ctx, "/repo/runbooks", url.Values{"alert_type": {alertType}, "severity": {string(severity)}})
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

func (a *gitHostAdapter) GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error) {
	var w wireDocument
	if err := a.http.doGet(ctx, "/repo/contents/"+url.PathEscape(sourceLocalID), nil, &w); err != nil {
		return domain.Document{}, err
	}
	return w.toDocument(a.cfg.Name), nil
}

func (a *gitHostAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	return a.http.healthCheck(ctx)
}

func (a *gitHostAdapter) Metadata(ctx context.Context) (Metadata, error) {
	return Metadata{Name: a.cfg.Name, Type: domain.SourceTypeGitHost, LastIndexed: time.Now(), SuccessRate: 1.0}, nil
}

func (a *gitHostAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	return false, nil
}
