package adapter

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// webAdapter accesses a generic HTTP documentation API: a flat
// `/search` endpoint and a `/runbooks/search` endpoint, each returning a
// JSON array wrapped in an envelope. This is the simplest of the
// HTTP-backed variants; wiki and git-host layer pagination and
// different auth schemes on top of the same httpBase transport.
type webAdapter struct {
	cfg  domain.SourceConfig
	http *httpBase
}

func newWebAdapter(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	return &webAdapter{
		cfg:  cfg,
		http: newHTTPBase(cfg, deps.Credentials, deps.Logger.With("adapter", cfg.Name, "type", "web")),
	}, nil
}

func (a *webAdapter) Name() string { return a.cfg.Name }

func (a *webAdapter) Initialize(ctx context.Context) error {
	a.http.resolveAuth(a.cfg.Auth)
	return nil
}

func (a *webAdapter) Shutdown(ctx context.Context) error { return nil }

func (a *webAdapter) Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error) {
	filters = filters.Normalized()
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(filters.MaxResults))

	var env searchEnvelope
	if err := a.http.doGet(ctx, "/search", q, &env); err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(env.Results))
	for _, w := range env.Results {
		doc := w.toDocument(a.cfg.Name)
		confidence := textMatchConfidence(query, doc.Title, doc.Content)
		if confidence <= 0 {
			confidence = 0.5 // the source already filtered by q; treat as a baseline match
		}
		if !filters.Allows(domain.SourceTypeWeb, doc.Category, doc.LastUpdated, confidence) {
			continue
		}
		results = append(results, domain.SearchResult{
			ID: doc.ID(), Title: doc.Title, ContentExcerpt: excerpt(doc.Content),
			SourceName: a.cfg.Name, SourceType: domain.SourceTypeWeb, Category: doc.Category,
			Confidence: confidence, MatchReasons: []string{"matched by source search API"},
			LastUpdated: doc.LastUpdated, URL: doc.URL, Metadata: doc.Metadata,
		})
	}
	sortSearchResults(results)
	return clampResults(results, filters.MaxResults), nil
}

func (a *webAdapter) SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error) {
	q := url.Values{}
	q.Set("alert_type", alertType)
	q.Set("severity", string(severity))
	for _, s := range affectedSystems {
		q.Add("systems", s)
	}

	var env runbookEnvelope
	if err := a.http.doGet(ctx, "/runbooks/search", q, &env); err != nil {
		return nil, err
	}

	var scores []domain.RunbookScore
	for _, w := range env.Runbooks {
		rb, err := w.toRunbook(a.cfg.Name)
		if err != nil {
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

func (a *webAdapter) GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error) {
	var w wireDocument
	if err := a.http.doGet(ctx, "/documents/"+url.PathEscape(sourceLocalID), nil, &w); err != nil {
		return domain.Document{}, err
	}
	return w.toDocument(a.cfg.Name), nil
}

func (a *webAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	return a.http.healthCheck(ctx)
}

func (a *webAdapter) Metadata(ctx context.Context) (Metadata, error) {
	return Metadata{Name: a.cfg.Name, Type: domain.SourceTypeWeb, LastIndexed: time.Now(), SuccessRate: 1.0}, nil
}

func (a *webAdapter) RefreshIndex(ctx context.Context, force bool) (bool, error) {
	// A remote web source has no local index to refresh; it is always
	// queried live.
	return false, nil
}
