// Package adapter defines the uniform, read-only contract every
// documentation-source variant implements, plus a factory keyed
// by source-type string. The registry (internal/registry) is the only
// caller permitted to invoke an Adapter.
package adapter

import (
	"context"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// Filters narrows a search or runbook search. The zero value is the
// engine's default: no source-type restriction, no age cap, no severity
// filter, no category restriction, confidence threshold 0.0, max 50
// results.
type Filters struct {
	SourceTypes   []domain.SourceType
	MaxAgeDays    int
	Severity      domain.Severity
	Categories    []domain.DocumentCategory
	MinConfidence float64
	MaxResults    int
}

// Normalized returns a copy of f with the engine's defaults applied to
// zero fields.
func (f Filters) Normalized() Filters {
	if f.MaxResults <= 0 {
		f.MaxResults = 50
	}
	return f
}

// Allows reports whether a document meeting the given attributes passes
// this filter set. Adapters MUST NOT return results failing this check.
func (f Filters) Allows(sourceType domain.SourceType, category domain.DocumentCategory, lastUpdated time.Time, confidence float64) bool {
	if confidence < f.MinConfidence {
		return false
	}
	if len(f.SourceTypes) > 0 && !containsSourceType(f.SourceTypes, sourceType) {
		return false
	}
	if len(f.Categories) > 0 && !containsCategory(f.Categories, category) {
		return false
	}
	if f.MaxAgeDays > 0 && !lastUpdated.IsZero() {
		if time.Since(lastUpdated) > time.Duration(f.MaxAgeDays)*24*time.Hour {
			return false
		}
	}
	return true
}

func containsSourceType(list []domain.SourceType, want domain.SourceType) bool {
	for _, t := range list {
		if t == want {
			return true
		}
	}
	return false
}

func containsCategory(list []domain.DocumentCategory, want domain.DocumentCategory) bool {
	for _, c := range list {
		if c == want {
			return true
		}
	}
	return false
}

// HealthResult is the outcome of an adapter's health-check call.
type HealthResult struct {
	Healthy  bool
	Latency  time.Duration
	Error    string
	Metadata map[string]string
}

// Metadata describes one adapter's identity and operating stats.
type Metadata struct {
	Name          string
	Type          domain.SourceType
	DocumentCount int
	LastIndexed   time.Time
	AverageLatency time.Duration
	SuccessRate   float64
}

// Adapter is the uniform, read-only capability set every source variant
// implements. All methods MUST NOT retry internally; the registry owns
// retry policy.
type Adapter interface {
	Search(ctx context.Context, query string, filters Filters) ([]domain.SearchResult, error)
	SearchRunbooks(ctx context.Context, alertType string, severity domain.Severity, affectedSystems []string, queryContext map[string]string) ([]domain.RunbookScore, error)
	GetDocument(ctx context.Context, sourceLocalID string) (domain.Document, error)
	HealthCheck(ctx context.Context) (HealthResult, error)
	Metadata(ctx context.Context) (Metadata, error)
	RefreshIndex(ctx context.Context, force bool) (bool, error)

	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Name returns the source name this adapter was configured with.
	Name() string
}
