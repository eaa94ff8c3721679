package adapter

import (
	"sort"
	"strings"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// EscapeLocalID escapes the colon (the engine-id separator) inside a
// source-local id.
func EscapeLocalID(localID string) string {
	return strings.ReplaceAll(localID, ":", `\:`)
}

// UnescapeLocalID reverses EscapeLocalID.
func UnescapeLocalID(escaped string) string {
	return strings.ReplaceAll(escaped, `\:`, ":")
}

// sortRunbookScores orders candidates from one adapter: higher
// confidence first, then more recently updated.
// (Source priority is uniform within a single adapter's own results; the
// registry applies the cross-source priority tie-break during
// aggregation.)
func sortRunbookScores(scores []domain.RunbookScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return scores[i].Runbook.LastUpdated.After(scores[j].Runbook.LastUpdated)
	})
}

// sortSearchResults orders results by descending confidence, then more
// recently updated, matching the same tie-break shape.
func sortSearchResults(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].LastUpdated.After(results[j].LastUpdated)
	})
}

func clampResults[T any](items []T, max int) []T {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}
