package tools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the closed set of resolution outcomes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
		return true
	}
	return false
}

// FeedbackEntry is one recorded resolution.
type FeedbackEntry struct {
	ID                string    `json:"id"`
	RunbookID         string    `json:"runbook_id"`
	ProcedureID       string    `json:"procedure_id"`
	Outcome           Outcome   `json:"outcome"`
	ResolutionMinutes float64   `json:"resolution_time_minutes"`
	Notes             string    `json:"notes,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// RunbookRollup is the running aggregate per runbook.
type RunbookRollup struct {
	SuccessCount      int     `json:"success_count"`
	PartialCount      int     `json:"partial_count"`
	FailureCount      int     `json:"failure_count"`
	TotalCount        int     `json:"total_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResolutionMins float64 `json:"average_resolution_minutes"`
}

// FeedbackLedger is the engine's in-memory resolution-feedback store:
// append-only, bounded, oldest entries evicted first. Durability is a
// deliberate open point; the Snapshot method is the hook a future
// persistent store would drain.
type FeedbackLedger struct {
	mu      sync.Mutex
	entries []FeedbackEntry
	rollups map[string]*RunbookRollup
	maxSize int
}

// NewFeedbackLedger creates a ledger bounded to maxSize entries
// (default 10000 when maxSize <= 0).
func NewFeedbackLedger(maxSize int) *FeedbackLedger {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &FeedbackLedger{
		rollups: make(map[string]*RunbookRollup),
		maxSize: maxSize,
	}
}

// Append records one resolution and updates the runbook's rollup.
// Appends are additive: two identical calls move the counters by exactly
// two regardless of interleaving.
func (l *FeedbackLedger) Append(runbookID, procedureID string, outcome Outcome, resolutionMinutes float64, notes string) FeedbackEntry {
	entry := FeedbackEntry{
		ID:                uuid.New().String(),
		RunbookID:         runbookID,
		ProcedureID:       procedureID,
		Outcome:           outcome,
		ResolutionMinutes: resolutionMinutes,
		Notes:             notes,
		RecordedAt:        time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}

	r, ok := l.rollups[runbookID]
	if !ok {
		r = &RunbookRollup{}
		l.rollups[runbookID] = r
	}
	switch outcome {
	case OutcomeSuccess:
		r.SuccessCount++
	case OutcomePartial:
		r.PartialCount++
	case OutcomeFailure:
		r.FailureCount++
	}
	prevTotal := float64(r.TotalCount)
	r.TotalCount++
	r.SuccessRate = float64(r.SuccessCount) / float64(r.TotalCount)
	r.AvgResolutionMins = (r.AvgResolutionMins*prevTotal + resolutionMinutes) / float64(r.TotalCount)

	return entry
}

// Rollup returns the aggregate for one runbook, if any feedback exists.
func (l *FeedbackLedger) Rollup(runbookID string) (RunbookRollup, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rollups[runbookID]
	if !ok {
		return RunbookRollup{}, false
	}
	return *r, true
}

// Snapshot returns a copy of the current entries, oldest first.
func (l *FeedbackLedger) Snapshot() []FeedbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FeedbackEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current entry count.
func (l *FeedbackLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
