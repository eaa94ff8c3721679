package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Metadata is the response-envelope metadata block.
type Metadata struct {
	CorrelationID   string `json:"correlation_id"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
	PerformanceTier string `json:"performance_tier"`
	Cached          bool   `json:"cached"`
	LimitClamped    bool   `json:"limit_clamped,omitempty"`
}

// Envelope is the uniform HTTP response shape.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Metadata  Metadata  `json:"metadata"`
	Timestamp string    `json:"timestamp"`
}

// performanceTier buckets a response time: fast < 100ms, medium < 300ms,
// slow otherwise.
func performanceTier(elapsed time.Duration) string {
	switch {
	case elapsed < 100*time.Millisecond:
		return "fast"
	case elapsed < 300*time.Millisecond:
		return "medium"
	default:
		return "slow"
	}
}

const (
	headerCorrelationID   = "X-Correlation-ID"
	headerResponseTimeMS  = "X-Response-Time-Ms"
	headerPerformanceTier = "X-Performance-Tier"
	headerCacheHint       = "X-Cache"
)

// writeSuccess emits a success envelope with the standard headers.
func writeSuccess(w http.ResponseWriter, r *http.Request, status int, data any, cached, limitClamped bool) {
	start := requestStart(r.Context())
	elapsed := time.Since(start)
	correlationID := CorrelationID(r.Context())

	cacheHint := "MISS"
	if cached {
		cacheHint = "HIT"
	}
	w.Header().Set(headerCorrelationID, correlationID)
	w.Header().Set(headerResponseTimeMS, formatMS(elapsed))
	w.Header().Set(headerPerformanceTier, performanceTier(elapsed))
	w.Header().Set(headerCacheHint, cacheHint)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(Envelope{
		Success: true,
		Data:    data,
		Metadata: Metadata{
			CorrelationID:   correlationID,
			ExecutionTimeMS: elapsed.Milliseconds(),
			PerformanceTier: performanceTier(elapsed),
			Cached:          cached,
			LimitClamped:    limitClamped,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError emits an error envelope; the status comes from the error
// code unless overridden.
func writeError(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	writeErrorStatus(w, r, apiErr, apiErr.StatusCode())
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, apiErr *APIError, status int) {
	start := requestStart(r.Context())
	elapsed := time.Since(start)
	correlationID := CorrelationID(r.Context())
	if apiErr.Details.CorrelationID == "" {
		apiErr.Details.CorrelationID = correlationID
	}

	w.Header().Set(headerCorrelationID, correlationID)
	w.Header().Set(headerResponseTimeMS, formatMS(elapsed))
	w.Header().Set(headerPerformanceTier, performanceTier(elapsed))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error:   apiErr,
		Metadata: Metadata{
			CorrelationID:   correlationID,
			ExecutionTimeMS: elapsed.Milliseconds(),
			PerformanceTier: performanceTier(elapsed),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func formatMS(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
