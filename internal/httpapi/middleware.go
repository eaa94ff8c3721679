package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/runbook-engine/internal/health"
	"github.com/vitaliisemenov/runbook-engine/pkg/logger"
)

type contextKey string

const requestStartKey contextKey = "request_start"

// maxBodyBytes is the request body-size limit (10 MiB).
const maxBodyBytes = 10 << 20

// CorrelationID extracts the request's correlation id from its context.
// The id lives in the logger package's context slot so request-scoped
// log lines and response envelopes always agree on it.
func CorrelationID(ctx context.Context) string {
	return logger.CorrelationID(ctx)
}

func requestStart(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestStartKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// validCorrelationID enforces the id shape: 1-100 chars, alphanumerics
// plus underscore and dash.
func validCorrelationID(id string) bool {
	if len(id) == 0 || len(id) > 100 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// correlationMiddleware attaches the correlation id and request start
// time. An incoming X-Correlation-ID is honored if valid; otherwise a
// new UUID is assigned.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerCorrelationID)
		if !validCorrelationID(id) {
			id = uuid.New().String()
		}
		ctx := logger.WithCorrelationID(r.Context(), id)
		ctx = context.WithValue(ctx, requestStartKey, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bodyLimitMiddleware rejects oversized bodies up front when the client
// declares a length, and caps reads otherwise.
func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength >= maxBodyBytes {
			writeError(w, r, &APIError{
				Code:    CodeRequestTooLarge,
				Message: "request body exceeds the 10 MiB limit",
				Details: ErrorDetails{
					CorrelationID:   CorrelationID(r.Context()),
					RecoveryActions: []string{"reduce the request payload"},
				},
			})
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// concurrencyMiddleware applies the max-concurrent-requests backpressure
// gate: beyond the cap, requests are rejected with 503 and a retry-after
// hint rather than queued.
func concurrencyMiddleware(maxConcurrent int) func(http.Handler) http.Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	slots := make(chan struct{}, maxConcurrent)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case slots <- struct{}{}:
				defer func() { <-slots }()
				next.ServeHTTP(w, r)
			default:
				w.Header().Set("Retry-After", "1")
				writeError(w, r, &APIError{
					Code:    CodeOverloaded,
					Message: "server is at its concurrent-request limit",
					Details: ErrorDetails{
						CorrelationID:    CorrelationID(r.Context()),
						RecoveryActions:  []string{"retry after the indicated delay"},
						RetryRecommended: true,
					},
				})
			}
		})
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records per-operation latency and outcome into the
// performance tracker.
func metricsMiddleware(tracker *health.PerformanceTracker, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tracker == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			tracker.Observe(operation, time.Since(start), rec.status < 400)
		})
	}
}

// recoveryMiddleware converts panics into a 500 envelope instead of a
// dropped connection.
func recoveryMiddleware(logFn func(msg string, args ...any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logFn != nil {
						logFn("handler panic", "panic", rec, "path", r.URL.Path, "correlation_id", CorrelationID(r.Context()))
					}
					writeError(w, r, &APIError{
						Code:    CodeInternalError,
						Message: "an internal error occurred",
						Details: ErrorDetails{
							CorrelationID:    CorrelationID(r.Context()),
							RecoveryActions:  []string{"retry the request"},
							RetryRecommended: true,
						},
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
