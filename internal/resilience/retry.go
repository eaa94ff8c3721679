package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

// RetryPolicy defines retry behavior with exponential backoff. The
// registry applies one policy per adapter call: up to MaxRetries
// additional attempts on transient failure, delays starting at
// BaseDelay, doubling, capped at MaxDelay.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first
	// (0 = no retries).
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter adds up to 10% randomness to each delay to avoid
	// synchronized retry storms across sources.
	Jitter bool

	// Logger for retry events. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// DefaultRetryPolicy returns the engine's stated backoff defaults:
// 3 retries, 100ms initial delay, doubling, capped at 5s.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry executes operation, retrying on transient failures per the
// policy. Only errors whose kind is retryable (source-unavailable,
// rate-limited) consume retry budget; everything else — validation,
// not-found, permanent source errors, circuit-open rejections — returns
// immediately. Context cancellation during a delay returns ctx.Err().
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func(context.Context) error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.delayFor(attempt)
			logger.Debug("retrying after transient failure",
				"attempt", attempt, "max_retries", policy.MaxRetries, "delay", delay, "error", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// delayFor computes the backoff delay before the given attempt (1-based).
func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += delay * 0.1 * rand.Float64()
	}
	return time.Duration(delay)
}

// isRetryable maps the engine's error taxonomy onto retry eligibility.
// Circuit-open rejections never consume retry budget: the source
// was not contacted, so retrying in a tight loop buys nothing.
func isRetryable(err error) bool {
	if errors.Is(err, ErrOpen) {
		return false
	}
	if kind, ok := domain.KindOf(err); ok {
		return kind.Retryable()
	}
	// Unclassified errors (raw timeouts from an adapter's transport)
	// are treated as transient.
	return true
}
