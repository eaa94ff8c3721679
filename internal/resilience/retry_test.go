package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vitaliisemenov/runbook-engine/internal/domain"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryRetriesTransient(t *testing.T) {
	transient := domain.WrapError(domain.ErrKindSourceUnavailable, "src", "timeout", nil)
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	transient := domain.WrapError(domain.ErrKindSourceUnavailable, "src", "timeout", nil)
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(2), func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("err = %v, want the transient error", err)
	}
	if calls != 3 { // 1 initial + 2 retries
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryDoesNotRetryPermanent(t *testing.T) {
	permanent := domain.WrapError(domain.ErrKindSourceError, "src", "bad credentials", nil)
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (permanent errors are never retried)", calls)
	}
}

func TestWithRetryDoesNotRetryCircuitOpen(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return ErrOpen
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (open-circuit rejections do not consume retry budget)", calls)
	}
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transient := domain.WrapError(domain.ErrKindSourceUnavailable, "src", "timeout", nil)

	policy := &RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2.0}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := WithRetry(ctx, policy, func(ctx context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDelayForCapsAtMax(t *testing.T) {
	p := &RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	if d := p.delayFor(1); d != 100*time.Millisecond {
		t.Fatalf("delayFor(1) = %v, want 100ms", d)
	}
	if d := p.delayFor(2); d != 200*time.Millisecond {
		t.Fatalf("delayFor(2) = %v, want 200ms", d)
	}
	if d := p.delayFor(10); d != 5*time.Second {
		t.Fatalf("delayFor(10) = %v, want capped 5s", d)
	}
}
