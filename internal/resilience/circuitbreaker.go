// Package resilience provides the per-source circuit breaker and the
// centralized retry-with-backoff policy the adapter registry wraps every
// adapter call in.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is one of closed, open, half-open.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected because the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

type callResult struct {
	timestamp time.Time
	success   bool
}

// Config holds circuit breaker parameters. Fields left zero take the
// CircuitBreaker's built-in defaults: failure threshold 5, cooldown
// 30s, half-open probe budget 1, success threshold to close 2.
type Config struct {
	FailureThreshold    int
	Cooldown            time.Duration
	HalfOpenMaxCalls    int
	SuccessThreshold    int
	SlidingWindow       time.Duration
}

// DefaultConfig returns the engine's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
		SlidingWindow:    60 * time.Second,
	}
}

// CircuitBreaker protects callers from a single failing source. One
// instance is created lazily per source name by the registry.
type CircuitBreaker struct {
	name   string
	config Config
	logger *slog.Logger
	metrics *Metrics

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastStateChange      time.Time
	lastFailure          time.Time
	halfOpenCalls        int
	results              []callResult
}

// New creates a CircuitBreaker for one source. A zero-value Config takes
// DefaultConfig's values field-by-field.
func New(name string, config Config, logger *slog.Logger, metrics *Metrics) *CircuitBreaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.SlidingWindow <= 0 {
		config.SlidingWindow = def.SlidingWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger.With("source", name, "component", "circuit_breaker"),
		metrics:         metrics,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Call executes operation guarded by the circuit breaker. If the circuit
// is open and fallback is non-nil, fallback's error is returned instead
// (its outcome is not recorded against the circuit breaker, since the
// source itself was never contacted).
func (cb *CircuitBreaker) Call(ctx context.Context, operation func(context.Context) error, fallback func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		if fallback != nil {
			return fallback(ctx)
		}
		return err
	}

	err := operation(ctx)
	cb.afterCall(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Cooldown {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenCalls = 1
			return nil
		}
		if cb.metrics != nil {
			cb.metrics.RequestsBlocked.WithLabelValues(cb.name).Inc()
		}
		return ErrOpen

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.RequestsBlocked.WithLabelValues(cb.name).Inc()
			}
			return ErrOpen
		}
		cb.halfOpenCalls++
		return nil

	default: // StateClosed
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		// The probe has finished; its slot is free for the next probe.
		cb.halfOpenCalls--
	}

	now := time.Now()
	cb.results = append(cb.results, callResult{timestamp: now, success: success})
	cb.pruneWindow(now)

	if success {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
		if cb.metrics != nil {
			cb.metrics.Successes.WithLabelValues(cb.name).Inc()
		}
	} else {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
		cb.lastFailure = now
		if cb.metrics != nil {
			cb.metrics.Failures.WithLabelValues(cb.name).Inc()
		}
	}

	switch cb.state {
	case StateClosed:
		if !success && cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			cb.transitionTo(StateOpen)
		} else if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(to State) {
	from := cb.state
	cb.state = to
	cb.lastStateChange = time.Now()
	cb.halfOpenCalls = 0

	if to == StateClosed {
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.results = cb.results[:0]
	}

	cb.logger.Info("circuit breaker state transition", "from", from.String(), "to", to.String())
	if cb.metrics != nil {
		cb.metrics.StateChanges.WithLabelValues(cb.name, from.String(), to.String()).Inc()
		cb.metrics.State.WithLabelValues(cb.name).Set(float64(to))
	}
}

func (cb *CircuitBreaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-cb.config.SlidingWindow)
	firstValid := 0
	for i, r := range cb.results {
		if r.timestamp.After(cutoff) {
			firstValid = i
			break
		}
		firstValid = i + 1
	}
	if firstValid > 0 {
		cb.results = cb.results[firstValid:]
	}
}

// State returns the breaker's current state (thread-safe).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot of the breaker's counters.
type Stats struct {
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time
	LastStateChange     time.Time
	NextRetryAt         time.Time
}

// Stats returns a snapshot of the breaker's counters (thread-safe).
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var next time.Time
	if cb.state == StateOpen {
		next = cb.lastStateChange.Add(cb.config.Cooldown)
	}

	return Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
		NextRetryAt:         next,
	}
}

// Reset forces the breaker back to closed. Intended for operator/admin use.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}
