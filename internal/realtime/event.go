// Package realtime broadcasts operational events (circuit-breaker
// transitions, source health changes, cache degradation) to connected
// operator clients over WebSocket.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type, one of the EventType constants.
	Type string `json:"type"`

	// ID is a unique event ID (UUID).
	ID string `json:"id"`

	// Data is the event payload (varies by event type).
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Source is the event source, one of the EventSource constants.
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing).
	Sequence int64 `json:"sequence"`
}

// EventType constants for operational events.
const (
	EventTypeCircuitOpened       = "circuit_opened"
	EventTypeCircuitHalfOpen     = "circuit_half_open"
	EventTypeCircuitClosed       = "circuit_closed"
	EventTypeSourceHealthChanged = "source_health_changed"
	EventTypeCacheDegraded       = "cache_degraded"
	EventTypeCacheRecovered      = "cache_recovered"
	EventTypeSystemNotification  = "system_notification"
)

// EventSource constants.
const (
	EventSourceCircuitBreaker = "circuit_breaker"
	EventSourceHealthMonitor  = "health_monitor"
	EventSourceCache          = "cache"
	EventSourceSystem         = "system"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
