// Package realtime broadcasts operational events to connected operator clients.
package realtime

import (
	"log/slog"
)

// EventPublisher publishes events to EventBus from various engine components.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// PublishCircuitStateChanged publishes a circuit-breaker transition for a source.
func (p *EventPublisher) PublishCircuitStateChanged(sourceName, fromState, toState string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"source_name": sourceName,
		"from_state":  fromState,
		"to_state":    toState,
	}

	eventType := EventTypeCircuitClosed
	switch toState {
	case "open":
		eventType = EventTypeCircuitOpened
	case "half_open":
		eventType = EventTypeCircuitHalfOpen
	}

	event := NewEvent(eventType, data, EventSourceCircuitBreaker)
	return p.eventBus.Publish(*event)
}

// PublishSourceHealthChanged publishes a per-source health transition.
func (p *EventPublisher) PublishSourceHealthChanged(sourceName string, healthy bool, latencyMS float64, message string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"source_name": sourceName,
		"healthy":     healthy,
		"latency_ms":  latencyMS,
	}
	if message != "" {
		data["message"] = message
	}

	event := NewEvent(EventTypeSourceHealthChanged, data, EventSourceHealthMonitor)
	return p.eventBus.Publish(*event)
}

// PublishCacheDegraded publishes a slow-tier cache degradation event.
func (p *EventPublisher) PublishCacheDegraded(reason string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{"reason": reason}
	event := NewEvent(EventTypeCacheDegraded, data, EventSourceCache)
	return p.eventBus.Publish(*event)
}

// PublishCacheRecovered publishes slow-tier cache recovery after reconnect.
func (p *EventPublisher) PublishCacheRecovered() error {
	if p.eventBus == nil {
		return nil
	}

	event := NewEvent(EventTypeCacheRecovered, map[string]interface{}{}, EventSourceCache)
	return p.eventBus.Publish(*event)
}

// PublishSystemNotification publishes a system notification event.
func (p *EventPublisher) PublishSystemNotification(level string, message string) error {
	if p.eventBus == nil {
		return nil
	}

	data := map[string]interface{}{
		"level":   level, // info, warning, error
		"message": message,
	}

	event := NewEvent(EventTypeSystemNotification, data, EventSourceSystem)
	return p.eventBus.Publish(*event)
}
