package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType identifies a lifecycle event in the run stream.
type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventRunCompleted    EventType = "run.completed"
	EventRunFailed       EventType = "run.failed"
	EventModuleCompleted EventType = "module.completed"
)

// Event is one entry in the run notification stream.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the lifecycle event type.
	Type EventType `json:"type"`

	// RunID is the run the event belongs to.
	RunID string `json:"run_id"`

	// Subject names what the event is about: a module name, or an error
	// message for failure events.
	Subject string `json:"subject,omitempty"`
}

// NewEvent creates a timestamped event.
func NewEvent(eventType EventType, runID, subject string) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Type:      eventType,
		RunID:     runID,
		Subject:   subject,
	}
}

// EventHandler consumes published events.
type EventHandler func(ctx context.Context, event Event)

// EventPublisher fans events out to subscribers synchronously, in
// subscription order. A nil *EventPublisher is a valid no-op sink.
type EventPublisher struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   zerolog.Logger
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher(logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for every future event.
func (p *EventPublisher) Subscribe(handler EventHandler) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Publish delivers an event to every subscriber.
func (p *EventPublisher) Publish(ctx context.Context, event Event) {
	if p == nil {
		return
	}
	p.mu.RLock()
	handlers := make([]EventHandler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	p.logger.Debug().
		Str("type", string(event.Type)).
		Str("run_id", event.RunID).
		Str("subject", event.Subject).
		Msg("Publishing event")

	for _, handler := range handlers {
		handler(ctx, event)
	}
}
