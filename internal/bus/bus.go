// Package bus provides an internal event bus connecting the pipeline to
// the dashboard feed.
package bus

import (
	"sync"
	"time"
)

// EventType identifies different event types
type EventType string

// Event types published by the pipeline.
const (
	// Lifecycle events
	EventTypeStateChanged EventType = "pipeline.state_changed"
	EventTypeError        EventType = "pipeline.error"

	// Chat events
	EventTypeCommentQueued  EventType = "chat.comment_queued"
	EventTypeCommentPicked  EventType = "chat.comment_picked"
	EventTypeCommentDropped EventType = "chat.comment_dropped"

	// Turn events
	EventTypeResponseGenerated EventType = "turn.response_generated"
	EventTypeEmotionChanged    EventType = "turn.emotion_changed"
	EventTypeSpeakingStarted   EventType = "turn.speaking_started"
	EventTypeSpeakingStopped   EventType = "turn.speaking_stopped"
	EventTypeTurnCompleted     EventType = "turn.completed"
	EventTypeTurnFailed        EventType = "turn.failed"
)

// Event represents a bus event
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler receiving every event, used by the dashboard
// feed.
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

// Publish sends an event to all subscribed handlers without blocking the
// publisher.
func (b *EventBus) Publish(eventType EventType, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType])+len(b.all))
	handlers = append(handlers, b.handlers[eventType]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// PublishSync sends an event and waits for all handlers to complete.
func (b *EventBus) PublishSync(eventType EventType, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType])+len(b.all))
	handlers = append(handlers, b.handlers[eventType]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(event)
		}(handler)
	}
	wg.Wait()
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	b.all = nil
}
