// Package broadcast fans lifecycle and status events out to UI
// listeners. Publishing is fire-and-forget: a missing or slow listener
// never blocks or fails the publisher.
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType names a broadcast event
type EventType string

const (
	EventProcessingStatus EventType = "processingStatusUpdate"
	EventPauseState       EventType = "pauseStateChanged"
	EventStopMonitoring   EventType = "stopMonitoring"
	EventIterationUpdate  EventType = "iterationUpdate"
	EventWorkflowReset    EventType = "workflowReset"
	EventInvalidURL       EventType = "invalidURL"
)

// Event is one published status transition
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

const listenerBuffer = 16

// Broadcaster is a process-local event bus
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[int]chan Event
	nextID    int
	logger    *zap.Logger
}

// New creates a broadcaster with no listeners
func New(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[int]chan Event),
		logger:    logger,
	}
}

// Subscribe registers a listener. The returned cancel func unregisters
// it and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, listenerBuffer)
	b.listeners[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if ch, ok := b.listeners[id]; ok {
			delete(b.listeners, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every listener, skipping any whose
// buffer is full
func (b *Broadcaster) Publish(eventType EventType, payload any) {
	event := Event{Type: eventType, Payload: payload, At: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.listeners {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event for slow listener",
				zap.String("event", string(eventType)),
				zap.Int("listener", id))
		}
	}
}

// ListenerCount reports how many listeners are registered
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
