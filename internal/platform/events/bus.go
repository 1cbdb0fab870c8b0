// Package events provides the synchronous in-process event bus used to
// announce entity mutations to cache invalidation listeners.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Event is a tagged mutation notification.
type Event interface {
	EventType() string
}

// Handler consumes a published event. Handlers run synchronously on the
// publisher's goroutine; a handler error fails the enclosing Publish call.
type Handler func(ctx context.Context, evt Event) error

// Bus dispatches events to subscribers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewBus constructs an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given event type. Intended to be
// called once per listener during startup.
func (b *Bus) Subscribe(eventType string, h Handler) {
	if eventType == "" || h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers the event to every subscriber of its type, in order.
// The first handler error aborts delivery and is returned to the caller.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt == nil {
		return nil
	}

	b.mu.RLock()
	handlers := b.handlers[evt.EventType()]
	b.mu.RUnlock()

	eventID := uuid.NewString()
	if b.logger != nil {
		b.logger.Debug("publish event",
			slog.String("event_id", eventID),
			slog.String("event_type", evt.EventType()),
			slog.Int("subscribers", len(handlers)))
	}

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			return fmt.Errorf("events: %s (%s): %w", evt.EventType(), eventID, err)
		}
	}
	return nil
}
