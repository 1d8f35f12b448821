package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// EventHandler delivers one event.
type EventHandler func(ctx context.Context, event *Event) error

// HandlerRegistry routes events to handlers by event type.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]EventHandler{}}
}

func (r *HandlerRegistry) Register(eventType string, handler EventHandler) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return ErrEventTypeRequired
	}

	if handler == nil {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, eventType)
	}

	r.handlers[eventType] = handler

	return nil
}

// Handle is an EventHandler that dispatches on event.EventType.
func (r *HandlerRegistry) Handle(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrEventRequired
	}

	r.mu.RLock()
	handler, ok := r.handlers[strings.TrimSpace(event.EventType)]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, event.EventType)
	}

	return handler(ctx, event)
}
