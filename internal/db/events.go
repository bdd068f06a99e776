// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"sync"

	"github.com/yuchia/localledger/internal/logging"
)

// Event names emitted by the store.
const (
	EventRecordCreated = "record_created"
	EventRecordUpdated = "record_updated"
	EventRecordDeleted = "record_deleted"
)

// EventHandler observes store events. Handlers run synchronously on the
// emitting goroutine, must not assume the triggering transaction is
// still open, and must not panic; a panicking handler is recovered and
// logged without affecting the triggering operation.
type EventHandler interface {
	HandleEvent(event string, payload map[string]interface{})
}

// HandlerFunc adapts a plain function to the EventHandler interface.
type HandlerFunc func(event string, payload map[string]interface{})

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(event string, payload map[string]interface{}) {
	f(event, payload)
}

// EventBus dispatches store events to registered handlers. Registration
// is expected at setup time; emission may happen from any goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]EventHandler)}
}

// Register subscribes a handler to an event.
func (b *EventBus) Register(event string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Emit invokes every handler registered for event, in registration
// order. Handler failures are swallowed into the log; they never fail or
// roll back the triggering operation. No lock is held while handlers
// run, so a handler may call back into the store.
func (b *EventBus) Emit(event string, payload map[string]interface{}) {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(handler, event, payload)
	}
}

func (b *EventBus) invoke(handler EventHandler, event string, payload map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("event handler panicked", map[string]interface{}{
				"event": event,
				"panic": r,
			})
		}
	}()
	handler.HandleEvent(event, payload)
}
