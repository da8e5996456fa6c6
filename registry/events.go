package registry

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventAgentRegistered   EventType = "agent_registered"
	EventAgentUnregistered EventType = "agent_unregistered"
	EventAgentUpdated      EventType = "agent_updated"
	EventAgentTerminated   EventType = "agent_terminated"
)

// Event is emitted to subscribed handlers on every registry mutation.
type Event struct {
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler receives registry events on its own goroutine.
type EventHandler func(event Event)

// OnEvent subscribes a handler to registry events and returns a
// subscription id for Off.
func (r *Registry) OnEvent(handler EventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := uuid.NewString()
	r.handlers[id] = handler
	return id
}

// Off removes an event handler subscription.
func (r *Registry) Off(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	delete(r.handlers, subscriptionID)
}

// emitEvent fans an event out to all handlers, each on its own goroutine so
// a slow handler never blocks registry mutations.
func (r *Registry) emitEvent(event Event) {
	r.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}
