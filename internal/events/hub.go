// Package events fans out domain events to live admin clients.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Event names broadcast to clients
const (
	EndpointCreated          = "endpoint:created"
	EndpointUpdated          = "endpoint:updated"
	EndpointDeleted          = "endpoint:deleted"
	VariantUpdated           = "variant:updated"
	VariantDeleted           = "variant:deleted"
	EnvironmentCreated       = "environment:created"
	EnvironmentUpdated       = "environment:updated"
	EnvironmentDeleted       = "environment:deleted"
	EnvironmentActiveChanged = "environment:active-changed"
	CollectionCreated        = "collection:created"
	CollectionUpdated        = "collection:updated"
	CollectionDeleted        = "collection:deleted"
	CollectionsReordered     = "collection:reordered"
	SettingsUpdated          = "settings:updated"
	HistoryCleared           = "history:cleared"
	RequestReceived          = "request:received"
	ImportCompleted          = "import:completed"
	ServerStatus             = "server:status"
)

const subscriberBuffer = 100

// Event is a single message sent to subscribers
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Broadcaster publishes events without blocking the caller
type Broadcaster interface {
	Broadcast(name string, data any)
}

// Hub distributes events to subscribers. Slow subscribers miss events
// instead of blocking publishers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Broadcast sends an event to every subscriber whose buffer has room
func (h *Hub) Broadcast(name string, data any) {
	ev := Event{Name: name, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip
		}
	}
}

// Subscribe registers a new subscriber
func (h *Hub) Subscribe() (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// SubscriberCount returns the number of connected subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers)
}

// Discard is a Broadcaster that drops every event
type Discard struct{}

// Broadcast implements Broadcaster
func (Discard) Broadcast(string, any) {}
