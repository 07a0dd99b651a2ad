// Package hub fans events out to live client connections.
package hub

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/rpggio/taskhub/internal/event"
)

// DefaultQueueSize is the outbound buffer of each connection.
const DefaultQueueSize = 64

type client struct {
	handle string
	userID string
	send   chan event.Event
}

// Hub holds one bounded outbound queue per connection. Publishing never blocks:
// when a queue is full the event is dropped for that connection only.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*client
	queueSize int
	logger    *slog.Logger
}

// New creates a hub whose connections buffer up to queueSize events.
func New(queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients:   make(map[string]*client),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Register adds a connection and returns its outbound queue. The queue is
// closed by Unregister. Registering an existing handle replaces it.
func (h *Hub) Register(handle, userID string) <-chan event.Event {
	c := &client{handle: handle, userID: userID, send: make(chan event.Event, h.queueSize)}

	h.mu.Lock()
	if old, ok := h.clients[handle]; ok {
		close(old.send)
	}
	h.clients[handle] = c
	h.mu.Unlock()

	h.logger.Debug("connection registered", "handle", handle, "user_id", userID)
	return c.send
}

// Unregister removes a connection and closes its queue.
func (h *Hub) Unregister(handle string) {
	h.mu.Lock()
	c, ok := h.clients[handle]
	if ok {
		delete(h.clients, handle)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug("connection unregistered", "handle", handle, "user_id", c.userID)
	}
}

// Publish delivers ev to every connection except those of ev.Except.
func (h *Hub) Publish(_ context.Context, ev event.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if ev.Except != "" && c.userID == ev.Except {
			continue
		}
		h.deliver(c, ev)
	}
}

// Send delivers ev to a single connection. It reports false when the handle is
// unknown or its queue is full.
func (h *Hub) Send(handle string, ev event.Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[handle]
	if !ok {
		return false
	}
	return h.deliver(c, ev)
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(c *client, ev event.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		h.logger.Warn("dropping event for slow connection",
			"event", ev.Name, "handle", c.handle, "user_id", c.userID)
		return false
	}
}
