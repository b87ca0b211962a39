package gateway

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/signal"
)

// Hub maps participant IDs to their live clients and is the single delivery
// surface the presence coordinator and session manager write through.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]*client
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		log:     logger,
		metrics: m,
		clients: make(map[string]*client),
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()
}

// Len reports the number of connected participants.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Deliver enqueues env on the participant's outbound queue. It reports false
// when the participant has no live channel. A queue stuffed full of critical
// messages means the client has stopped reading; the connection is killed
// here and its reader performs the rest of the teardown.
func (h *Hub) Deliver(to string, env signal.Envelope) bool {
	h.mu.Lock()
	c, ok := h.clients[to]
	h.mu.Unlock()
	if !ok {
		return false
	}

	err := c.queue.Enqueue(env)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errQueueOverflow):
		h.log.Warn("outbound queue overflow, dropping connection", "participant", to)
		c.shutdown()
		return false
	default:
		return false
	}
}
