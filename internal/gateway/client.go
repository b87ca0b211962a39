package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vidmesh/signaling/internal/metrics"
)

const wsWriteWait = 1 * time.Second

// client is one connected participant: a websocket, an identity, and the
// outbound queue its writer goroutine drains. The reader side lives in the
// server's connection handler.
type client struct {
	id    string
	conn  *websocket.Conn
	queue *outboundQueue
	log   *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(id string, conn *websocket.Conn, queueSize int, logger *slog.Logger, m *metrics.Metrics) *client {
	return &client{
		id:    id,
		conn:  conn,
		queue: newOutboundQueue(queueSize, m),
		log:   logger.With("participant", id),
		done:  make(chan struct{}),
	}
}

// shutdown closes the queue and the socket. Safe to call from any goroutine,
// any number of times; the reader's exit path does the rest of the cleanup.
func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		_ = c.conn.Close()
	})
}

// writeLoop drains the outbound queue onto the socket in order. A write
// failure shuts the client down; the reader notices via the closed socket.
func (c *client) writeLoop() {
	for {
		env, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		data, err := json.Marshal(env)
		if err != nil {
			c.log.Error("failed to encode outbound envelope", "kind", env.Kind, "err", err)
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.shutdown()
			return
		}
	}
}

// keepaliveLoop pings on an interval so half-open connections surface as read
// timeouts instead of lingering forever.
func (c *client) keepaliveLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.shutdown()
				return
			}
		}
	}
}
