// Package gateway is the WebSocket transport: it upgrades connections,
// assigns participant identities, validates and dispatches inbound envelopes,
// and drains per-participant outbound queues in FIFO order.
package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vidmesh/signaling/internal/config"
	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/presence"
	"github.com/vidmesh/signaling/internal/session"
	"github.com/vidmesh/signaling/internal/signal"
)

// Server terminates signaling WebSockets. One goroutine per connection reads
// and dispatches; a second drains the outbound queue; a third keeps the
// connection alive with pings.
//
// Per-connection limits bound message size and rate so one client cannot
// starve the rest.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	hub      *Hub
	coord    *presence.Coordinator
	sessions *session.Manager
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, hub *Hub, coord *presence.Coordinator, sessions *session.Manager) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		hub:      hub,
		coord:    coord,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(uuid.NewString(), conn, s.cfg.OutboundQueueSize, s.log, s.metrics)
	s.hub.add(c)
	go c.writeLoop()
	go c.keepaliveLoop(s.cfg.SignalingWSPingInterval)

	c.log.Info("participant connected", "remote", r.RemoteAddr)
	s.readLoop(c)
	s.teardown(c)
}

func (s *Server) readLoop(c *client) {
	conn := c.conn
	idle := s.cfg.SignalingWSIdleTimeout
	resetDeadline := func() {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}
	resetDeadline()
	conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	limiter := newRateLimiter(s.cfg.MaxSignalingMessagesPerSecond)

	for {
		msgType, msgReader, err := conn.NextReader()
		if err != nil {
			return
		}
		resetDeadline()

		if !limiter.Allow(time.Now()) {
			writeClose(conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			writeClose(conn, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := readLimited(msgReader, s.cfg.MaxSignalingMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				writeClose(conn, websocket.CloseMessageTooBig, "message too large")
			}
			return
		}

		env, err := signal.Parse(msg)
		if err != nil {
			// An unparseable envelope gets an error reply but keeps the
			// connection; the rate limiter bounds abuse.
			s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, err.Error()))
			continue
		}
		if !s.dispatch(c, env) {
			return
		}
	}
}

// dispatch handles one validated envelope. It reports false when the
// connection should end.
func (s *Server) dispatch(c *client, env signal.Envelope) bool {
	switch env.Kind {
	case signal.KindJoin:
		_ = s.coord.Join(env.RoomID, c.id)
	case signal.KindLeave:
		s.coord.Leave(c.id)
	case signal.KindOffer, signal.KindAnswer:
		if !s.checkPeer(c, env.ToID) {
			return true
		}
		desc, err := signal.DecodeSDP(env)
		if err != nil {
			s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, err.Error()))
			return true
		}
		if env.Kind == signal.KindOffer {
			s.replyNegotiationErr(c, s.sessions.HandleOffer(c.id, env.ToID, desc))
		} else {
			s.replyNegotiationErr(c, s.sessions.HandleAnswer(c.id, env.ToID, desc))
		}
	case signal.KindCandidate:
		if !s.checkPeer(c, env.ToID) {
			return true
		}
		cand, err := signal.DecodeCandidate(env)
		if err != nil {
			s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, err.Error()))
			return true
		}
		err = s.sessions.HandleCandidate(c.id, env.ToID, cand)
		if errors.Is(err, session.ErrNoSession) {
			// Trickled candidates routinely race session teardown; drop them
			// without punishing the sender.
			s.metrics.Inc(metrics.CandidatesDiscarded)
			return true
		}
		s.replyNegotiationErr(c, err)
	}
	return true
}

// checkPeer rejects negotiation envelopes addressed to anyone who is not a
// roommate of the sender.
func (s *Server) checkPeer(c *client, to string) bool {
	if to == c.id {
		s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, "cannot signal yourself"))
		return false
	}
	if !s.coord.SameRoom(c.id, to) {
		s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, "peer is not in your room"))
		return false
	}
	return true
}

// replyNegotiationErr maps a session-manager rejection to an error envelope
// for the sender. Malformed payloads already failed the session and notified
// both sides, so they get no extra reply here.
func (s *Server) replyNegotiationErr(c *client, err error) {
	switch {
	case err == nil, errors.Is(err, session.ErrMalformedPayload):
	case errors.Is(err, session.ErrInvalidState):
		s.hub.Deliver(c.id, signal.NewError(signal.CodeInvalidState, err.Error()))
	case errors.Is(err, session.ErrNoSession):
		s.hub.Deliver(c.id, signal.NewError(signal.CodeInvalidState, "no session with that peer"))
	default:
		s.hub.Deliver(c.id, signal.NewError(signal.CodeBadRequest, err.Error()))
	}
}

// teardown runs exactly once per connection, after the read loop exits. A
// participant that was still in a room did not say goodbye: that is a lost
// channel, and the leave is synthesized on its behalf.
func (s *Server) teardown(c *client) {
	_, stillJoined := s.coord.RoomOf(c.id)
	if stillJoined {
		s.metrics.Inc(metrics.ChannelsLost)
		c.log.Info("channel lost, synthesizing leave")
	}
	s.coord.Leave(c.id)
	s.hub.remove(c)
	c.shutdown()
	c.log.Info("participant disconnected", "dropped_presence", c.queue.DroppedPresence())
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

var errMessageTooLarge = errors.New("message too large")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return nil, errMessageTooLarge
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errMessageTooLarge
	}
	return b, nil
}

type rateLimiter struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
}

func newRateLimiter(messagesPerSecond int) *rateLimiter {
	rate := float64(messagesPerSecond)
	return &rateLimiter{
		rate:     rate,
		capacity: rate,
		tokens:   rate,
		last:     time.Now(),
	}
}

func (rl *rateLimiter) Allow(now time.Time) bool {
	elapsed := now.Sub(rl.last).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
