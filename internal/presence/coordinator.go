// Package presence tracks which participants are in which room and keeps
// everyone's view of the roster consistent: join replies, peer-joined and
// peer-left broadcasts, and the session fan-out that pairs a newcomer with
// every member already present.
package presence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/room"
	"github.com/vidmesh/signaling/internal/signal"
)

// Deliverer enqueues an envelope on a participant's outbound channel. It
// reports false when the channel is gone.
type Deliverer interface {
	Deliver(to string, env signal.Envelope) bool
}

// Sessions is the slice of the session manager the coordinator drives: one
// session per newcomer/existing-member pair on join, teardown on leave.
type Sessions interface {
	Create(offerer, answerer string)
	CloseFor(participant string) int
}

// Coordinator owns room membership transitions. Each participant is in at
// most one room at a time.
type Coordinator struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	rooms    *room.Registry
	sessions Sessions
	deliver  Deliverer

	mu     sync.Mutex
	roomOf map[string]string
}

func NewCoordinator(logger *slog.Logger, m *metrics.Metrics, rooms *room.Registry, sessions Sessions, deliver Deliverer) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Coordinator{
		log:      logger,
		metrics:  m,
		rooms:    rooms,
		sessions: sessions,
		deliver:  deliver,
		roomOf:   make(map[string]string),
	}
}

// Join admits participant into roomID. On success the joiner receives the
// current roster, every existing member is told about the newcomer, and a
// session is created per existing member with the newcomer as the designated
// offerer. Rejections are reported to the joiner as error envelopes and also
// returned for the transport to act on.
func (c *Coordinator) Join(roomID, participant string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.roomOf[participant]; ok {
		err := fmt.Errorf("already joined to room %s", current)
		c.deliver.Deliver(participant, signal.NewError(signal.CodeBadRequest, err.Error()))
		return err
	}

	if err := c.rooms.AddMember(roomID, participant); err != nil {
		code := signal.CodeBadRequest
		switch {
		case errors.Is(err, room.ErrRoomFull):
			code = signal.CodeRoomFull
		case errors.Is(err, room.ErrTooManyRooms):
			code = signal.CodeTooManyRooms
		}
		c.log.Info("join rejected", "room", roomID, "participant", participant, "code", code)
		c.deliver.Deliver(participant, signal.NewError(code, err.Error()))
		return err
	}

	c.roomOf[participant] = roomID
	c.metrics.Inc(metrics.RoomJoins)

	members := c.rooms.Members(roomID)
	existing := make([]string, 0, len(members))
	for _, m := range members {
		if m != participant {
			existing = append(existing, m)
		}
	}

	c.deliver.Deliver(participant, signal.NewJoined(roomID, participant, existing))
	for _, m := range existing {
		c.deliver.Deliver(m, signal.NewPeerJoined(roomID, participant))
		// The later joiner initiates; a fixed role per pair avoids glare.
		c.sessions.Create(participant, m)
	}

	c.log.Info("participant joined", "room", roomID, "participant", participant, "peers", len(existing))
	return nil
}

// Leave detaches participant from its room, closes its sessions, and tells
// the remaining members. Leaving when not joined is a no-op, so an explicit
// leave followed by the channel teardown's synthesized one resolves to a
// single departure.
func (c *Coordinator) Leave(participant string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roomID, ok := c.roomOf[participant]
	if !ok {
		return
	}
	if !c.rooms.RemoveMember(roomID, participant) {
		delete(c.roomOf, participant)
		return
	}
	delete(c.roomOf, participant)
	c.metrics.Inc(metrics.RoomLeaves)

	c.sessions.CloseFor(participant)
	for _, m := range c.rooms.Members(roomID) {
		c.deliver.Deliver(m, signal.NewPeerLeft(roomID, participant))
	}

	c.log.Info("participant left", "room", roomID, "participant", participant)
}

// RoomOf reports the room participant currently belongs to.
func (c *Coordinator) RoomOf(participant string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roomOf[participant]
	return r, ok
}

// SameRoom reports whether both participants are joined to the same room.
// Negotiation messages may only flow between roommates.
func (c *Coordinator) SameRoom(a, b string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ra, okA := c.roomOf[a]
	rb, okB := c.roomOf[b]
	return okA && okB && ra == rb
}
