package room

import (
	"sync"
	"time"

	"github.com/vidmesh/signaling/internal/config"
	"github.com/vidmesh/signaling/internal/metrics"
)

// Registry tracks which participants belong to which room.
//
// Membership mutations are serialized per room via the registry lock; the
// registry never blocks on anything but its own mutex, so holding it across a
// whole join/leave is cheap and keeps the member list and the eviction timer
// consistent.
type Registry struct {
	cfg     config.Config
	metrics *metrics.Metrics
	clock   Clock

	mu    sync.Mutex
	rooms map[string]*state
}

// Clock abstracts time for eviction-timer tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type state struct {
	createdAt time.Time
	// members is kept in join order so roster listings produce deterministic
	// pairing downstream.
	members []string
	evict   Timer
}

func NewRegistry(cfg config.Config, m *metrics.Metrics, clock Clock) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Registry{
		cfg:     cfg,
		metrics: m,
		clock:   clock,
		rooms:   make(map[string]*state),
	}
}

// Snapshot of a room for callers outside the registry.
type Room struct {
	ID        string
	CreatedAt time.Time
	Members   []string
}

// CreateOrGet returns the room identified by id, creating it if needed.
// Creation fails with ErrTooManyRooms when the system-wide cap is reached.
func (r *Registry) CreateOrGet(id string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.createOrGetLocked(id)
	if err != nil {
		return Room{}, err
	}
	return r.snapshotLocked(id, st), nil
}

func (r *Registry) createOrGetLocked(id string) (*state, error) {
	if st, ok := r.rooms[id]; ok {
		return st, nil
	}
	if r.cfg.MaxRooms > 0 && len(r.rooms) >= r.cfg.MaxRooms {
		return nil, ErrTooManyRooms
	}
	st := &state{createdAt: r.clock.Now()}
	r.rooms[id] = st
	return st, nil
}

// AddMember binds participant to the room, creating the room if needed.
// A pending eviction of the room is cancelled. Adding an existing member is a
// no-op; membership is a set.
func (r *Registry) AddMember(roomID, participant string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.createOrGetLocked(roomID)
	if err != nil {
		return err
	}
	for _, m := range st.members {
		if m == participant {
			return nil
		}
	}
	if len(st.members) >= r.cfg.RoomCapacity {
		r.metrics.Inc(metrics.RoomFullRejections)
		return ErrRoomFull
	}
	if st.evict != nil {
		st.evict.Stop()
		st.evict = nil
	}
	st.members = append(st.members, participant)
	return nil
}

// RemoveMember detaches participant from the room. It reports whether the
// participant was a member, so duplicate disconnect notifications fold into a
// single removal. Emptied rooms are evicted after the configured grace.
func (r *Registry) RemoveMember(roomID, participant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	idx := -1
	for i, m := range st.members {
		if m == participant {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	st.members = append(st.members[:idx], st.members[idx+1:]...)

	if len(st.members) == 0 {
		if r.cfg.EmptyRoomGrace <= 0 {
			r.evictLocked(roomID)
		} else {
			st.evict = r.clock.AfterFunc(r.cfg.EmptyRoomGrace, func() {
				r.evictIfEmpty(roomID)
			})
		}
	}
	return true
}

func (r *Registry) evictIfEmpty(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok || len(st.members) > 0 {
		return
	}
	r.evictLocked(roomID)
}

func (r *Registry) evictLocked(roomID string) {
	delete(r.rooms, roomID)
	r.metrics.Inc(metrics.RoomsEvicted)
}

// Members returns the room's member IDs in join order, or nil when the room
// does not exist.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, len(st.members))
	copy(out, st.members)
	return out
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) snapshotLocked(id string, st *state) Room {
	members := make([]string, len(st.members))
	copy(members, st.members)
	return Room{ID: id, CreatedAt: st.createdAt, Members: members}
}
