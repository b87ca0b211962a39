package metrics

import "sync"

// Counter names. Names are intentionally simple; PrometheusHandler exposes
// them all under a single labelled metric.
const (
	RoomJoins          = "room_joins"
	RoomLeaves         = "room_leaves"
	RoomFullRejections = "room_full_rejections"
	RoomsEvicted       = "rooms_evicted"

	SessionsCreated     = "sessions_created"
	SessionsConnected   = "sessions_connected"
	SessionsClosed      = "sessions_closed"
	SessionsFailed      = "sessions_failed"
	NegotiationTimeouts = "negotiation_timeouts"

	CandidatesBuffered  = "candidates_buffered"
	CandidatesDiscarded = "candidates_discarded"
	MalformedPayloads   = "malformed_payloads"

	QueueDroppedPresence = "queue_dropped_presence"
	ChannelsLost         = "channels_lost"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production deployment is expected to plug into a real metrics backend;
// this type exists to keep the signaling core testable and to provide drop
// counters without coupling it to an exporter.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, n uint64) {
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter, for exposition.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
