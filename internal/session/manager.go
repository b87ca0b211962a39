package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vidmesh/signaling/internal/config"
	"github.com/vidmesh/signaling/internal/metrics"
	"github.com/vidmesh/signaling/internal/signal"
)

// DeliverFunc enqueues an envelope on a participant's channel. It reports
// false when the participant's channel is gone; cleanup then happens through
// the synthesized leave, not here.
type DeliverFunc func(to string, env signal.Envelope) bool

// Manager owns every live Negotiator, keyed by unordered participant pair.
//
// All mutation goes through the manager lock: negotiation state for a pair is
// only ever touched by messages belonging to that pair, so there is no
// cross-session locking beyond the map itself.
type Manager struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   Clock
	deliver DeliverFunc

	mu       sync.Mutex
	sessions map[PairKey]*entry
}

type entry struct {
	neg   *Negotiator
	timer Timer
}

func NewManager(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, clock Clock, deliver DeliverFunc) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		cfg:      cfg,
		log:      logger,
		metrics:  m,
		clock:    clock,
		deliver:  deliver,
		sessions: make(map[PairKey]*entry),
	}
}

// Create instantiates a session for the pair with offerer as the designated
// offerer, arming the negotiation timeout. Creating a pair that already has a
// live session is a no-op; the existing session stands.
func (m *Manager) Create(offerer, answerer string) {
	key := NewPairKey(offerer, answerer)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		return
	}

	e := &entry{neg: NewNegotiator(offerer, answerer, m.clock.Now())}
	e.timer = m.clock.AfterFunc(m.cfg.NegotiationTimeout, func() {
		m.timeout(key)
	})
	m.sessions[key] = e
	m.metrics.Inc(metrics.SessionsCreated)

	m.log.Debug("session created",
		"offerer", offerer,
		"answerer", answerer,
		"timeout", m.cfg.NegotiationTimeout,
	)
}

// State reports the session state for a pair, if one exists.
func (m *Manager) State(a, b string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[NewPairKey(a, b)]
	if !ok {
		return 0, false
	}
	return e.neg.State(), true
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HandleOffer processes an offer from -> to.
func (m *Manager) HandleOffer(from, to string, desc signal.SDP) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NewPairKey(from, to)
	e, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoSession, from, to)
	}

	out, err := e.neg.HandleOffer(from, desc)
	if err != nil {
		return m.negotiationErrLocked(key, e, err)
	}
	m.deliverAllLocked(out)
	return nil
}

// HandleAnswer processes an answer from -> to. Successful enqueue onto the
// offerer's channel is the delivery acknowledgement that moves the session to
// Connected and flushes buffered candidates.
func (m *Manager) HandleAnswer(from, to string, desc signal.SDP) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NewPairKey(from, to)
	e, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoSession, from, to)
	}

	out, err := e.neg.HandleAnswer(from, desc)
	if err != nil {
		return m.negotiationErrLocked(key, e, err)
	}

	delivered := true
	for _, o := range out {
		if !m.deliver(o.To, o.Env) {
			delivered = false
		}
	}
	if !delivered {
		// The offerer's channel is gone; its synthesized leave will close
		// this session. Leave the state at AnswerPending.
		m.log.Debug("answer enqueue failed, awaiting channel-loss cleanup",
			"offerer", to, "answerer", from)
		return nil
	}

	flushed, err := e.neg.AnswerDelivered()
	if err != nil {
		return m.negotiationErrLocked(key, e, err)
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	m.metrics.Inc(metrics.SessionsConnected)
	m.deliverAllLocked(flushed)
	return nil
}

// HandleCandidate processes a trickled candidate from -> to.
func (m *Manager) HandleCandidate(from, to string, cand signal.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NewPairKey(from, to)
	e, ok := m.sessions[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoSession, from, to)
	}

	disp, out, err := e.neg.HandleCandidate(from, cand)
	if err != nil {
		return m.negotiationErrLocked(key, e, err)
	}
	switch disp {
	case CandidateRouted:
		m.deliverAllLocked(out)
	case CandidateBuffered:
		m.metrics.Inc(metrics.CandidatesBuffered)
	case CandidateDiscarded:
		m.metrics.Inc(metrics.CandidatesDiscarded)
		m.log.Debug("candidate discarded on terminal session",
			"from", from, "to", to, "state", e.neg.State().String())
	}
	return nil
}

// CloseFor closes every session involving participant and cancels their
// pending negotiation timers. Safe to call repeatedly.
func (m *Manager) CloseFor(participant string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	closed := 0
	for key, e := range m.sessions {
		if !key.Involves(participant) {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.neg.Close(m.clock.Now())
		delete(m.sessions, key)
		m.metrics.Inc(metrics.SessionsClosed)
		closed++
	}
	return closed
}

func (m *Manager) timeout(key PairKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[key]
	if !ok || e.neg.State() == StateConnected || e.neg.State().Terminal() {
		return
	}
	m.metrics.Inc(metrics.NegotiationTimeouts)
	m.log.Warn("negotiation timed out",
		"offerer", e.neg.Offerer(),
		"answerer", e.neg.Answerer(),
		"state", e.neg.State().String(),
	)
	m.failLocked(key, e, signal.CodeNegotiationTimeout)
}

// negotiationErrLocked applies the recovery policy for a rejected message:
// malformed payloads fail the affected session and notify both participants;
// out-of-order messages are rejected without touching session state so a
// stray duplicate cannot tear down a healthy session.
func (m *Manager) negotiationErrLocked(key PairKey, e *entry, err error) error {
	if errors.Is(err, ErrMalformedPayload) {
		m.metrics.Inc(metrics.MalformedPayloads)
		m.failLocked(key, e, signal.CodeMalformedPayload)
	}
	return err
}

func (m *Manager) failLocked(key PairKey, e *entry, code string) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	out := e.neg.Fail(code, m.clock.Now())
	delete(m.sessions, key)
	m.metrics.Inc(metrics.SessionsFailed)
	m.deliverAllLocked(out)
}

func (m *Manager) deliverAllLocked(out []Outbound) {
	for _, o := range out {
		if !m.deliver(o.To, o.Env) {
			m.log.Debug("envelope not delivered, channel gone", "to", o.To, "kind", o.Env.Kind)
		}
	}
}
