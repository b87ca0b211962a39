package session

import (
	"fmt"
	"time"

	"github.com/vidmesh/signaling/internal/signal"
)

// Outbound is an envelope the gateway must deliver on a participant's channel.
type Outbound struct {
	To  string
	Env signal.Envelope
}

// CandidateDisposition describes what happened to a submitted candidate.
type CandidateDisposition int

const (
	// CandidateRouted: forwarded to the peer immediately.
	CandidateRouted CandidateDisposition = iota
	// CandidateBuffered: held until the session reaches Connected.
	CandidateBuffered
	// CandidateDiscarded: dropped because the session is terminal. This is a
	// diagnostic, not an error.
	CandidateDiscarded
)

type bufferedCandidate struct {
	from string
	cand signal.Candidate
}

// Negotiator is the per-pair negotiation state machine. The offerer is the
// participant that joined the room later; fixing the role deterministically
// is what avoids glare. Methods are not safe for concurrent use; the Manager
// serializes access per pair.
type Negotiator struct {
	offerer  string
	answerer string

	state State
	// pending holds candidates submitted before the session reached
	// Connected, in submission order. Candidates may legitimately arrive
	// before the remote description is set on either side.
	pending []bufferedCandidate

	createdAt    time.Time
	terminatedAt time.Time
}

func NewNegotiator(offerer, answerer string, now time.Time) *Negotiator {
	return &Negotiator{
		offerer:   offerer,
		answerer:  answerer,
		state:     StateIdle,
		createdAt: now,
	}
}

func (n *Negotiator) State() State     { return n.state }
func (n *Negotiator) Offerer() string  { return n.offerer }
func (n *Negotiator) Answerer() string { return n.answerer }

// Peer returns the other side of the pair.
func (n *Negotiator) Peer(of string) string {
	if of == n.offerer {
		return n.answerer
	}
	return n.offerer
}

// HandleOffer accepts the offerer's SDP offer and emits it for routing to the
// answerer. Only valid while Idle and only from the designated offerer;
// anything else is rejected without touching session state.
func (n *Negotiator) HandleOffer(from string, desc signal.SDP) ([]Outbound, error) {
	if n.state != StateIdle {
		return nil, fmt.Errorf("%w: offer in state %s", ErrInvalidState, n.state)
	}
	if from != n.offerer {
		return nil, fmt.Errorf("%w: offer from non-offerer %s", ErrInvalidState, from)
	}
	if err := validateSDP(signal.KindOffer, desc); err != nil {
		return nil, err
	}
	n.state = StateOfferSent
	return []Outbound{{To: n.answerer, Env: signal.NewSDP(signal.KindOffer, from, n.answerer, desc)}}, nil
}

// HandleAnswer accepts the answerer's SDP answer and emits it for delivery to
// the offerer, moving the session to AnswerPending. The gateway acknowledges
// delivery via AnswerDelivered.
func (n *Negotiator) HandleAnswer(from string, desc signal.SDP) ([]Outbound, error) {
	if n.state != StateOfferSent {
		return nil, fmt.Errorf("%w: answer in state %s", ErrInvalidState, n.state)
	}
	if from != n.answerer {
		return nil, fmt.Errorf("%w: answer from non-answerer %s", ErrInvalidState, from)
	}
	if err := validateSDP(signal.KindAnswer, desc); err != nil {
		return nil, err
	}
	n.state = StateAnswerPending
	return []Outbound{{To: n.offerer, Env: signal.NewSDP(signal.KindAnswer, from, n.offerer, desc)}}, nil
}

// AnswerDelivered marks the queued answer as delivered to the offerer and
// flushes every buffered candidate in submission order.
func (n *Negotiator) AnswerDelivered() ([]Outbound, error) {
	if n.state != StateAnswerPending {
		return nil, fmt.Errorf("%w: answer delivery in state %s", ErrInvalidState, n.state)
	}
	n.state = StateConnected

	out := make([]Outbound, 0, len(n.pending))
	for _, bc := range n.pending {
		peer := n.Peer(bc.from)
		out = append(out, Outbound{To: peer, Env: signal.NewCandidate(bc.from, peer, bc.cand)})
	}
	n.pending = nil
	return out, nil
}

// HandleCandidate routes, buffers, or discards a trickled ICE candidate
// depending on the session's state.
func (n *Negotiator) HandleCandidate(from string, cand signal.Candidate) (CandidateDisposition, []Outbound, error) {
	if n.state.Terminal() {
		return CandidateDiscarded, nil, nil
	}
	if err := validateCandidate(cand); err != nil {
		return CandidateDiscarded, nil, err
	}
	if n.state != StateConnected {
		n.pending = append(n.pending, bufferedCandidate{from: from, cand: cand})
		return CandidateBuffered, nil, nil
	}
	peer := n.Peer(from)
	return CandidateRouted, []Outbound{{To: peer, Env: signal.NewCandidate(from, peer, cand)}}, nil
}

// Close terminates the session. Closing an already-terminal session is a
// no-op so duplicate leave notifications stay idempotent.
func (n *Negotiator) Close(now time.Time) {
	if n.state.Terminal() {
		return
	}
	n.state = StateClosed
	n.terminatedAt = now
	n.pending = nil
}

// Fail moves the session to Failed and emits failure notifications for both
// participants.
func (n *Negotiator) Fail(code string, now time.Time) []Outbound {
	if n.state.Terminal() {
		return nil
	}
	n.state = StateFailed
	n.terminatedAt = now
	n.pending = nil
	return []Outbound{
		{To: n.offerer, Env: signal.NewSessionFailed(n.answerer, code)},
		{To: n.answerer, Env: signal.NewSessionFailed(n.offerer, code)},
	}
}
