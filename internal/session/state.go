package session

// State is the negotiation lifecycle position of a session.
type State int

const (
	// StateIdle: session created, no messages exchanged.
	StateIdle State = iota
	// StateOfferSent: the designated offerer's SDP offer has been routed to
	// the other peer.
	StateOfferSent
	// StateAnswerPending: the answer arrived and is queued for delivery to
	// the offerer.
	StateAnswerPending
	// StateConnected: the answer was delivered; candidate exchange continues
	// here indefinitely until termination.
	StateConnected
	// StateClosed: a side ended the session or left the room.
	StateClosed
	// StateFailed: negotiation timed out or a payload was malformed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerPending:
		return "answer-pending"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer make progress.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
