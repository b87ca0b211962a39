package session

import "errors"

var (
	// ErrInvalidState is returned when a negotiation message arrives outside
	// the state that permits it, e.g. an answer before any offer or a second
	// offer on a connected session. The session's state is left untouched;
	// this is the guard against glare and duplicate negotiation.
	ErrInvalidState = errors.New("invalid negotiation state")
	// ErrMalformedPayload is returned when an SDP or candidate payload does
	// not parse. It fails the affected session.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrNegotiationTimeout is the failure reason applied when no answer
	// arrives within the configured deadline.
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	// ErrNoSession is returned when a negotiation message references a pair
	// that has no live session.
	ErrNoSession = errors.New("no session for pair")
)
