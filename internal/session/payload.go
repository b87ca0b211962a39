package session

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"

	"github.com/vidmesh/signaling/internal/signal"
)

// validateSDP parses the session description body. The envelope codec has
// already checked the type tag; this catches descriptions that do not survive
// a real SDP parse, before they are routed to a peer.
func validateSDP(kind signal.Kind, desc signal.SDP) error {
	if desc.Type != string(kind) {
		return fmt.Errorf("%w: sdp type %q in %s", ErrMalformedPayload, desc.Type, kind)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformedPayload)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// validateCandidate parses the candidate attribute. An empty candidate string
// is the end-of-candidates marker and is forwarded untouched.
func validateCandidate(cand signal.Candidate) error {
	raw := strings.TrimPrefix(strings.TrimSpace(cand.Candidate), "candidate:")
	if raw == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
