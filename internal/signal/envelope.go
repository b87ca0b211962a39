package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind identifies the message carried by an Envelope.
type Kind string

const (
	// Client -> server.
	KindJoin  Kind = "join"
	KindLeave Kind = "leave"

	// Bidirectional negotiation messages, routed verbatim to the addressed
	// peer and tagged with the sender.
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"

	// Server -> client.
	KindJoined        Kind = "joined"
	KindPeerJoined    Kind = "peer-joined"
	KindPeerLeft      Kind = "peer-left"
	KindSessionFailed Kind = "session-failed"
	KindError         Kind = "error"
)

// Critical reports whether an envelope of this kind may never be dropped from
// a congested outbound queue. Presence broadcasts are advisory and are shed
// first under backpressure; negotiation and error messages are not.
func (k Kind) Critical() bool {
	switch k {
	case KindPeerJoined, KindPeerLeft:
		return false
	}
	return true
}

// Envelope is the unit of exchange on a signaling channel.
//
// FromID is always assigned by the server; values supplied by clients are
// ignored and rejected during validation so a participant cannot spoof
// another's identity.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	RoomID  string          `json:"roomId,omitempty"`
	FromID  string          `json:"fromId,omitempty"`
	ToID    string          `json:"toId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SDP is the offer/answer payload shape, mirroring RTCSessionDescriptionInit.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors RTCIceCandidateInit. An empty Candidate string is the
// end-of-candidates marker and is forwarded as-is.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// JoinedPayload is the server's reply to a join: the joiner's assigned
// identity and the roster of members already in the room, in join order.
type JoinedPayload struct {
	Self   string   `json:"self"`
	Roster []string `json:"roster"`
}

// PeerPayload carries the subject of a peer-joined / peer-left broadcast.
type PeerPayload struct {
	ParticipantID string `json:"participantId"`
}

// SessionFailedPayload notifies a participant that its session with
// ParticipantID reached a terminal failure.
type SessionFailedPayload struct {
	ParticipantID string `json:"participantId"`
	Code          string `json:"code"`
}

// ErrorPayload is sent in reply to a rejected client message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Wire error codes surfaced to clients.
const (
	CodeRoomFull           = "room_full"
	CodeTooManyRooms       = "too_many_rooms"
	CodeInvalidState       = "invalid_state"
	CodeMalformedPayload   = "malformed_payload"
	CodeNegotiationTimeout = "negotiation_timeout"
	CodeChannelLost        = "channel_lost"
	CodeBadRequest         = "bad_request"
)

// Parse decodes and validates a client-submitted envelope. Unknown fields,
// trailing data, server-only kinds, and kind/field mismatches are all
// rejected.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.validateInbound(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) validateInbound() error {
	if e.FromID != "" {
		return fmt.Errorf("fromId is server-assigned and must not be set")
	}
	switch e.Kind {
	case KindJoin:
		if e.RoomID == "" {
			return fmt.Errorf("join message missing roomId")
		}
		if e.ToID != "" || len(e.Payload) != 0 {
			return fmt.Errorf("join message has unexpected fields")
		}
	case KindLeave:
		if e.ToID != "" || len(e.Payload) != 0 {
			return fmt.Errorf("leave message has unexpected fields")
		}
	case KindOffer, KindAnswer:
		if e.ToID == "" {
			return fmt.Errorf("%s message missing toId", e.Kind)
		}
		var desc SDP
		if err := decodeStrict(e.Payload, &desc); err != nil {
			return fmt.Errorf("%s message payload: %w", e.Kind, err)
		}
		if desc.Type != string(e.Kind) {
			return fmt.Errorf("%s message has sdp type %q", e.Kind, desc.Type)
		}
	case KindCandidate:
		if e.ToID == "" {
			return fmt.Errorf("candidate message missing toId")
		}
		var cand Candidate
		if err := decodeStrict(e.Payload, &cand); err != nil {
			return fmt.Errorf("candidate message payload: %w", err)
		}
	default:
		return fmt.Errorf("unsupported message kind %q", e.Kind)
	}
	return nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// All payload types are plain structs of strings and ints.
		panic(err)
	}
	return b
}

// NewJoined builds the roster reply sent to a participant that joined room.
func NewJoined(roomID, self string, roster []string) Envelope {
	if roster == nil {
		roster = []string{}
	}
	return Envelope{
		Kind:    KindJoined,
		RoomID:  roomID,
		Payload: mustMarshal(JoinedPayload{Self: self, Roster: roster}),
	}
}

// NewPeerJoined builds the broadcast announcing participant joined room.
func NewPeerJoined(roomID, participant string) Envelope {
	return Envelope{
		Kind:    KindPeerJoined,
		RoomID:  roomID,
		Payload: mustMarshal(PeerPayload{ParticipantID: participant}),
	}
}

// NewPeerLeft builds the broadcast announcing participant left room.
func NewPeerLeft(roomID, participant string) Envelope {
	return Envelope{
		Kind:    KindPeerLeft,
		RoomID:  roomID,
		Payload: mustMarshal(PeerPayload{ParticipantID: participant}),
	}
}

// NewSessionFailed builds the failure notification for the session with peer.
func NewSessionFailed(peer, code string) Envelope {
	return Envelope{
		Kind:    KindSessionFailed,
		Payload: mustMarshal(SessionFailedPayload{ParticipantID: peer, Code: code}),
	}
}

// NewError builds an error reply.
func NewError(code, message string) Envelope {
	return Envelope{
		Kind:    KindError,
		Payload: mustMarshal(ErrorPayload{Code: code, Message: message}),
	}
}

// NewSDP builds a routed offer or answer envelope tagged with the sender.
func NewSDP(kind Kind, from, to string, desc SDP) Envelope {
	return Envelope{
		Kind:    kind,
		FromID:  from,
		ToID:    to,
		Payload: mustMarshal(desc),
	}
}

// NewCandidate builds a routed candidate envelope tagged with the sender.
func NewCandidate(from, to string, cand Candidate) Envelope {
	return Envelope{
		Kind:    KindCandidate,
		FromID:  from,
		ToID:    to,
		Payload: mustMarshal(cand),
	}
}

// DecodeSDP extracts the SDP payload from an offer/answer envelope that has
// already passed Parse validation.
func DecodeSDP(e Envelope) (SDP, error) {
	var desc SDP
	if err := decodeStrict(e.Payload, &desc); err != nil {
		return SDP{}, err
	}
	return desc, nil
}

// DecodeCandidate extracts the candidate payload from a candidate envelope.
func DecodeCandidate(e Envelope) (Candidate, error) {
	var cand Candidate
	if err := decodeStrict(e.Payload, &cand); err != nil {
		return Candidate{}, err
	}
	return cand, nil
}
