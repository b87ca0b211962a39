package signal

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseJoin(t *testing.T) {
	env, err := Parse([]byte(`{"kind":"join","roomId":"room-1"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindJoin || env.RoomID != "room-1" {
		t.Fatalf("env = %+v", env)
	}
}

func TestParseLeave(t *testing.T) {
	env, err := Parse([]byte(`{"kind":"leave"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindLeave {
		t.Fatalf("env = %+v", env)
	}
}

func TestParseOffer(t *testing.T) {
	raw := `{"kind":"offer","toId":"p2","payload":{"type":"offer","sdp":"v=0"}}`
	env, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	desc, err := DecodeSDP(env)
	if err != nil {
		t.Fatalf("DecodeSDP: %v", err)
	}
	if desc.Type != "offer" || desc.SDP != "v=0" {
		t.Fatalf("desc = %+v", desc)
	}
}

func TestParseCandidateWithOptionalFields(t *testing.T) {
	raw := `{"kind":"candidate","toId":"p2","payload":{"candidate":"candidate:1 1 udp 1 10.0.0.1 4000 typ host","sdpMid":"0","sdpMLineIndex":0}}`
	env, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cand, err := DecodeCandidate(env)
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if cand.SDPMid == nil || *cand.SDPMid != "0" {
		t.Fatalf("cand = %+v", cand)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"not json", `{`, ""},
		{"trailing data", `{"kind":"leave"}{"kind":"leave"}`, "trailing"},
		{"unknown field", `{"kind":"leave","bogus":1}`, "unknown"},
		{"unknown kind", `{"kind":"subscribe"}`, "unsupported"},
		{"server kind", `{"kind":"peer-joined","payload":{"participantId":"x"}}`, "unsupported"},
		{"spoofed fromId", `{"kind":"leave","fromId":"victim"}`, "server-assigned"},
		{"join without room", `{"kind":"join"}`, "roomId"},
		{"join with payload", `{"kind":"join","roomId":"r","payload":{}}`, "unexpected"},
		{"offer without toId", `{"kind":"offer","payload":{"type":"offer","sdp":"v=0"}}`, "toId"},
		{"offer without payload", `{"kind":"offer","toId":"p2"}`, "payload"},
		{"offer with answer sdp", `{"kind":"offer","toId":"p2","payload":{"type":"answer","sdp":"v=0"}}`, "sdp type"},
		{"candidate without toId", `{"kind":"candidate","payload":{"candidate":""}}`, "toId"},
		{"candidate payload unknown field", `{"kind":"candidate","toId":"p2","payload":{"candidate":"","extra":1}}`, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatalf("Parse(%q) accepted", tc.raw)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestKindCritical(t *testing.T) {
	droppable := map[Kind]bool{KindPeerJoined: true, KindPeerLeft: true}
	all := []Kind{
		KindJoin, KindLeave, KindOffer, KindAnswer, KindCandidate,
		KindJoined, KindPeerJoined, KindPeerLeft, KindSessionFailed, KindError,
	}
	for _, k := range all {
		if k.Critical() == droppable[k] {
			t.Errorf("Critical(%s) = %v", k, k.Critical())
		}
	}
}

func TestNewJoinedNeverNilRoster(t *testing.T) {
	env := NewJoined("r", "self", nil)
	var p JoinedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Roster == nil {
		t.Fatal("roster marshalled as null")
	}
}

func TestRoutedEnvelopeRoundTrip(t *testing.T) {
	mid := "0"
	out := NewCandidate("p1", "p2", Candidate{Candidate: "candidate:x", SDPMid: &mid})
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var in Envelope
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.FromID != "p1" || in.ToID != "p2" || in.Kind != KindCandidate {
		t.Fatalf("round trip = %+v", in)
	}
}
