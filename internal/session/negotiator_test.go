package session

import (
	"errors"
	"testing"
	"time"

	"github.com/vidmesh/signaling/internal/signal"
)

const minimalSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

const hostCandidate = "candidate:2130706431 1 udp 2130706431 192.168.0.196 4000 typ host"

func offerSDP() signal.SDP  { return signal.SDP{Type: "offer", SDP: minimalSDP} }
func answerSDP() signal.SDP { return signal.SDP{Type: "answer", SDP: minimalSDP} }

func testCandidate() signal.Candidate {
	mid := "0"
	return signal.Candidate{Candidate: hostCandidate, SDPMid: &mid}
}

func connect(t *testing.T, n *Negotiator) {
	t.Helper()
	if _, err := n.HandleOffer(n.Offerer(), offerSDP()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if _, err := n.HandleAnswer(n.Answerer(), answerSDP()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if _, err := n.AnswerDelivered(); err != nil {
		t.Fatalf("AnswerDelivered: %v", err)
	}
}

func TestNegotiatorHappyPath(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())

	out, err := n.HandleOffer("b", offerSDP())
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if len(out) != 1 || out[0].To != "a" || out[0].Env.Kind != signal.KindOffer {
		t.Fatalf("unexpected offer routing: %+v", out)
	}
	if out[0].Env.FromID != "b" {
		t.Fatalf("routed offer fromId = %q, want b", out[0].Env.FromID)
	}
	if n.State() != StateOfferSent {
		t.Fatalf("state = %s, want offer-sent", n.State())
	}

	out, err = n.HandleAnswer("a", answerSDP())
	if err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if len(out) != 1 || out[0].To != "b" || out[0].Env.Kind != signal.KindAnswer {
		t.Fatalf("unexpected answer routing: %+v", out)
	}
	if n.State() != StateAnswerPending {
		t.Fatalf("state = %s, want answer-pending", n.State())
	}

	if _, err := n.AnswerDelivered(); err != nil {
		t.Fatalf("AnswerDelivered: %v", err)
	}
	if n.State() != StateConnected {
		t.Fatalf("state = %s, want connected", n.State())
	}
}

func TestNegotiatorAnswerBeforeOfferLeavesIdle(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())

	_, err := n.HandleAnswer("a", answerSDP())
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if n.State() != StateIdle {
		t.Fatalf("state = %s, want idle after premature answer", n.State())
	}

	// The session must still negotiate normally afterwards.
	connect(t, n)
}

func TestNegotiatorDuplicateOfferRejected(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	if _, err := n.HandleOffer("b", offerSDP()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	if _, err := n.HandleOffer("b", offerSDP()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second offer err = %v, want ErrInvalidState", err)
	}
	if n.State() != StateOfferSent {
		t.Fatalf("state = %s, want offer-sent", n.State())
	}
}

func TestNegotiatorOfferFromAnswererRejected(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	if _, err := n.HandleOffer("a", offerSDP()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if n.State() != StateIdle {
		t.Fatalf("state = %s, want idle", n.State())
	}
}

func TestNegotiatorMalformedSDP(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	_, err := n.HandleOffer("b", signal.SDP{Type: "offer", SDP: "not an sdp"})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}

	_, err = n.HandleOffer("b", signal.SDP{Type: "answer", SDP: minimalSDP})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("type mismatch err = %v, want ErrMalformedPayload", err)
	}
}

func TestNegotiatorCandidateBufferingAndFlushOrder(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())

	if _, err := n.HandleOffer("b", offerSDP()); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	// Candidates from both sides before the answer is delivered are held.
	for i, from := range []string{"b", "a", "b"} {
		disp, out, err := n.HandleCandidate(from, testCandidate())
		if err != nil {
			t.Fatalf("candidate %d: %v", i, err)
		}
		if disp != CandidateBuffered || out != nil {
			t.Fatalf("candidate %d disposition = %v, want buffered", i, disp)
		}
	}

	if _, err := n.HandleAnswer("a", answerSDP()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	flushed, err := n.AnswerDelivered()
	if err != nil {
		t.Fatalf("AnswerDelivered: %v", err)
	}

	wantTo := []string{"a", "b", "a"}
	if len(flushed) != len(wantTo) {
		t.Fatalf("flushed %d envelopes, want %d", len(flushed), len(wantTo))
	}
	for i, o := range flushed {
		if o.To != wantTo[i] {
			t.Fatalf("flush[%d].To = %q, want %q", i, o.To, wantTo[i])
		}
		if o.Env.Kind != signal.KindCandidate {
			t.Fatalf("flush[%d].Kind = %q", i, o.Env.Kind)
		}
	}

	// After Connected, candidates route immediately.
	disp, out, err := n.HandleCandidate("a", testCandidate())
	if err != nil {
		t.Fatalf("post-connect candidate: %v", err)
	}
	if disp != CandidateRouted || len(out) != 1 || out[0].To != "b" {
		t.Fatalf("post-connect disposition = %v out = %+v", disp, out)
	}
}

func TestNegotiatorEndOfCandidatesMarker(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	connect(t, n)

	disp, out, err := n.HandleCandidate("b", signal.Candidate{Candidate: ""})
	if err != nil {
		t.Fatalf("end-of-candidates: %v", err)
	}
	if disp != CandidateRouted || len(out) != 1 {
		t.Fatalf("disposition = %v out = %+v", disp, out)
	}
}

func TestNegotiatorMalformedCandidate(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	connect(t, n)

	disp, _, err := n.HandleCandidate("b", signal.Candidate{Candidate: "candidate:garbage"})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if disp != CandidateDiscarded {
		t.Fatalf("disposition = %v, want discarded", disp)
	}
}

func TestNegotiatorTerminalDiscardsCandidates(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	connect(t, n)
	n.Close(time.Now())

	disp, out, err := n.HandleCandidate("b", testCandidate())
	if err != nil {
		t.Fatalf("terminal candidate: %v", err)
	}
	if disp != CandidateDiscarded || out != nil {
		t.Fatalf("disposition = %v out = %+v, want silent discard", disp, out)
	}
}

func TestNegotiatorCloseIdempotent(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	n.Close(time.Now())
	if n.State() != StateClosed {
		t.Fatalf("state = %s, want closed", n.State())
	}
	n.Close(time.Now())
	if n.State() != StateClosed {
		t.Fatalf("state = %s after double close", n.State())
	}

	// Fail after Close must not resurrect or re-notify.
	if out := n.Fail(signal.CodeNegotiationTimeout, time.Now()); out != nil {
		t.Fatalf("Fail on closed session emitted %+v", out)
	}
}

func TestNegotiatorFailNotifiesBoth(t *testing.T) {
	n := NewNegotiator("b", "a", time.Now())
	out := n.Fail(signal.CodeNegotiationTimeout, time.Now())
	if len(out) != 2 {
		t.Fatalf("Fail emitted %d envelopes, want 2", len(out))
	}
	seen := map[string]bool{}
	for _, o := range out {
		if o.Env.Kind != signal.KindSessionFailed {
			t.Fatalf("kind = %q, want session-failed", o.Env.Kind)
		}
		seen[o.To] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("notified %v, want both participants", seen)
	}
	if n.State() != StateFailed {
		t.Fatalf("state = %s, want failed", n.State())
	}
}

func TestPairKeyNormalization(t *testing.T) {
	if NewPairKey("a", "b") != NewPairKey("b", "a") {
		t.Fatal("pair key is order-sensitive")
	}
	k := NewPairKey("x", "y")
	if !k.Involves("x") || !k.Involves("y") || k.Involves("z") {
		t.Fatalf("Involves misreports on %+v", k)
	}
}
