// Package session drives SDP offer/answer and ICE candidate exchange for one
// pair of participants.
//
// The Negotiator is a pure state machine: transitions are driven exclusively
// by inbound messages handed to it by the gateway, and it never performs I/O
// itself — it only transforms state and emits outbound envelopes for the
// gateway to deliver. The Manager owns the per-pair instances, deduplicates
// them by unordered pair key, and runs the negotiation timeout timers.
package session
