// Package signal defines the wire protocol spoken over a participant's
// signaling channel: the envelope format, per-kind payloads, and strict
// validation of client-submitted messages.
//
// The package models the protocol surface only; routing and negotiation state
// live in internal/gateway and internal/session.
package signal
