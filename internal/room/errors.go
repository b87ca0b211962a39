package room

import "errors"

var (
	// ErrRoomFull is returned when a join would exceed the configured
	// per-room member capacity.
	ErrRoomFull = errors.New("room full")
	// ErrTooManyRooms is returned when creating a room would exceed the
	// system-wide room cap. This is the only system-wide exhaustion case and
	// it is always surfaced as a rejected join, never a crash.
	ErrTooManyRooms = errors.New("too many rooms")
)
