package core

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
	ErrForbidden    = errors.New("only the moderator may do this")

	// ErrNotParticipant is returned when the acting id is not in the room.
	// Callers treat it as a benign race and report nothing.
	ErrNotParticipant     = errors.New("not a participant of this room")
	ErrAlreadyParticipant = errors.New("already a participant of this room")
)
