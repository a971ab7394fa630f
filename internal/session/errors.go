package session

import "errors"

var (
	// ErrAlreadyRecording is returned when a recording is requested for a
	// session that is not idle. Sessions are never silently restarted.
	ErrAlreadyRecording = errors.New("session is already recording")

	// ErrNotRecording is returned when stopping or cycling a session that is
	// not recording in the requested mode.
	ErrNotRecording = errors.New("session is not recording")

	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidID       = errors.New("invalid session id")

	// ErrOutOfOrder is returned when a fragment is older than the last one accumulated.
	ErrOutOfOrder = errors.New("fragment is older than the accumulated transcript")
)
