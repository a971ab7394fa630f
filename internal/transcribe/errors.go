package transcribe

import (
	"errors"
	"fmt"
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrBackendUnavailable  = errors.New("transcription backend unavailable")

	// ErrEmptySegment is returned for segments with no audio payload. The
	// backend is never called for them.
	ErrEmptySegment = errors.New("empty segment")
)

// Error wraps a backend failure. It always matches ErrTranscriptionFailed.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("transcribe (%s): %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrTranscriptionFailed, e.Err}
}
