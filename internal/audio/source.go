// Package audio describes capture sources, builds the ffmpeg/ffprobe command
// lines used to record and slice them, and extracts transcription segments
// from capture files that are still being written.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownSource = errors.New("unknown recording source")

// Source is who is being recorded.
type Source string

const (
	// Interviewer is the system loopback, i.e. the remote party.
	Interviewer Source = "interviewer"
	// Interviewee is the local microphone.
	Interviewee Source = "interviewee"
	// Both records Interviewer and Interviewee as two separate captures.
	Both Source = "both"
	// System records the loopback device on its own.
	System Source = "system"
)

func ParseSource(raw string) (Source, error) {
	switch s := Source(strings.ToLower(strings.TrimSpace(raw))); s {
	case Interviewer, Interviewee, Both, System:
		return s, nil
	case "":
		return "", fmt.Errorf("%w: empty", ErrUnknownSource)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
	}
}

// Captures expands the source into the capture processes it needs.
func (s Source) Captures() []Source {
	if s == Both {
		return []Source{Interviewer, Interviewee}
	}
	return []Source{s}
}

// Label is the speaker name used in transcripts and prompts.
func (s Source) Label() string {
	switch s {
	case Interviewer:
		return "Interviewer"
	case Interviewee:
		return "Interviewee"
	case Both:
		return "Both"
	case System:
		return "System"
	default:
		return string(s)
	}
}

func (s Source) String() string {
	return string(s)
}
