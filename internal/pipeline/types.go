// Package pipeline drives recording sessions: one worker per active session
// runs the extract → transcribe → sanitize → accumulate cycle on a timer, and
// a dispatch loop forwards accumulated transcript text to the coaching
// collaborator.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

var ErrShuttingDown = errors.New("pipeline is shutting down")

const (
	defaultSegmentWindow         = 5 * time.Second
	defaultSegmentInterval       = 5 * time.Second
	defaultDispatchInterval      = 2 * time.Second
	defaultFailureThreshold      = 3
	defaultProbeFailureThreshold = 6
	defaultStopTimeout           = 30 * time.Second

	// maxBackoffFactor caps the retry delay at this multiple of SegmentInterval.
	maxBackoffFactor = 4
)

type Config struct {
	SegmentWindow    time.Duration
	SegmentInterval  time.Duration
	DispatchInterval time.Duration
	// StopTimeout bounds every stop, including its final pass. Stops do not
	// inherit the caller's cancellation.
	StopTimeout time.Duration

	// FailureThreshold consecutive failed cycles stop the recording.
	FailureThreshold int
	// ProbeFailureThreshold consecutive cycles whose probe failed stop the
	// recording. Probe failures are otherwise silent and not backed off.
	ProbeFailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.SegmentWindow <= 0 {
		c.SegmentWindow = defaultSegmentWindow
	}
	if c.SegmentInterval <= 0 {
		c.SegmentInterval = defaultSegmentInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = defaultDispatchInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ProbeFailureThreshold <= 0 {
		c.ProbeFailureThreshold = defaultProbeFailureThreshold
	}
	return c
}

// Submitter is the coaching collaborator. hint is the speaker of text, or
// audio.Both when it mixes speakers.
type Submitter interface {
	Submit(ctx context.Context, sessionID, text string, hint audio.Source) (string, error)
}

type Store interface {
	CreateRecording(rec storage.Recording) error
	AppendFragment(recordingID string, f transcribe.Fragment) error
	EndRecording(id string, endedAt time.Time, transcript, status string) error
	SaveReply(r storage.Reply) error
}

type Journal interface {
	AppendFragment(f transcribe.Fragment) error
	AppendReply(at time.Time, reply string) error
}

type EventBroadcaster interface {
	BroadcastRecordingStarted(sessionID string, status session.Status)
	BroadcastRecordingStopped(sessionID, transcript, reason string)
	BroadcastFragment(sessionID string, f transcribe.Fragment)
	BroadcastCoachingReply(sessionID, reply string, mode session.Mode)
	BroadcastAutoFlushed(sessionID string, fragments int)
	BroadcastPipelineError(sessionID, kind, message string)
}

// FlushResult is what an auto-recorder flush forwarded.
type FlushResult struct {
	Fragments int    `json:"fragments"`
	Text      string `json:"text"`
	Reply     string `json:"reply,omitempty"`
}

const (
	reasonStopped   = "stopped"
	reasonEscalated = "escalated"
	reasonClosed    = "closed"
	reasonShutdown  = "shutdown"
)
