package session

import (
	"context"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

type Launcher interface {
	Start(key process.Key, name string, args ...string) (process.Proc, error)
	StopAll(sessionID string, grace time.Duration) []process.ExitInfo
}

type Extractor interface {
	Trailing(ctx context.Context, sessionID string, source audio.Source, path string, window time.Duration) (*audio.Segment, error)
	Tail(ctx context.Context, sessionID string, source audio.Source, path string, from time.Duration) (*audio.Segment, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, seg *audio.Segment) (transcribe.Fragment, error)
}

// Deps are the collaborators every session of a Registry shares.
type Deps struct {
	Launcher    Launcher
	Extractor   Extractor
	Transcriber Transcriber
	Capture     audio.CaptureConfig
	CaptureDir  string
	StopGrace   time.Duration
}

type State string

const (
	Idle          State = "idle"
	Recording     State = "recording"
	Stopping      State = "stopping"
	AutoRecording State = "auto_recording"
)

// Active reports whether captures are running and cycles may be scheduled.
func (s State) Active() bool {
	return s == Recording || s == AutoRecording
}

type Mode string

const (
	Manual Mode = "manual"
	Auto   Mode = "auto"
)

// Status is a snapshot of a session for callers outside the pipeline.
type Status struct {
	Active      bool         `json:"active"`
	State       State        `json:"state"`
	Source      audio.Source `json:"source,omitempty"`
	Mode        Mode         `json:"mode,omitempty"`
	RecordingID string       `json:"recording_id,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
}
