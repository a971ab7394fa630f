// Package transcribe turns audio segments into sanitized transcript fragments
// using a pluggable speech-to-text backend.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

const defaultTimeout = 10 * time.Second

// Request is a single file handed to a backend.
type Request struct {
	SessionID string
	Path      string
	Source    audio.Source
}

// Backend is an external speech-to-text capability: audio file in, text out.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Adapter runs segments through a Backend and owns the segment files it is given.
type Adapter struct {
	backend Backend
	timeout time.Duration
}

func NewAdapter(backend Backend, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{backend: backend, timeout: timeout}
}

func (a *Adapter) Backend() string {
	return a.backend.Name()
}

// Transcribe transcribes seg and deletes its file, whatever the outcome.
func (a *Adapter) Transcribe(ctx context.Context, sessionID string, seg *audio.Segment) (Fragment, error) {
	if seg == nil {
		return Fragment{}, ErrEmptySegment
	}
	defer removeSegment(seg.Path)

	raw, err := a.run(ctx, sessionID, seg.Path, seg.Source, a.timeoutFor(seg.Duration))
	if err != nil {
		return Fragment{}, err
	}

	return Fragment{
		Raw:        raw,
		Text:       Sanitize(raw),
		Source:     seg.Source,
		CapturedAt: seg.CapturedAt,
		Start:      seg.Start,
		Duration:   seg.Duration,
	}, nil
}

// TranscribeFile transcribes a file the caller keeps ownership of.
func (a *Adapter) TranscribeFile(ctx context.Context, path string, source audio.Source) (Fragment, error) {
	raw, err := a.run(ctx, "", path, source, a.timeout)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{Raw: raw, Text: Sanitize(raw), Source: source, CapturedAt: time.Now()}, nil
}

func (a *Adapter) run(ctx context.Context, sessionID, path string, source audio.Source, timeout time.Duration) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &Error{Backend: a.backend.Name(), Err: fmt.Errorf("stat segment: %w", err)}
	}
	if info.Size() <= audio.WAVHeaderSize {
		return "", fmt.Errorf("%s (%d bytes): %w", path, info.Size(), ErrEmptySegment)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := a.backend.Transcribe(ctx, Request{SessionID: sessionID, Path: path, Source: source})
	if err != nil {
		return "", &Error{Backend: a.backend.Name(), Err: err}
	}
	return raw, nil
}

func (a *Adapter) timeoutFor(d time.Duration) time.Duration {
	return max(a.timeout, 2*d)
}

func removeSegment(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove segment", "path", path, "err", err)
	}
}
