// Package session owns the per-session recording state machine, the registry
// of sessions and the transcript accumulator.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

const defaultStopGrace = 3 * time.Second

type capture struct {
	source audio.Source
	path   string
	proc   process.Proc

	// end offset of the last transcribed live window
	transcribedTo time.Duration
}

// Session is one caller-owned recording slot. It moves through
// Idle → Recording → Stopping → Idle or Idle → AutoRecording → Stopping → Idle.
type Session struct {
	id   string
	deps Deps

	mu          sync.Mutex
	state       State
	starting    bool
	mode        Mode
	source      audio.Source
	recordingID string
	startedAt   time.Time
	captures    []*capture
	cancelCycle context.CancelFunc

	// cycleMu serialises Cycle, Stop and Abort.
	cycleMu sync.Mutex
}

func newSession(id string, deps Deps) *Session {
	if deps.StopGrace <= 0 {
		deps.StopGrace = defaultStopGrace
	}
	return &Session{id: id, deps: deps, state: Idle}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Active:      s.state.Active(),
		State:       s.state,
		Source:      s.source,
		Mode:        s.mode,
		RecordingID: s.recordingID,
		StartedAt:   s.startedAt,
	}
}

// Start launches the capture process(es) for source. For audio.Both both
// captures must start; if the second fails the first is torn down and the
// session stays Idle.
func (s *Session) Start(ctx context.Context, source audio.Source, mode Mode) error {
	s.mu.Lock()
	if s.state != Idle || s.starting {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.id, ErrAlreadyRecording)
	}
	s.starting = true
	s.mu.Unlock()

	recordingID := uuid.NewString()
	captures, err := s.launch(ctx, recordingID, source)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return err
	}

	s.state = Recording
	if mode == Auto {
		s.state = AutoRecording
	}
	s.mode = mode
	s.source = source
	s.recordingID = recordingID
	s.startedAt = time.Now().UTC()
	s.captures = captures

	slog.Info("recording started", "session_id", s.id, "source", source, "mode", mode, "recording_id", recordingID)
	return nil
}

func (s *Session) launch(ctx context.Context, recordingID string, source audio.Source) ([]*capture, error) {
	if err := os.MkdirAll(s.deps.CaptureDir, 0o700); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}

	var started []*capture
	for _, src := range source.Captures() {
		if err := ctx.Err(); err != nil {
			s.teardown(started)
			return nil, err
		}

		path := filepath.Join(s.deps.CaptureDir, fmt.Sprintf("%s-%s-%s.wav", audio.SafeName(s.id), src, recordingID))
		cmd, err := s.deps.Capture.Command(src, path)
		if err != nil {
			s.teardown(started)
			return nil, err
		}

		proc, err := s.deps.Launcher.Start(process.Key{SessionID: s.id, Purpose: "capture-" + string(src)}, cmd.Name, cmd.Args...)
		if err != nil {
			removeFile(path)
			s.teardown(started)
			return nil, fmt.Errorf("start %s capture: %w", src, err)
		}
		started = append(started, &capture{source: src, path: path, proc: proc})
	}
	return started, nil
}

// Cycle transcribes the trailing window of every capture, in capture order.
// Empty segments yield no fragment and no error. Failures of individual
// captures are joined into the returned error alongside any fragments that
// did succeed.
func (s *Session) Cycle(ctx context.Context, window time.Duration) ([]transcribe.Fragment, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", s.id, ErrNotRecording)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelCycle = cancel
	captures := slices.Clone(s.captures)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancelCycle = nil
		s.mu.Unlock()
		cancel()
	}()

	var (
		fragments []transcribe.Fragment
		errs      []error
	)
	for _, c := range captures {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		seg, err := s.deps.Extractor.Trailing(ctx, s.id, c.source, c.path, window)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.source, err))
			continue
		}

		frag, ok, err := s.transcribe(ctx, seg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.source, err))
			continue
		}
		c.transcribedTo = seg.End()
		if ok {
			fragments = append(fragments, frag)
		}
	}

	return fragments, errors.Join(errs...)
}

// Stop ends a recording started in mode. In-flight cycles are cancelled, the
// captures are stopped, and whatever audio was captured after the last
// transcribed window is transcribed before the session returns to Idle.
func (s *Session) Stop(ctx context.Context, mode Mode) ([]transcribe.Fragment, error) {
	s.mu.Lock()
	if !s.state.Active() || s.mode != mode {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", s.id, ErrNotRecording)
	}
	s.state = Stopping
	if s.cancelCycle != nil {
		s.cancelCycle()
	}
	s.mu.Unlock()

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	captures := slices.Clone(s.captures)
	s.mu.Unlock()

	s.teardownProcs(captures)
	fragments, err := s.finalPass(ctx, captures)
	for _, c := range captures {
		removeFile(c.path)
	}

	s.reset()
	slog.Info("recording stopped", "session_id", s.id, "mode", mode, "final_fragments", len(fragments))
	return fragments, err
}

// Abort tears the session down without a final pass. Every process the
// launcher tracks for the session is stopped, including in-flight probes and
// transcriptions.
func (s *Session) Abort() {
	s.mu.Lock()
	if !s.state.Active() && s.state != Stopping {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	if s.cancelCycle != nil {
		s.cancelCycle()
	}
	s.mu.Unlock()

	s.deps.Launcher.StopAll(s.id, s.deps.StopGrace)

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	captures := slices.Clone(s.captures)
	s.mu.Unlock()

	s.teardownProcs(captures)
	for _, c := range captures {
		removeFile(c.path)
	}
	s.reset()
	slog.Info("recording aborted", "session_id", s.id)
}

func (s *Session) finalPass(ctx context.Context, captures []*capture) ([]transcribe.Fragment, error) {
	var (
		fragments []transcribe.Fragment
		errs      []error
	)
	for _, c := range captures {
		seg, err := s.deps.Extractor.Tail(ctx, s.id, c.source, c.path, c.transcribedTo)
		if err != nil {
			errs = append(errs, fmt.Errorf("final %s: %w", c.source, err))
			continue
		}
		if seg == nil {
			continue
		}

		frag, ok, err := s.transcribe(ctx, seg)
		if err != nil {
			errs = append(errs, fmt.Errorf("final %s: %w", c.source, err))
			continue
		}
		if ok {
			fragments = append(fragments, frag)
		}
	}
	return fragments, errors.Join(errs...)
}

func (s *Session) transcribe(ctx context.Context, seg *audio.Segment) (transcribe.Fragment, bool, error) {
	frag, err := s.deps.Transcriber.Transcribe(ctx, s.id, seg)
	if errors.Is(err, transcribe.ErrEmptySegment) {
		return transcribe.Fragment{}, false, nil
	}
	if err != nil {
		return transcribe.Fragment{}, false, err
	}
	return frag, frag.Text != "", nil
}

func (s *Session) teardown(captures []*capture) {
	s.teardownProcs(captures)
	for _, c := range captures {
		removeFile(c.path)
	}
}

func (s *Session) teardownProcs(captures []*capture) {
	var g errgroup.Group
	for _, c := range captures {
		g.Go(func() error {
			info := c.proc.Stop(s.deps.StopGrace)
			if info.Forced || info.Err != nil {
				slog.Warn("capture did not stop cleanly", "session_id", s.id, "source", c.source, "forced", info.Forced, "err", info.Err, "stderr", lastStderrLine(info.Stderr))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Idle
	s.mode = ""
	s.source = ""
	s.recordingID = ""
	s.startedAt = time.Time{}
	s.captures = nil
	s.cancelCycle = nil
}

func lastStderrLine(tail string) string {
	tail = strings.TrimSpace(tail)
	if i := strings.LastIndexByte(tail, '\n'); i >= 0 {
		return strings.TrimSpace(tail[i+1:])
	}
	return tail
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove capture file", "path", path, "err", err)
	}
}
