package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

type procStub struct {
	key  process.Key
	done chan struct{}
	once sync.Once
}

func (p *procStub) Key() process.Key      { return p.key }
func (p *procStub) Pid() int              { return 7 }
func (p *procStub) Done() <-chan struct{} { return p.done }
func (p *procStub) Stop(time.Duration) process.ExitInfo {
	p.once.Do(func() { close(p.done) })
	return process.ExitInfo{Key: p.key}
}

func (p *procStub) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type launcherStub struct {
	mu     sync.Mutex
	procs  []*procStub
	failOn map[string]error
}

func (l *launcherStub) Start(key process.Key, _ string, args ...string) (process.Proc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failOn[key.Purpose]; err != nil {
		return nil, err
	}
	if err := os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o600); err != nil {
		return nil, err
	}
	p := &procStub{key: key, done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *launcherStub) StopAll(sessionID string, grace time.Duration) []process.ExitInfo {
	l.mu.Lock()
	procs := append([]*procStub(nil), l.procs...)
	l.mu.Unlock()

	var infos []process.ExitInfo
	for _, p := range procs {
		if p.key.SessionID == sessionID {
			infos = append(infos, p.Stop(grace))
		}
	}
	return infos
}

// extractorStub pretends every live cycle finds 5s more audio and every final
// pass 2s more.
type extractorStub struct {
	mu       sync.Mutex
	total    map[string]time.Duration
	clock    time.Time
	probeErr error
	trailing int
	tails    []time.Duration
}

func newExtractorStub() *extractorStub {
	return &extractorStub{
		total: make(map[string]time.Duration),
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (e *extractorStub) segment(source audio.Source, path, kind string, start, end time.Duration) *audio.Segment {
	e.clock = e.clock.Add(time.Second)
	return &audio.Segment{Source: source, SourcePath: path, Path: kind, Start: start, Duration: end - start, CapturedAt: e.clock}
}

func (e *extractorStub) Trailing(_ context.Context, _ string, source audio.Source, path string, window time.Duration) (*audio.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trailing++
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	e.total[path] += 5 * time.Second
	total := e.total[path]
	return e.segment(source, path, "live", audio.WindowStart(total, window), total), nil
}

// Tail fails on a done context the way the real probe does.
func (e *extractorStub) Tail(ctx context.Context, _ string, source audio.Source, path string, from time.Duration) (*audio.Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tails = append(e.tails, from)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("probe %s: %w: %w", path, audio.ErrProbeFailed, err)
	}
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	e.total[path] += 2 * time.Second
	total := e.total[path]
	if total-from < audio.MinTail {
		return nil, nil
	}
	return e.segment(source, path, "final", from, total), nil
}

func (e *extractorStub) tailCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tails)
}

// transcriberStub answers "<kind> <source> <end>". After liveLimit live
// fragments it only reports empty segments. Each call takes delay.
type transcriberStub struct {
	mu        sync.Mutex
	err       error
	liveLimit int
	live      int
	delay     time.Duration
}

func (m *transcriberStub) Transcribe(ctx context.Context, _ string, seg *audio.Segment) (transcribe.Fragment, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return transcribe.Fragment{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return transcribe.Fragment{}, m.err
	}
	if seg.Path == "live" {
		if m.liveLimit > 0 && m.live >= m.liveLimit {
			return transcribe.Fragment{}, transcribe.ErrEmptySegment
		}
		m.live++
	}
	return transcribe.Fragment{
		Text:       fmt.Sprintf("%s %s %s", seg.Path, seg.Source, seg.End()),
		Source:     seg.Source,
		CapturedAt: seg.CapturedAt,
		Start:      seg.Start,
		Duration:   seg.Duration,
	}, nil
}

type submission struct {
	sessionID string
	text      string
	hint      audio.Source
}

type submitterStub struct {
	mu        sync.Mutex
	calls     []submission
	failFirst int
	forgotten []string
}

func (s *submitterStub) Submit(_ context.Context, sessionID, text string, hint audio.Source) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, submission{sessionID: sessionID, text: text, hint: hint})
	if len(s.calls) <= s.failFirst {
		return "", errors.New("chat backend unavailable")
	}
	return "reply to " + text, nil
}

func (s *submitterStub) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten = append(s.forgotten, sessionID)
}

func (s *submitterStub) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.calls...)
}

type storeStub struct {
	mu        sync.Mutex
	created   []storage.Recording
	fragments map[string][]string
	ended     map[string]string
	replies   []storage.Reply
}

func newStoreStub() *storeStub {
	return &storeStub{fragments: make(map[string][]string), ended: make(map[string]string)}
}

func (s *storeStub) CreateRecording(rec storage.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, rec)
	return nil
}

func (s *storeStub) AppendFragment(recordingID string, f transcribe.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[recordingID] = append(s.fragments[recordingID], f.Text)
	return nil
}

func (s *storeStub) EndRecording(id string, _ time.Time, _, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[id] = status
	return nil
}

func (s *storeStub) SaveReply(r storage.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return nil
}

func (s *storeStub) fragmentTexts(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fragments[id]...)
}

func (s *storeStub) recordingID(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.created {
		if rec.SessionID == sessionID {
			return rec.ID
		}
	}
	return ""
}

func (s *storeStub) endedStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended[id]
}

type eventsStub struct {
	mu     sync.Mutex
	events []string
}

func (e *eventsStub) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *eventsStub) BroadcastRecordingStarted(id string, st session.Status) {
	e.add("recording_started:%s:%s", id, st.Mode)
}

func (e *eventsStub) BroadcastRecordingStopped(id, _, reason string) {
	e.add("recording_stopped:%s:%s", id, reason)
}

func (e *eventsStub) BroadcastFragment(id string, _ transcribe.Fragment) {
	e.add("fragment:%s", id)
}

func (e *eventsStub) BroadcastCoachingReply(id, _ string, mode session.Mode) {
	e.add("coaching_reply:%s:%s", id, mode)
}

func (e *eventsStub) BroadcastAutoFlushed(id string, n int) {
	e.add("auto_flushed:%s:%d", id, n)
}

func (e *eventsStub) BroadcastPipelineError(id, kind, _ string) {
	e.add("pipeline_error:%s:%s", id, kind)
}

func (e *eventsStub) has(event string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev == event {
			return true
		}
	}
	return false
}

func (e *eventsStub) count(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if strings.HasPrefix(ev, prefix) {
			n++
		}
	}
	return n
}

type fixture struct {
	launcher    *launcherStub
	extractor   *extractorStub
	transcriber *transcriberStub
	submitter   *submitterStub
	store       *storeStub
	events      *eventsStub
	registry    *session.Registry
	orch        *Orchestrator
}

func testConfig() Config {
	return Config{
		SegmentWindow:         5 * time.Second,
		SegmentInterval:       10 * time.Millisecond,
		DispatchInterval:      10 * time.Millisecond,
		StopTimeout:           2 * time.Second,
		FailureThreshold:      3,
		ProbeFailureThreshold: 3,
	}
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		launcher:    &launcherStub{},
		extractor:   newExtractorStub(),
		transcriber: &transcriberStub{},
		submitter:   &submitterStub{},
		store:       newStoreStub(),
		events:      &eventsStub{},
	}
	f.registry = session.NewRegistry(session.Deps{
		Launcher:    f.launcher,
		Extractor:   f.extractor,
		Transcriber: f.transcriber,
		Capture:     audio.CaptureConfig{Format: "pulse"},
		CaptureDir:  t.TempDir(),
		StopGrace:   10 * time.Millisecond,
	})
	opts = append([]Option{WithStore(f.store), WithEvents(f.events)}, opts...)
	f.orch = New(cfg, f.registry, f.submitter, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.orch.Shutdown(ctx)
	})
	return f
}

func (f *fixture) runDispatch(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
