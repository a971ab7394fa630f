package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/observe"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

type Orchestrator struct {
	cfg      Config
	registry *session.Registry
	acc      *session.Accumulator
	submit   Submitter

	store   Store
	journal Journal
	events  EventBroadcaster
	metrics *observe.Metrics

	// ctx parents worker loops and detached submissions; cancelled last in
	// Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
	closing bool
	drained bool
	wg      sync.WaitGroup
}

type Option func(*Orchestrator)

func WithStore(s Store) Option { return func(o *Orchestrator) { o.store = s } }

func WithJournal(j Journal) Option { return func(o *Orchestrator) { o.journal = j } }

func WithEvents(e EventBroadcaster) Option { return func(o *Orchestrator) { o.events = e } }

func WithMetrics(m *observe.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// New builds an orchestrator over registry. submit may be nil, in which case
// transcripts are accumulated and persisted but never forwarded.
func New(cfg Config, registry *session.Registry, submit Submitter, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		acc:      session.NewAccumulator(),
		submit:   submit,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = nopEvents{}
	}
	return o
}

// StartRecording starts a manual recording of source for the session.
func (o *Orchestrator) StartRecording(ctx context.Context, sessionID string, source audio.Source) error {
	return o.start(ctx, sessionID, source, session.Manual)
}

// StopRecording stops a manual recording and returns its full transcript,
// including the final pass over audio captured since the last cycle.
// Fragments not yet forwarded are submitted in the background.
func (o *Orchestrator) StopRecording(ctx context.Context, sessionID string) (string, error) {
	w, err := o.claim(sessionID, session.Manual)
	if err != nil {
		return "", err
	}
	return o.finish(ctx, w, reasonStopped)
}

// ToggleAutoRecorder starts or stops continuous recording. Starting an
// already running auto-recorder is a no-op; stopping returns the text
// accumulated since the last flush, which is submitted as one request.
func (o *Orchestrator) ToggleAutoRecorder(ctx context.Context, sessionID string, active bool, source audio.Source) (string, error) {
	if !active {
		w, err := o.claim(sessionID, session.Auto)
		if err != nil {
			return "", err
		}
		return o.finish(ctx, w, reasonStopped)
	}

	if st := o.IsRecording(sessionID); st.Active && st.Mode == session.Auto {
		return "", nil
	}
	return "", o.start(ctx, sessionID, source, session.Auto)
}

// FlushAutoRecorder drains everything the auto-recorder accumulated and
// submits it as one request. Recording continues. Nothing is submitted when
// the accumulator is empty. If the submission fails the fragments are put
// back and stay part of the next flush or the stop transcript.
func (o *Orchestrator) FlushAutoRecorder(ctx context.Context, sessionID string) (FlushResult, error) {
	w, err := o.active(sessionID)
	if err != nil {
		return FlushResult{}, err
	}
	if w.mode != session.Auto {
		return FlushResult{}, fmt.Errorf("session %s is not auto-recording: %w", sessionID, session.ErrNotRecording)
	}

	// Held across the submission so a concurrent stop drains after any
	// restore.
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	fragments := o.acc.Drain(sessionID)
	if len(fragments) == 0 {
		return FlushResult{}, nil
	}

	reply, err := o.submitFragments(ctx, w, fragments)
	if err != nil {
		o.acc.Restore(sessionID, fragments)
		return FlushResult{}, err
	}
	o.events.BroadcastAutoFlushed(sessionID, len(fragments))
	return FlushResult{Fragments: len(fragments), Text: transcribe.Transcript(fragments), Reply: reply}, nil
}

// IsRecording reports the session's state. Unknown sessions are idle.
func (o *Orchestrator) IsRecording(sessionID string) session.Status {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return session.Status{State: session.Idle}
	}
	return sess.Status()
}

// ActiveSessions lists the ids of sessions that are recording, in id order.
func (o *Orchestrator) ActiveSessions() []string {
	ids := []string{}
	for _, sess := range o.registry.Active() {
		ids = append(ids, sess.ID())
	}
	return ids
}

// Fragments returns what has been accumulated for the session and not yet
// drained.
func (o *Orchestrator) Fragments(sessionID string) []transcribe.Fragment {
	return o.acc.Fragments(sessionID)
}

// CloseSession tears the session down without a final pass, e.g. when the
// owning client disconnected. Accumulated text is discarded.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	w := o.workers[sessionID]
	if w != nil {
		if w.stopping {
			w = nil
		} else {
			w.stopping = true
		}
	}
	o.mu.Unlock()

	_, lookupErr := o.registry.Get(sessionID)

	if w != nil {
		w.cancel()
		w.sess.Abort()
		<-w.done

		w.dispatchMu.Lock()
		fragments := o.acc.Drain(sessionID)
		w.dispatchMu.Unlock()

		o.ended(ctx, w, transcribe.Transcript(fragments), reasonClosed)
		o.release(w)
		lookupErr = nil
	} else {
		o.acc.Drain(sessionID)
	}

	o.registry.Remove(sessionID)
	if f, ok := o.submit.(interface{ Forget(string) }); ok {
		f.Forget(sessionID)
	}
	return lookupErr
}

// Run forwards manual recordings' new fragments every DispatchInterval until
// ctx is done. A failed submission stays pending and is retried next tick.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.dispatchPending(ctx)
		}
	}
}

// Shutdown stops every recording with a final pass and waits for background
// submissions until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	var stopping []*worker
	for _, w := range o.workers {
		if !w.stopping {
			w.stopping = true
			stopping = append(stopping, w)
		}
	}
	o.mu.Unlock()

	var g errgroup.Group
	for _, w := range stopping {
		g.Go(func() error {
			_, err := o.finish(ctx, w, reasonShutdown)
			return err
		})
	}
	err := g.Wait()

	o.mu.Lock()
	o.drained = true
	o.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	o.cancel()
	return err
}

func (o *Orchestrator) start(ctx context.Context, sessionID string, source audio.Source, mode session.Mode) error {
	o.mu.Lock()
	closing := o.closing
	_, busy := o.workers[sessionID]
	o.mu.Unlock()
	if closing {
		return ErrShuttingDown
	}
	if busy {
		return fmt.Errorf("session %s: %w", sessionID, session.ErrAlreadyRecording)
	}

	sess, err := o.registry.GetOrCreate(sessionID)
	if err != nil {
		return err
	}
	if err := sess.Start(ctx, source, mode); err != nil {
		o.registry.RemoveIfIdle(sessionID)
		return err
	}

	status := sess.Status()
	wctx, cancel := context.WithCancel(o.ctx)
	w := &worker{
		id:          sessionID,
		sess:        sess,
		mode:        mode,
		recordingID: status.RecordingID,
		startedAt:   status.StartedAt,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		cancel()
		sess.Abort()
		o.registry.RemoveIfIdle(sessionID)
		return ErrShuttingDown
	}
	o.workers[sessionID] = w
	o.mu.Unlock()

	go o.runWorker(wctx, w)

	if o.store != nil {
		rec := storage.Recording{
			ID:        w.recordingID,
			SessionID: sessionID,
			Source:    source,
			Mode:      string(mode),
			StartedAt: w.startedAt,
		}
		if err := o.store.CreateRecording(rec); err != nil {
			slog.Warn("persist recording", "session_id", sessionID, "err", err)
		}
	}
	o.metrics.RecordingStarted(ctx)
	o.events.BroadcastRecordingStarted(sessionID, status)
	return nil
}

// claim marks the session's worker as stopping so exactly one caller
// finishes it.
func (o *Orchestrator) claim(sessionID string, mode session.Mode) (*worker, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workers[sessionID]
	if !ok || w.stopping || w.mode != mode {
		return nil, o.notRecording(sessionID)
	}
	w.stopping = true
	return w, nil
}

func (o *Orchestrator) active(sessionID string) (*worker, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workers[sessionID]
	if !ok || w.stopping {
		return nil, o.notRecording(sessionID)
	}
	return w, nil
}

func (o *Orchestrator) notRecording(sessionID string) error {
	if _, err := o.registry.Get(sessionID); err != nil {
		return err
	}
	return fmt.Errorf("session %s: %w", sessionID, session.ErrNotRecording)
}

func (o *Orchestrator) release(w *worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.workers[w.id] == w {
		delete(o.workers, w.id)
	}
}

// finish stops a claimed worker's session: in-flight cycles are cancelled,
// the final pass runs, the accumulator entry is drained and whatever was not
// forwarded yet is submitted in the background.
func (o *Orchestrator) finish(ctx context.Context, w *worker, reason string) (string, error) {
	defer o.release(w)

	// The final pass must run even when the caller has given up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StopTimeout)
	defer cancel()

	w.cancel()
	final, stopErr := w.sess.Stop(ctx, w.mode)
	<-w.done

	if errors.Is(stopErr, session.ErrNotRecording) {
		o.acc.Drain(w.id)
		return "", stopErr
	}
	if stopErr != nil {
		slog.Warn("final pass incomplete", "session_id", w.id, "err", stopErr)
	}
	for _, f := range final {
		o.accept(ctx, w, f)
	}

	w.dispatchMu.Lock()
	pending := o.acc.Undispatched(w.id)
	all := o.acc.Drain(w.id)
	w.dispatchMu.Unlock()

	text := transcribe.Transcript(all)
	if len(pending) > 0 {
		o.spawn(func() {
			if _, err := o.submitFragments(o.ctx, w, pending); err != nil {
				slog.Warn("submit final transcript", "session_id", w.id, "err", err)
			}
		})
	}

	o.ended(ctx, w, text, reason)
	o.registry.RemoveIfIdle(w.id)
	return text, nil
}

func (o *Orchestrator) ended(ctx context.Context, w *worker, transcript, reason string) {
	if o.store != nil {
		status := storage.RecordingEnded
		switch reason {
		case reasonEscalated:
			status = storage.RecordingFailed
		case reasonClosed:
			status = storage.RecordingAborted
		}
		if err := o.store.EndRecording(w.recordingID, time.Now(), transcript, status); err != nil {
			slog.Warn("persist recording end", "session_id", w.id, "err", err)
		}
	}
	o.metrics.RecordingStopped(ctx)
	o.events.BroadcastRecordingStopped(w.id, transcript, reason)
}

func (o *Orchestrator) accept(ctx context.Context, w *worker, f transcribe.Fragment) {
	if err := o.acc.Append(w.id, f); err != nil {
		slog.Warn("fragment dropped", "session_id", w.id, "source", f.Source, "err", err)
		return
	}
	o.metrics.RecordFragment(ctx, string(f.Source))

	if o.store != nil {
		if err := o.store.AppendFragment(w.recordingID, f); err != nil {
			slog.Warn("persist fragment", "session_id", w.id, "err", err)
		}
	}
	if o.journal != nil {
		if err := o.journal.AppendFragment(f); err != nil {
			slog.Warn("journal fragment", "session_id", w.id, "err", err)
		}
	}
	o.events.BroadcastFragment(w.id, f)
}

// spawn runs fn in the background, tracked by Shutdown. Once Shutdown has
// stopped waiting it runs fn inline.
func (o *Orchestrator) spawn(fn func()) {
	o.mu.Lock()
	if o.drained {
		o.mu.Unlock()
		fn()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		fn()
	}()
}

type nopEvents struct{}

func (nopEvents) BroadcastRecordingStarted(string, session.Status)    {}
func (nopEvents) BroadcastRecordingStopped(string, string, string)    {}
func (nopEvents) BroadcastFragment(string, transcribe.Fragment)       {}
func (nopEvents) BroadcastCoachingReply(string, string, session.Mode) {}
func (nopEvents) BroadcastAutoFlushed(string, int)                    {}
func (nopEvents) BroadcastPipelineError(string, string, string)       {}
