package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

const (
	failureProbe         = "probe"
	failureTranscription = "transcription"
	failureOther         = "other"
)

// worker owns the cycle loop of one active recording.
type worker struct {
	id          string
	sess        *session.Session
	mode        session.Mode
	recordingID string
	startedAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// stopping is guarded by Orchestrator.mu. Once set, exactly one caller
	// owns finishing the worker.
	stopping bool

	// dispatchMu serialises submissions of this recording's fragments with
	// the drain at flush and stop.
	dispatchMu sync.Mutex

	// touched only by the worker goroutine
	failures      int
	probeFailures int
}

func (o *Orchestrator) runWorker(ctx context.Context, w *worker) {
	defer close(w.done)

	timer := time.NewTimer(o.cfg.SegmentInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := time.Now()
		fragments, err := w.sess.Cycle(ctx, o.cfg.SegmentWindow)
		o.metrics.RecordCycle(ctx, time.Since(started))

		// Fragments of a cancelled cycle are kept: their windows are already
		// marked transcribed and the final pass starts after them.
		for _, f := range fragments {
			o.accept(ctx, w, f)
		}

		if ctx.Err() != nil || errors.Is(err, session.ErrNotRecording) {
			return
		}

		delay, kind, escalate := w.observe(err, o.cfg)
		if kind != "" {
			o.metrics.RecordCycleFailure(ctx, kind)
			slog.Warn("cycle failed", "session_id", w.id, "kind", kind, "failures", w.failures, "probe_failures", w.probeFailures, "err", err)
		}
		if escalate {
			o.escalate(w, kind, err)
			return
		}
		// The next cycle is due delay after this one started; consecutive
		// trailing windows must not leave gaps.
		timer.Reset(max(0, delay-time.Since(started)))
	}
}

// observe updates the failure counters with the outcome of one cycle and
// returns the delay between its start and the start of the next one.
func (w *worker) observe(err error, cfg Config) (delay time.Duration, kind string, escalate bool) {
	if err == nil {
		w.failures = 0
		w.probeFailures = 0
		return cfg.SegmentInterval, "", false
	}

	kind = classify(err)
	if kind == failureProbe {
		w.probeFailures++
		return cfg.SegmentInterval, kind, w.probeFailures >= cfg.ProbeFailureThreshold
	}

	w.probeFailures = 0
	w.failures++
	return backoff(cfg.SegmentInterval, w.failures), kind, w.failures >= cfg.FailureThreshold
}

func classify(err error) string {
	switch {
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		return failureTranscription
	case errors.Is(err, audio.ErrProbeFailed):
		return failureProbe
	default:
		return failureOther
	}
}

// backoff is interval × 2^(n-1), capped at maxBackoffFactor × interval.
func backoff(interval time.Duration, n int) time.Duration {
	if n <= 1 {
		return interval
	}
	factor := 1 << min(n-1, 30)
	if factor > maxBackoffFactor {
		factor = maxBackoffFactor
	}
	return interval * time.Duration(factor)
}

// escalate stops a recording whose cycles keep failing. The stop runs
// detached because finishing waits for the worker goroutine that calls it.
func (o *Orchestrator) escalate(w *worker, kind string, cause error) {
	o.events.BroadcastPipelineError(w.id, kind, cause.Error())

	o.mu.Lock()
	if o.workers[w.id] != w || w.stopping {
		o.mu.Unlock()
		return
	}
	w.stopping = true
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()

		slog.Error("stopping recording after repeated failures", "session_id", w.id, "kind", kind, "err", cause)
		if _, err := o.finish(o.ctx, w, reasonEscalated); err != nil {
			slog.Warn("escalated stop", "session_id", w.id, "err", err)
		}
	}()
}
