package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

// dispatchPending forwards every manual recording's undispatched fragments,
// one combined submission per session, sessions in parallel.
func (o *Orchestrator) dispatchPending(ctx context.Context) {
	var g errgroup.Group
	for _, id := range o.acc.Sessions() {
		o.mu.Lock()
		w := o.workers[id]
		o.mu.Unlock()
		if w == nil || w.mode != session.Manual {
			continue
		}
		g.Go(func() error {
			o.dispatch(ctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) dispatch(ctx context.Context, w *worker) {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	fragments := o.acc.Undispatched(w.id)
	if len(fragments) == 0 {
		return
	}
	if _, err := o.submitFragments(ctx, w, fragments); err != nil {
		slog.Warn("dispatch failed, will retry", "session_id", w.id, "fragments", len(fragments), "err", err)
		return
	}
	o.acc.MarkDispatched(w.id, len(fragments))
}

// submitFragments sends the fragments as one combined text and records the
// reply.
func (o *Orchestrator) submitFragments(ctx context.Context, w *worker, fragments []transcribe.Fragment) (string, error) {
	if o.submit == nil {
		return "", nil
	}

	text := transcribe.Transcript(fragments)
	hint := transcribe.CommonSource(fragments)

	started := time.Now()
	reply, err := o.submit.Submit(ctx, w.id, text, hint)
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordDispatch(ctx, string(w.mode), status, time.Since(started))
	if err != nil {
		return "", fmt.Errorf("submit transcript: %w", err)
	}
	if reply == "" {
		return "", nil
	}

	at := time.Now()
	if o.store != nil {
		err := o.store.SaveReply(storage.Reply{
			RecordingID: w.recordingID,
			SessionID:   w.id,
			Mode:        string(w.mode),
			Source:      hint,
			Prompt:      text,
			Reply:       reply,
			CreatedAt:   at,
		})
		if err != nil {
			slog.Warn("persist reply", "session_id", w.id, "err", err)
		}
	}
	if o.journal != nil {
		if err := o.journal.AppendReply(at, reply); err != nil {
			slog.Warn("journal reply", "session_id", w.id, "err", err)
		}
	}
	o.events.BroadcastCoachingReply(w.id, reply, w.mode)
	return reply, nil
}
