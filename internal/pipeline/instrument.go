package pipeline

import (
	"context"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/observe"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

type instrumentedTranscriber struct {
	next    session.Transcriber
	backend string
	metrics *observe.Metrics
}

// InstrumentTranscriber records the latency of every transcription under the
// backend's name.
func InstrumentTranscriber(next session.Transcriber, backend string, m *observe.Metrics) session.Transcriber {
	if m == nil {
		return next
	}
	return &instrumentedTranscriber{next: next, backend: backend, metrics: m}
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, sessionID string, seg *audio.Segment) (transcribe.Fragment, error) {
	started := time.Now()
	f, err := t.next.Transcribe(ctx, sessionID, seg)
	t.metrics.RecordSTT(ctx, t.backend, time.Since(started))
	return f, err
}
