package pipeline

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

func TestInstrumentTranscriberRecordsLatency(t *testing.T) {
	m, reader := newTestMetrics(t)
	next := &transcriberStub{}
	tr := InstrumentTranscriber(next, "whisper", m)

	seg := &audio.Segment{Source: audio.Interviewer, Path: "live"}
	f, err := tr.Transcribe(context.Background(), "s1", seg)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if f.Text != "live interviewer 0s" {
		t.Errorf("fragment text = %q", f.Text)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "ghostguide.stt.duration" {
				continue
			}
			hist := met.Data.(metricdata.Histogram[float64])
			for _, dp := range hist.DataPoints {
				count += dp.Count
			}
		}
	}
	if count != 1 {
		t.Errorf("stt observations = %d, want 1", count)
	}
}

func TestInstrumentTranscriberWithoutMetrics(t *testing.T) {
	next := &transcriberStub{}
	if got := InstrumentTranscriber(next, "whisper", nil); got != next {
		t.Errorf("expected the transcriber unchanged, got %T", got)
	}
}
