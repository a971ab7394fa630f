package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCycle(ctx, 1200*time.Millisecond)
	m.RecordSTT(ctx, "whisper", 800*time.Millisecond)
	m.RecordDispatch(ctx, "manual", "ok", 2*time.Second)

	rm := collect(t, reader)
	for _, name := range []string{"ghostguide.cycle.duration", "ghostguide.stt.duration", "ghostguide.chat.duration"} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("%s: expected Histogram[float64], got %T", name, met.Data)
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Fatalf("%s: unexpected data points %#v", name, hist.DataPoints)
		}
	}
}

func TestCountersAndGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFragment(ctx, "interviewer")
	m.RecordFragment(ctx, "interviewer")
	m.RecordCycleFailure(ctx, "probe")
	m.RecordingStarted(ctx)
	m.RecordingStarted(ctx)
	m.RecordingStopped(ctx)

	rm := collect(t, reader)

	fragments := findMetric(rm, "ghostguide.fragments")
	if fragments == nil {
		t.Fatal("fragments counter not found")
	}
	sum, ok := fragments.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Fatalf("unexpected fragments data %#v", fragments.Data)
	}
	if v, _ := sum.DataPoints[0].Attributes.Value("source"); v.AsString() != "interviewer" {
		t.Fatalf("expected source attribute, got %v", v)
	}

	active := findMetric(rm, "ghostguide.active_recordings")
	if active == nil {
		t.Fatal("active recordings gauge not found")
	}
	gauge, ok := active.Data.(metricdata.Sum[int64])
	if !ok || gauge.DataPoints[0].Value != 1 {
		t.Fatalf("expected one active recording, got %#v", active.Data)
	}

	if findMetric(rm, "ghostguide.cycle.failures") == nil {
		t.Fatal("cycle failures counter not found")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordCycle(ctx, time.Second)
	m.RecordSTT(ctx, "openai", time.Second)
	m.RecordFragment(ctx, "both")
	m.RecordCycleFailure(ctx, "other")
	m.RecordDispatch(ctx, "auto", "error", time.Second)
	m.RecordingStarted(ctx)
	m.RecordingStopped(ctx)
}
