// Package observe provides the OpenTelemetry metric instruments of the
// capture pipeline and the Prometheus bridge used to scrape them.
//
// Tests should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/optimisticlucifer/ghostGuide-sub001"

// Metrics holds all instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// CycleDuration tracks one extract → transcribe → accumulate cycle.
	CycleDuration metric.Float64Histogram

	// STTDuration tracks a single backend transcription. Attribute: backend.
	STTDuration metric.Float64Histogram

	// ChatDuration tracks coaching submissions.
	ChatDuration metric.Float64Histogram

	// Fragments counts accumulated fragments. Attribute: source.
	Fragments metric.Int64Counter

	// CycleFailures counts failed cycles. Attribute: kind (probe, transcribe, other).
	CycleFailures metric.Int64Counter

	// Dispatches counts coaching submissions. Attributes: mode, status.
	Dispatches metric.Int64Counter

	// ActiveRecordings tracks sessions that are currently recording.
	ActiveRecordings metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CycleDuration, err = m.Float64Histogram("ghostguide.cycle.duration",
		metric.WithDescription("Latency of one segment cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("ghostguide.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("ghostguide.chat.duration",
		metric.WithDescription("Latency of coaching submissions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Fragments, err = m.Int64Counter("ghostguide.fragments",
		metric.WithDescription("Transcript fragments accumulated, by source."),
	); err != nil {
		return nil, err
	}
	if met.CycleFailures, err = m.Int64Counter("ghostguide.cycle.failures",
		metric.WithDescription("Failed segment cycles, by kind."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("ghostguide.dispatches",
		metric.WithDescription("Coaching submissions by mode and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("ghostguide.active_recordings",
		metric.WithDescription("Number of sessions currently recording."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordCycle(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RecordSTT(ctx context.Context, backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *Metrics) RecordFragment(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.Fragments.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordCycleFailure(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.CycleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordDispatch(ctx context.Context, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatDuration.Record(ctx, d.Seconds())
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordingStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, 1)
}

func (m *Metrics) RecordingStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, -1)
}
