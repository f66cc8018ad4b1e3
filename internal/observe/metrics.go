// Package observe wires voxnote into OpenTelemetry: the metric instruments
// the capture pipeline records into, tracing helpers, and the middleware
// for the control API.
//
// Production code records into [DefaultMetrics], which is bound to the
// global meter provider installed by [InitProvider]. Tests build their own
// instance with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxnote"

// Metrics is the set of instruments voxnote records into.
type Metrics struct {
	// ── durations (seconds) ──

	CaptureDuration        metric.Float64Histogram // audio length per session
	BatchDuration          metric.Float64Histogram // batch round trip
	StreamFinalizeDuration metric.Float64Histogram // stop → streaming final
	HTTPRequestDuration    metric.Float64Histogram // control API, by method/route/status

	// ── counters ──

	// ProviderRequests is labelled provider, kind and status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors is labelled provider and kind.
	ProviderErrors metric.Int64Counter
	// ArbitrationOutcomes is labelled engine and needs_review.
	ArbitrationOutcomes metric.Int64Counter
	LanguageSwitches    metric.Int64Counter
	LanguageMismatches  metric.Int64Counter
	SessionsAbandoned   metric.Int64Counter
	DroppedFrames       metric.Int64Counter

	// ActiveSessions counts sessions started but not yet reconciled.
	ActiveSessions metric.Int64UpDownCounter
}

var (
	// Recognizer round trips: sub-second streaming finals up to slow uploads.
	latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45}

	// Dictation length: a single word up to ten minutes.
	captureBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}
)

// instruments collects creation errors so NewMetrics can report them all.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.meter.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		CaptureDuration:        in.seconds("voxnote.capture.duration", "Length of captured audio per session.", captureBuckets),
		BatchDuration:          in.seconds("voxnote.batch.duration", "Batch transcription round trip.", latencyBuckets),
		StreamFinalizeDuration: in.seconds("voxnote.stream.finalize.duration", "Time from capture stop to the streaming final.", latencyBuckets),
		HTTPRequestDuration:    in.seconds("voxnote.http.request.duration", "Control API latency.", nil),

		ProviderRequests:    in.counter("voxnote.provider.requests", "Recognizer calls by provider, kind and status."),
		ProviderErrors:      in.counter("voxnote.provider.errors", "Recognizer failures by provider and error kind."),
		ArbitrationOutcomes: in.counter("voxnote.arbitration.outcomes", "Reconciled transcripts by engine and review flag."),
		LanguageSwitches:    in.counter("voxnote.language.switches", "Automatic recognition-language switches."),
		LanguageMismatches:  in.counter("voxnote.language.mismatches", "Detected languages reported while auto-switch was off."),
		SessionsAbandoned:   in.counter("voxnote.sessions.abandoned", "Sessions superseded before reconciliation."),
		DroppedFrames:       in.counter("voxnote.audio.dropped_frames", "Frames dropped by the streaming feed queue."),
	}
	var err error
	m.ActiveSessions, err = in.meter.Int64UpDownCounter("voxnote.active_sessions",
		metric.WithDescription("Sessions started but not yet reconciled."))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instance bound to
// [otel.GetMeterProvider]. Call [InitProvider] first or the instruments
// stay no-ops.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderRequest counts one recognizer call. kind is "stream",
// "transcribe" or similar; status is a short outcome such as "ok".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one recognizer failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordArbitration(ctx context.Context, engine string, needsReview bool) {
	m.ArbitrationOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("needs_review", strconv.FormatBool(needsReview)),
	))
}

func (m *Metrics) RecordLanguageSwitch(ctx context.Context, from, to string) {
	m.LanguageSwitches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordLanguageMismatch(ctx context.Context, detected string) {
	m.LanguageMismatches.Add(ctx, 1, metric.WithAttributes(attribute.String("detected", detected)))
}
