// Package observe holds the OpenTelemetry metric instruments for the
// streaming pipeline. Instruments are recorded through the OTel metrics
// API and exported via the Prometheus bridge configured in runtime.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/voxkit-labs/voxkit"

// Metrics holds all metric instruments. The underlying OTel types handle
// their own synchronisation, so a single instance is shared process-wide.
type Metrics struct {
	// SynthDuration tracks wall-clock generation time per session.
	SynthDuration metric.Float64Histogram

	// FirstChunkLatency tracks seconds from request acceptance to the
	// first frame leaving the transport.
	FirstChunkLatency metric.Float64Histogram

	// RTF tracks the real-time factor per completed session.
	RTF metric.Float64Histogram

	// Requests counts generation requests. Attributes: transport, status.
	Requests metric.Int64Counter

	// ActiveStreams tracks connections currently in the Generating state.
	ActiveStreams metric.Int64UpDownCounter
}

// NewMetrics registers all instruments against the given provider. Tests
// should pass a private provider to avoid cross-test pollution.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	synthDuration, err := meter.Float64Histogram("vox.synth.duration",
		metric.WithDescription("Wall-clock speech generation time"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	firstChunk, err := meter.Float64Histogram("vox.synth.first_chunk_latency",
		metric.WithDescription("Time from request acceptance to first emitted frame"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	rtf, err := meter.Float64Histogram("vox.synth.rtf",
		metric.WithDescription("Real-time factor (audio duration / generation time)"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter("vox.requests",
		metric.WithDescription("Generation requests by transport and status"))
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("vox.streams.active",
		metric.WithDescription("Connections currently generating"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SynthDuration:     synthDuration,
		FirstChunkLatency: firstChunk,
		RTF:               rtf,
		Requests:          requests,
		ActiveStreams:     active,
	}, nil
}
