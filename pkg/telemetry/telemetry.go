// Package telemetry wires the fabric's counters and histograms through
// OpenTelemetry metrics, exported for Prometheus scraping. Every
// component shares one Telemetry instance for its process lifetime.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry bundles the instruments every component reports against
// (§4.1, §4.2, §4.6, §7: ring drops, queue drops, fast-start latency,
// half-duplex gate duration, RTP frame counts).
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	RingDrops          metric.Int64Counter
	QueueDrops         metric.Int64Counter
	RTPFramesSent      metric.Int64Counter
	FastStartLatency   metric.Float64Histogram
	HalfDuplexDuration metric.Float64Histogram
	ActiveCalls        metric.Int64UpDownCounter
}

// New builds a Telemetry bundle backed by a Prometheus exporter, scoped
// under the given component name (e.g. "se", "iap", "transcriber").
func New(component string) (*Telemetry, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(fmt.Sprintf("callfabric/%s", component))

	t := &Telemetry{provider: provider, meter: meter}

	if t.RingDrops, err = meter.Int64Counter("ring_drops_total",
		metric.WithDescription("frames dropped because a ring was full")); err != nil {
		return nil, err
	}
	if t.QueueDrops, err = meter.Int64Counter("queue_drops_total",
		metric.WithDescription("chunks dropped because an internal queue was over capacity")); err != nil {
		return nil, err
	}
	if t.RTPFramesSent, err = meter.Int64Counter("rtp_frames_sent_total",
		metric.WithDescription("RTP frames sent on the 20ms scheduler grid")); err != nil {
		return nil, err
	}
	if t.FastStartLatency, err = meter.Float64Histogram("fast_start_latency_ms",
		metric.WithDescription("time from first TTS subchunk arrival to first audible RTP frame"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.HalfDuplexDuration, err = meter.Float64Histogram("half_duplex_gate_ms",
		metric.WithDescription("duration of the half-duplex suppression window per reply"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if t.ActiveCalls, err = meter.Int64UpDownCounter("active_calls",
		metric.WithDescription("calls currently active in this component")); err != nil {
		return nil, err
	}

	return t, nil
}

// Shutdown flushes and stops the underlying meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Serve exposes the otel Prometheus exporter's registry on /metrics at
// addr (e.g. ":9464") until the listener errors or is closed. Exporter
// registration uses the otel SDK's own Prometheus bridge, so the default
// registry promhttp.Handler reads from is populated by the meter
// provider passed to New.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
