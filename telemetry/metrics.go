package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics bundles the counters/histograms the bridge exports. When no
// OTEL_EXPORTER_OTLP_ENDPOINT is configured, NewMeterProvider returns the
// no-op meter provider, and NewMetrics uses it as well when given a nil
// provider, so the instrumentation calls below are always safe to make.
type Metrics struct {
	FramesForwarded metric.Int64Counter
	Backpressure    metric.Int64Counter
	SessionsActive  metric.Int64UpDownCounter
	SessionsEvicted metric.Int64Counter
	BreakerOpened   metric.Int64Counter
	ChildRestarts   metric.Int64Counter
}

// NewMetrics builds the instrument set from the given meter provider. Pass
// noop.NewMeterProvider() (the default) when telemetry export is disabled.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("github.com/viant/mcpway")

	framesForwarded, err := meter.Int64Counter("mcpway.bridge.frames_forwarded")
	if err != nil {
		return nil, err
	}
	backpressure, err := meter.Int64Counter("mcpway.bridge.backpressure_events")
	if err != nil {
		return nil, err
	}
	sessionsActive, err := meter.Int64UpDownCounter("mcpway.session.active")
	if err != nil {
		return nil, err
	}
	sessionsEvicted, err := meter.Int64Counter("mcpway.session.evicted")
	if err != nil {
		return nil, err
	}
	breakerOpened, err := meter.Int64Counter("mcpway.reliability.breaker_opened")
	if err != nil {
		return nil, err
	}
	childRestarts, err := meter.Int64Counter("mcpway.supervisor.child_restarts")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		FramesForwarded: framesForwarded,
		Backpressure:    backpressure,
		SessionsActive:  sessionsActive,
		SessionsEvicted: sessionsEvicted,
		BreakerOpened:   breakerOpened,
		ChildRestarts:   childRestarts,
	}, nil
}

// NoopMetrics returns an instrument set wired to the no-op provider, safe to
// use whenever a caller doesn't care about telemetry wiring (e.g. tests).
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// RecordFrame increments the frames-forwarded counter for a pump direction
// ("downstream" or "upstream").
func (m *Metrics) RecordFrame(ctx context.Context, direction string) {
	if m == nil {
		return
	}
	m.FramesForwarded.Add(ctx, 1, metric.WithAttributes(directionAttr(direction)))
}

// RecordBackpressure increments the backpressure-event counter for a channel
// label.
func (m *Metrics) RecordBackpressure(ctx context.Context, label string) {
	if m == nil {
		return
	}
	m.Backpressure.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", label)))
}

// SessionOpened/SessionClosed/SessionEvicted update session gauges.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, 1)
}

func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, -1)
}

func (m *Metrics) SessionEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsEvicted.Add(ctx, 1)
	m.SessionClosed(ctx)
}

func (m *Metrics) BreakerOpen(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.BreakerOpened.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *Metrics) ChildRestarted(ctx context.Context, label string) {
	if m == nil {
		return
	}
	m.ChildRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("child", label)))
}
