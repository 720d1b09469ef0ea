package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds the meter provider the Metrics instruments hang
// off. With a non-empty OTLP endpoint (OTEL_EXPORTER_OTLP_ENDPOINT) it
// returns an SDK provider pushing through the OTLP/HTTP exporter plus a
// shutdown func that flushes on the way out; with an empty endpoint it
// returns the no-op provider and a nil shutdown, so callers can wire
// instruments unconditionally.
func NewMeterProvider(ctx context.Context, endpoint string) (metric.MeterProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return noop.NewMeterProvider(), nil, nil
	}
	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: otlp metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	return provider, provider.Shutdown, nil
}
