// Package exporters builds the OpenTelemetry span exporters and metric
// readers selectable from an observe configuration file.
package exporters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrEndpointNotConfigured indicates a required endpoint environment variable is not set.
	ErrEndpointNotConfigured = errors.New("exporters: endpoint not configured")

	// ErrUnknownExporter indicates an exporter name with no factory.
	ErrUnknownExporter = errors.New("exporters: unknown exporter")
)

type (
	traceFactory  func(ctx context.Context) (sdktrace.SpanExporter, error)
	metricFactory func(ctx context.Context) (sdkmetric.Reader, error)
)

// The empty name and "none" select exporters that discard everything, so a
// provider can still be built when telemetry output is switched off.
var traceFactories = map[string]traceFactory{
	"":     discardSpans,
	"none": discardSpans,
	"stdout": func(context.Context) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	},
	"otlp": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
	// Jaeger ingests OTLP natively.
	"jaeger": func(ctx context.Context) (sdktrace.SpanExporter, error) {
		if err := requireEnv("OTEL_EXPORTER_JAEGER_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)
	},
}

var metricFactories = map[string]metricFactory{
	"":     discardMetrics,
	"none": discardMetrics,
	"stdout": func(context.Context) (sdkmetric.Reader, error) {
		return periodic(stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout)))
	},
	"otlp": func(ctx context.Context) (sdkmetric.Reader, error) {
		if err := requireEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		return periodic(otlpmetricgrpc.New(ctx))
	},
	"prometheus": func(context.Context) (sdkmetric.Reader, error) {
		return prometheus.New()
	},
}

// NewTracingExporter creates the span exporter registered under name.
// Supported exporters: stdout, otlp, jaeger, none
func NewTracingExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	factory, ok := traceFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: tracing %q", ErrUnknownExporter, name)
	}
	exp, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporters: tracing %q: %w", name, err)
	}
	return exp, nil
}

// NewMetricsReader creates the metrics reader registered under name.
// Supported exporters: stdout, otlp, prometheus, none
func NewMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	factory, ok := metricFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: metrics %q", ErrUnknownExporter, name)
	}
	reader, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("exporters: metrics %q: %w", name, err)
	}
	return reader, nil
}

// TracingExporters returns the accepted tracing exporter names, sorted.
func TracingExporters() []string { return names(traceFactories) }

// MetricsExporters returns the accepted metrics exporter names, sorted.
func MetricsExporters() []string { return names(metricFactories) }

func names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// requireEnv succeeds when any of the keys is set to a non-empty value.
func requireEnv(keys ...string) error {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: set %s", ErrEndpointNotConfigured, strings.Join(keys, " or "))
}

func periodic(exp sdkmetric.Exporter, err error) (sdkmetric.Reader, error) {
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp), nil
}

func discardSpans(context.Context) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(stdouttrace.WithWriter(io.Discard))
}

func discardMetrics(context.Context) (sdkmetric.Reader, error) {
	return periodic(stdoutmetric.New(stdoutmetric.WithWriter(io.Discard)))
}
