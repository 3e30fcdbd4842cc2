package observe

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareFixture struct {
	spans   *tracetest.SpanRecorder
	reader  *sdkmetric.ManualReader
	logs    *bytes.Buffer
	wrapped *Middleware
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	var logs bytes.Buffer
	return &middlewareFixture{
		spans:   spans,
		reader:  reader,
		logs:    &logs,
		wrapped: NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", &logs)),
	}
}

func (f *middlewareFixture) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

// TestMiddleware_SuccessPath verifies successful execution records telemetry.
func TestMiddleware_SuccessPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	meta := CommandMeta{Group: "users", Name: "getUserById", Kind: KindRead}

	wrapped := f.wrapped.Wrap(func(context.Context, CommandMeta, any) (any, error) {
		return "success_result", nil
	})
	result, err := wrapped(context.Background(), meta, "1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result != "success_result" {
		t.Errorf("result = %v, want success_result", result)
	}

	spans := f.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "command.exec.users.getUserById" {
		t.Fatalf("unexpected spans: %v", spans)
	}
	if got := counterValue(t, f.collect(t), "command.exec.total"); got != 1 {
		t.Errorf("command.exec.total = %d, want 1", got)
	}

	entry := decodeOne(t, f.logs.String())
	if entry["msg"] != "command execution completed" || entry["level"] != "debug" {
		t.Errorf("log entry = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms field")
	}
}

// TestMiddleware_ErrorPath verifies failed execution records error telemetry.
func TestMiddleware_ErrorPath(t *testing.T) {
	f := newMiddlewareFixture(t)
	testErr := errors.New("execution failed")

	wrapped := f.wrapped.Wrap(func(context.Context, CommandMeta, any) (any, error) {
		return nil, testErr
	})
	_, err := wrapped(context.Background(), CommandMeta{Name: "failing"}, nil)
	if !errors.Is(err, testErr) {
		t.Fatalf("error = %v, want %v", err, testErr)
	}

	if got := counterValue(t, f.collect(t), "command.exec.errors"); got != 1 {
		t.Errorf("command.exec.errors = %d, want 1", got)
	}
	entry := decodeOne(t, f.logs.String())
	if entry["level"] != "error" || entry["error"] != "execution failed" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["command.name"] != "failing" {
		t.Errorf("command.name = %v, want failing", entry["command.name"])
	}
}

// TestMiddleware_DoesNotMutateArgs verifies args pass through untouched.
func TestMiddleware_DoesNotMutateArgs(t *testing.T) {
	f := newMiddlewareFixture(t)
	args := map[string]any{"id": "1", "nested": map[string]any{"k": "v"}}
	snapshot := map[string]any{"id": "1", "nested": map[string]any{"k": "v"}}

	var seen any
	wrapped := f.wrapped.Wrap(func(_ context.Context, _ CommandMeta, in any) (any, error) {
		seen = in
		return nil, nil
	})
	_, _ = wrapped(context.Background(), CommandMeta{Name: "get"}, args)

	if !reflect.DeepEqual(args, snapshot) {
		t.Errorf("args mutated: %v", args)
	}
	if !reflect.DeepEqual(seen, args) {
		t.Errorf("wrapped function saw %v, want %v", seen, args)
	}
}

// TestMiddleware_PropagatesContext verifies the span context reaches the command.
func TestMiddleware_PropagatesContext(t *testing.T) {
	f := newMiddlewareFixture(t)
	type key struct{}

	var gotValue any
	var hasSpan bool
	wrapped := f.wrapped.Wrap(func(ctx context.Context, _ CommandMeta, _ any) (any, error) {
		gotValue = ctx.Value(key{})
		hasSpan = spanFromContextValid(ctx)
		return nil, nil
	})
	_, _ = wrapped(context.WithValue(context.Background(), key{}, "v"), CommandMeta{Name: "get"}, nil)

	if gotValue != "v" {
		t.Errorf("context value = %v, want v", gotValue)
	}
	if !hasSpan {
		t.Error("expected a recording span in the command context")
	}
}

// TestMiddleware_MeasuresDuration verifies the histogram observes the command's duration.
func TestMiddleware_MeasuresDuration(t *testing.T) {
	f := newMiddlewareFixture(t)

	wrapped := f.wrapped.Wrap(func(context.Context, CommandMeta, any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	_, _ = wrapped(context.Background(), CommandMeta{Name: "slow"}, nil)

	found := findMetric(f.collect(t), "command.exec.duration_ms")
	if found == nil {
		t.Fatal("command.exec.duration_ms metric not found")
	}
	hist := found.Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Sum < 20 {
		t.Errorf("duration sum = %v, want >= 20", hist.DataPoints[0].Sum)
	}
}

// TestMiddleware_NilComponents verifies nil components fall back to no-ops.
func TestMiddleware_NilComponents(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	wrapped := mw.Wrap(func(context.Context, CommandMeta, any) (any, error) {
		return 42, nil
	})
	result, err := wrapped(context.Background(), CommandMeta{Name: "noop"}, nil)
	if err != nil || result != 42 {
		t.Errorf("wrapped() = %v, %v; want 42, nil", result, err)
	}
	if mw.Metrics() == nil || mw.Logger() == nil {
		t.Error("accessors should never return nil")
	}
}
