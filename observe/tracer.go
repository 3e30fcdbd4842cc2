package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Command kinds.
const (
	KindRead  = "read"
	KindWrite = "write"
)

// CommandMeta describes a registered command for telemetry purposes.
type CommandMeta struct {
	Key   string // Cache partition identifier (defaults to group.name)
	Group string // Command group, usually the owning service (may be empty)
	Name  string // Command name (required)
	Kind  string // read|write
}

// SpanName returns the deterministic span name for this command.
// Format: command.exec.<group>.<name> or command.exec.<name>
func (m CommandMeta) SpanName() string {
	if m.Group != "" {
		return "command.exec." + m.Group + "." + m.Name
	}
	return "command.exec." + m.Name
}

// CommandID returns the identifier of the command's cache partition.
// If Key is set, returns it. Otherwise constructs it from group and name.
func (m CommandMeta) CommandID() string {
	if m.Key != "" {
		return m.Key
	}
	if m.Group != "" {
		return m.Group + "." + m.Name
	}
	return m.Name
}

// Validate reports whether the metadata names a command.
func (m CommandMeta) Validate() error {
	if m.Name == "" {
		return ErrMissingCommandName
	}
	return nil
}

func (m CommandMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("command.id", m.CommandID()),
		attribute.String("command.name", m.Name),
	}
	if m.Group != "" {
		attrs = append(attrs, attribute.String("command.group", m.Group))
	}
	if m.Kind != "" {
		attrs = append(attrs, attribute.String("command.kind", m.Kind))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with command-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan returns a context carrying the new span.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for command execution.
	StartSpan(ctx context.Context, meta CommandMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with command metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CommandMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("command.error", false))

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("command.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CommandMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
