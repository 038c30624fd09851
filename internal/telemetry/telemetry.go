// Package telemetry wraps the OpenTelemetry tracer used around task,
// iteration, tool and sub-agent execution. The wrapper exists so
// callers can carry one handle with a debug flag instead of reaching
// for the otel globals everywhere.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer hands out spans for one runtime.
type Tracer struct {
	tracer trace.Tracer
	debug  bool
}

// New builds a tracer against the process-wide otel provider. With
// debug set, span consumers may attach verbose payload attributes.
func New(serviceName string, debug bool) *Tracer {
	return &Tracer{tracer: otel.Tracer(serviceName), debug: debug}
}

// Noop returns a tracer whose spans go nowhere. Used in tests and when
// telemetry is disabled.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// StartSpan opens a span under the current context.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Debug reports whether verbose span attributes should be recorded.
func (t *Tracer) Debug() bool {
	return t.debug
}
