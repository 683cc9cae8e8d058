package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider hands out the tracer the poller uses to open one span per tick.
type TracerProvider interface {
	// GetTracer returns a named tracer.
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans. It is a no-op for providers that do
	// not export anything.
	Shutdown(ctx context.Context) error
}
