package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RecordError records err on span as an error event with the given
// attributes and marks the span as failed. Nil errors and non-recording spans
// are ignored.
func RecordError(span oteltrace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err, oteltrace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
