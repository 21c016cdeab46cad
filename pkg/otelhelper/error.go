package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and attaches the failure as an event
// tagged with the gateway's dialora.* attributes.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	eventAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	eventAttrs = append(eventAttrs, attribute.String("dialora.error", err.Error()))
	eventAttrs = append(eventAttrs, attrs...)

	span.AddEvent("processing_error", trace.WithAttributes(eventAttrs...))
}
