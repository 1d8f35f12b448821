package opentelemetry

import (
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultTracerName names the tracer used when no tracer is injected.
const DefaultTracerName = "txscope.noop"

// TracerOrNoop returns tracer, or a no-op tracer when tracer is nil.
func TracerOrNoop(tracer trace.Tracer) trace.Tracer {
	if nilcheck.Interface(tracer) {
		return noop.NewTracerProvider().Tracer(DefaultTracerName)
	}

	return tracer
}

// HandleSpanError sets the span status to error and records err.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && err != nil {
		(*span).SetStatus(codes.Error, message+": "+err.Error())
		(*span).RecordError(err)
	}
}

// HandleSpanEvent adds a named event to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}
