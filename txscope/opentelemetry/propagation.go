package opentelemetry

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectQueueHeaders returns a copy of headers with the trace context of
// ctx added by the global propagator. The result fits amqp.Table.
func InjectQueueHeaders(ctx context.Context, headers map[string]any) map[string]any {
	out := make(map[string]any, len(headers)+2)
	maps.Copy(out, headers)

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		out[k] = v
	}

	return out
}

// ExtractQueueHeaders returns ctx carrying the trace context found in
// message headers. Non-string values are ignored.
func ExtractQueueHeaders(ctx context.Context, headers map[string]any) context.Context {
	carrier := propagation.MapCarrier{}

	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	if len(carrier) == 0 {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
