package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for facehive spans.
var (
	AttrTaskID        = attribute.Key("facehive.task.id")
	AttrTaskType      = attribute.Key("facehive.task.type")
	AttrTenantID      = attribute.Key("facehive.tenant.id")
	AttrUserID        = attribute.Key("facehive.user.id")
	AttrFaceID        = attribute.Key("facehive.face.id")
	AttrWorkerID      = attribute.Key("facehive.worker.id")
	AttrCorrelationID = attribute.Key("facehive.correlation.id")
	AttrExchange      = attribute.Key("facehive.bus.exchange")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (control-plane HTTP).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (bus publish, blob store).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
