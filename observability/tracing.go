package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hookline/hookline"

// Tracer provides OpenTelemetry tracing for Hookline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Hookline tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, eventID, registrationID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.delivery",
		trace.WithAttributes(
			attribute.String("hookline.event_id", eventID),
			attribute.String("hookline.registration_id", registrationID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("hookline.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("hookline.error", err))
	}
	span.End()
}

// StartIngestSpan starts a new span for an inbound webhook request.
func (t *Tracer) StartIngestSpan(ctx context.Context, provider, sourceIP string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookline.ingest",
		trace.WithAttributes(
			attribute.String("hookline.provider", provider),
			attribute.String("hookline.source_ip", sourceIP),
		),
	)
}

// EndIngestSpan ends an ingest span with its outcome.
func (t *Tracer) EndIngestSpan(span trace.Span, accepted bool, reason string) {
	span.SetAttributes(attribute.Bool("hookline.accepted", accepted))
	if reason != "" {
		span.SetAttributes(attribute.String("hookline.reject_reason", reason))
	}
	span.End()
}
