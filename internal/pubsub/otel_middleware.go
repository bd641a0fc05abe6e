package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// propagator carries span context inside message metadata so a handler span
// becomes a child of the publish span, even across processes.
var propagator = propagation.TraceContext{}

func spanAttributes(system, operation, topic, id string, payload []byte, md map[string]string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", system),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", topic),
		attribute.String("messaging.message_id", id),
		attribute.String("messaging.event_type", md[MetadataEventType]),
		attribute.String("messaging.sender", md[MetadataSender]),
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	}
	if cid := md[MetadataCorrelationID]; cid != "" {
		attrs = append(attrs, attribute.String("messaging.correlation_id", cid))
	}
	return attrs
}

func recordResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// startPublishSpan opens a publish span and injects its context into md.
func startPublishSpan(ctx context.Context, tracer trace.Tracer, system, topic, id string, payload []byte, md map[string]string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	spanCtx, span := tracer.Start(ctx, fmt.Sprintf("pubsub.publish.%s", topic),
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(spanAttributes(system, "publish", topic, id, payload, md)...),
	)
	propagator.Inject(spanCtx, propagation.MapCarrier(md))
	return spanCtx, span
}

// startProcessSpan opens a process span whose parent is extracted from md.
func startProcessSpan(ctx context.Context, tracer trace.Tracer, system, topic, id string, payload []byte, md map[string]string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = propagator.Extract(ctx, propagation.MapCarrier(md))
	return tracer.Start(ctx, fmt.Sprintf("pubsub.process.%s", topic),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(spanAttributes(system, "process", topic, id, payload, md)...),
	)
}

// TracingMiddleware creates a watermill middleware that adds OpenTelemetry tracing
// to message processing.
func TracingMiddleware(tracer trace.Tracer) func(message.HandlerFunc) message.HandlerFunc {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			topic := msg.Metadata.Get(metaKeyTopic)
			spanCtx, span := startProcessSpan(msg.Context(), tracer, "watermill", topic, msg.UUID, msg.Payload, msg.Metadata)
			defer span.End()

			msg.SetContext(spanCtx)

			produced, err := h(msg)
			recordResult(span, err)
			return produced, err
		}
	}
}

// PublisherTracingMiddleware wraps a publisher with tracing capabilities.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a new publisher with tracing middleware.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with tracing.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		spanCtx, span := startPublishSpan(msg.Context(), p.tracer, "watermill", topic, msg.UUID, msg.Payload, msg.Metadata)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}

	err := p.publisher.Publish(topic, messages...)
	for _, span := range spans {
		recordResult(span, err)
		span.End()
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
