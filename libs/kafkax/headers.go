package kafkax

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Headers written by the outbox relay on every clinic event.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
)

// EventMeta identifies one event. The message key is the aggregate id
// (appointment or payment), so it stands in for a missing event id.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
	AggregateID   string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
		AggregateID:   string(msg.Key),
	}
	if meta.EventID == "" {
		meta.EventID = meta.AggregateID
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// LogAttrs returns the meta as slog key/value pairs.
func (m EventMeta) LogAttrs() []any {
	attrs := []any{"event_id", m.EventID, "event_type", m.EventType}
	if m.AggregateID != "" {
		attrs = append(attrs, "aggregate_id", m.AggregateID)
	}
	return attrs
}

func (m EventMeta) spanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.message.id", m.EventID),
		attribute.String("clinic.event_type", m.EventType),
		attribute.String("clinic.aggregate_type", m.AggregateType),
		attribute.String("clinic.aggregate_id", m.AggregateID),
	}
}

func HeaderValue(headers []kafka.Header, key string) string {
	return headerCarrier(headers).Get(key)
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// InjectTraceHeaders adds W3C trace headers for the span in ctx, replacing
// any already present.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := headerCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	carrier := headerCarrier(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// startConsumeSpan opens the consumer span for msg as a child of the
// producer's trace.
func startConsumeSpan(ctx context.Context, consumer string, msg kafka.Message, meta EventMeta) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.consumer", consumer),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	}, meta.spanAttributes()...)
	return otel.Tracer("kafka").Start(ExtractTraceContext(ctx, msg), "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}

type headerCarrier []kafka.Header

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key string, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
