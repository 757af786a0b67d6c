package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectTraceHeadersAppends(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent header missing: %+v", headers)
	}
	if HeaderValue(headers, "event_id") != "e1" {
		t.Fatalf("existing headers must be kept")
	}

	got := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if got.TraceID() != traceID {
		t.Fatalf("trace id not extracted: %v", got.TraceID())
	}
}

func TestInjectTraceHeadersReplacesStale(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))

	stale := []kafka.Header{{Key: "traceparent", Value: []byte("00-00000000000000000000000000000001-0000000000000001-01")}}
	headers := InjectTraceHeaders(ctx, stale)
	if len(headers) != 1 {
		t.Fatalf("expected traceparent replaced in place, got %+v", headers)
	}
	if got := HeaderValue(headers, "traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("unexpected traceparent %q", got)
	}
}

func TestExtractEventMeta(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{
		Topic: "billing.payment.succeeded.v1",
		Key:   []byte("pay-1"),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte("evt-9")},
			{Key: HeaderEventType, Value: []byte("billing.payment.succeeded.v1")},
			{Key: HeaderAggregateType, Value: []byte("payment")},
		},
	})
	want := EventMeta{EventID: "evt-9", EventType: "billing.payment.succeeded.v1", AggregateType: "payment", AggregateID: "pay-1"}
	if meta != want {
		t.Fatalf("unexpected meta %+v", meta)
	}
	attrs := meta.LogAttrs()
	if len(attrs) != 6 || attrs[5] != "pay-1" {
		t.Fatalf("unexpected log attrs %v", attrs)
	}
}

func TestExtractEventMetaFallsBack(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "booking.appointment.created.v1", Key: []byte("k")})
	if meta.EventID != "k" || meta.EventType != "booking.appointment.created.v1" || meta.AggregateID != "k" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if len(ExtractEventMeta(kafka.Message{Topic: "t"}).LogAttrs()) != 4 {
		t.Fatal("aggregate id should be omitted when empty")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case <-r.done:
	default:
		close(r.done)
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type memInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (i *memInbox) Record(_ context.Context, consumer string, meta EventMeta) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	k := consumer + "/" + meta.EventID
	if i.seen[k] {
		return false, nil
	}
	i.seen[k] = true
	return true, nil
}

func (i *memInbox) Forget(_ context.Context, consumer string, eventID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.seen, consumer+"/"+eventID)
	return nil
}

func msg(offset int64, id string) kafka.Message {
	return kafka.Message{
		Topic:   "booking.appointment.created.v1",
		Offset:  offset,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(id)}},
	}
}

func TestConsumerDedupesAndRetriesInPlace(t *testing.T) {
	reader := &fakeReader{
		msgs: []kafka.Message{msg(1, "a"), msg(2, "a"), msg(3, "b"), msg(4, "b")},
		done: make(chan struct{}),
	}
	inbox := &memInbox{seen: map[string]bool{}}

	var mu sync.Mutex
	calls := map[string]int{}
	handler := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		id := HeaderValue(m.Headers, "event_id")
		calls[id]++
		if id == "b" && calls[id] == 1 {
			return errors.New("transient")
		}
		return nil
	}

	c := NewConsumer("test", reader, inbox, slog.New(slog.NewTextHandler(io.Discard, nil)), handler)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()
	<-reader.done
	cancel()
	<-finished

	if calls["a"] != 1 {
		t.Fatalf("duplicate event a handled %d times", calls["a"])
	}
	if calls["b"] != 2 {
		t.Fatalf("failed event b should be retried once, handled %d times", calls["b"])
	}
	if len(reader.committed) != 4 {
		t.Fatalf("expected every offset committed, got %v", reader.committed)
	}
}
