package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := CaptureTraceContext(ctx)
	if tc.Traceparent != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("unexpected traceparent %q", tc.Traceparent)
	}

	restored := trace.SpanContextFromContext(tc.Attach(context.Background()))
	if restored.TraceID() != traceID || restored.SpanID() != spanID || !restored.IsRemote() {
		t.Fatalf("span context not restored: %v", restored)
	}
}

func TestZeroTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tc := CaptureTraceContext(context.Background())
	if !tc.IsZero() {
		t.Fatalf("expected no trace outside a span, got %+v", tc)
	}
	ctx := context.Background()
	if got := tc.Attach(ctx); got != ctx {
		t.Fatal("expected the same context back")
	}
}
