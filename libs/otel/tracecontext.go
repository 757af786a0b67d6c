package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is a span context in W3C header form. Rows written now and
// processed later (outbox events, reminder jobs) carry one so the later work
// joins the original trace.
type TraceContext struct {
	Traceparent string
	Tracestate  string
}

func CaptureTraceContext(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func (t TraceContext) IsZero() bool {
	return t.Traceparent == ""
}

// Attach returns ctx with t as its remote parent. A zero t leaves ctx as is.
func (t TraceContext) Attach(ctx context.Context) context.Context {
	if t.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": t.Traceparent}
	if t.Tracestate != "" {
		carrier["tracestate"] = t.Tracestate
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
