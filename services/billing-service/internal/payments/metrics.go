package payments

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	paymentsSucceeded metric.Int64Counter
	paymentsDeclined  metric.Int64Counter
	refunds           metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/pdsa-vet/vetclinic/services/billing-service")
	m := &metrics{}
	m.paymentsSucceeded, _ = meter.Int64Counter("billing.payments.succeeded",
		metric.WithDescription("Appointment payments that reached succeeded"))
	m.paymentsDeclined, _ = meter.Int64Counter("billing.payments.declined",
		metric.WithDescription("Card payments declined by the gateway"))
	m.refunds, _ = meter.Int64Counter("billing.refunds",
		metric.WithDescription("Refunds issued"))
	return m
}

func (m *metrics) succeeded(ctx context.Context) { add(ctx, m.paymentsSucceeded) }
func (m *metrics) declined(ctx context.Context)  { add(ctx, m.paymentsDeclined) }
func (m *metrics) refunded(ctx context.Context)  { add(ctx, m.refunds) }

func add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
