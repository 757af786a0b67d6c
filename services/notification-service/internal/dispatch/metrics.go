package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	sent   metric.Int64Counter
	failed metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/pdsa-vet/vetclinic/services/notification-service")
	m := &metrics{}
	m.sent, _ = meter.Int64Counter("notifications.sent",
		metric.WithDescription("Notifications accepted by the provider"))
	m.failed, _ = meter.Int64Counter("notifications.failed",
		metric.WithDescription("Notifications the provider rejected or that could not be built"))
	return m
}

func (m *metrics) attempt(ctx context.Context, channel, status string) {
	c := m.sent
	if status != "sent" {
		c = m.failed
	}
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
	}
}
