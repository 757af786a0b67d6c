package booking

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	appointmentsCreated metric.Int64Counter
	slotConflicts       metric.Int64Counter
	notificationsFailed metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/pdsa-vet/vetclinic/services/booking-service")
	m := &metrics{}
	// The global meter delegates to the provider installed by otelx.Setup.
	m.appointmentsCreated, _ = meter.Int64Counter("booking.appointments.created",
		metric.WithDescription("Appointments booked"))
	m.slotConflicts, _ = meter.Int64Counter("booking.slot.conflicts",
		metric.WithDescription("Bookings or reactivations rejected because the slot was taken"))
	m.notificationsFailed, _ = meter.Int64Counter("booking.notifications.failed",
		metric.WithDescription("Booking confirmation events that could not be queued"))
	return m
}

func (m *metrics) created(ctx context.Context)            { add(ctx, m.appointmentsCreated) }
func (m *metrics) slotConflict(ctx context.Context)       { add(ctx, m.slotConflicts) }
func (m *metrics) notificationFailed(ctx context.Context) { add(ctx, m.notificationsFailed) }

func add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
