package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
)

// TxInserter stores an event inside the caller's transaction.
type TxInserter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

// OutboxNotifier turns a booked appointment into an appointment.created event
// written in the booking transaction. The relay publishes it and
// notification-service delivers it to the owner.
type OutboxNotifier struct {
	outbox TxInserter
}

func NewOutboxNotifier(outbox TxInserter) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

func (n *OutboxNotifier) AppointmentCreated(ctx context.Context, tx pgx.Tx, a model.AppointmentDetails) error {
	evt, err := outbox.NewEvent("appointment", a.ID, events.AppointmentCreated, CreatedPayload(a))
	if err != nil {
		return err
	}
	if err := n.outbox.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("enqueue %s: %w", events.AppointmentCreated, err)
	}
	return nil
}

func CreatedPayload(a model.AppointmentDetails) events.AppointmentCreatedPayload {
	return events.AppointmentCreatedPayload{
		AppointmentID: a.ID,
		UserID:        a.UserID,
		OwnerName:     a.OwnerName,
		OwnerEmail:    a.OwnerEmail,
		OwnerPhone:    a.OwnerPhone,
		PetName:       a.PetName,
		ServiceName:   a.ServiceName,
		ServicePrice:  a.ServicePrice,
		Date:          a.Date,
		Time:          a.Time,
		Notes:         a.Notes,
	}
}
