package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
)

type bookingTx struct{ pgx.Tx }

type captureOutbox struct {
	events []outbox.Event
	txs    []pgx.Tx
	err    error
}

func (c *captureOutbox) Insert(_ context.Context, tx pgx.Tx, evt outbox.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, evt)
	c.txs = append(c.txs, tx)
	return nil
}

func details() model.AppointmentDetails {
	return model.AppointmentDetails{
		Appointment: model.Appointment{ID: "a1", UserID: "u1", Date: "2030-01-10", Time: "11:00"},
		OwnerName:   "Ada",
		OwnerEmail:  "ada@example.com",
		PetName:     "Rex",
		ServiceName: "Vaccination",
	}
}

func TestAppointmentCreatedInsertsEventInBookingTx(t *testing.T) {
	box := &captureOutbox{}
	tx := &bookingTx{}
	if err := NewOutboxNotifier(box).AppointmentCreated(context.Background(), tx, details()); err != nil {
		t.Fatalf("AppointmentCreated: %v", err)
	}
	if len(box.events) != 1 {
		t.Fatalf("expected one event, got %d", len(box.events))
	}
	if box.txs[0] != pgx.Tx(tx) {
		t.Fatal("event must be written through the booking transaction")
	}
	evt := box.events[0]
	if evt.EventType != events.AppointmentCreated || evt.AggregateID != "a1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var p events.AppointmentCreatedPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.PetName != "Rex" || p.Time != "11:00" || p.OwnerEmail != "ada@example.com" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestAppointmentCreatedPropagatesInsertError(t *testing.T) {
	boom := errors.New("db down")
	box := &captureOutbox{err: boom}
	err := NewOutboxNotifier(box).AppointmentCreated(context.Background(), &bookingTx{}, details())
	if !errors.Is(err, boom) {
		t.Fatalf("expected insert error, got %v", err)
	}
}
