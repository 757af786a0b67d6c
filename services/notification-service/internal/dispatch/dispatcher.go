// Package dispatch turns domain events into owner notifications. Every
// attempt is recorded, whether the provider accepted it or not.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/kafkax"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/email"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/sms"
	"github.com/pdsa-vet/vetclinic/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type Recorder interface {
	Record(ctx context.Context, n storage.Notification) error
}

type Config struct {
	ClinicName  string
	ArrivalNote string
	Location    *time.Location
}

type Dispatcher struct {
	mail     email.Sender
	renderer *email.Renderer
	text     sms.Sender
	store    Recorder
	logger   *slog.Logger
	cfg      Config
	metrics  *metrics
}

// New builds a dispatcher. text may be nil to disable SMS.
func New(mail email.Sender, renderer *email.Renderer, text sms.Sender, store Recorder, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.ClinicName == "" {
		cfg.ClinicName = "PDSA Veterinary Clinic"
	}
	if cfg.ArrivalNote == "" {
		cfg.ArrivalNote = "Please arrive 10 minutes before your scheduled time."
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		mail:     mail,
		renderer: renderer,
		text:     text,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		metrics:  newMetrics(),
	}
}

// Handle is a kafkax.Handler. Malformed payloads are logged and dropped;
// only a failure to record an attempt is returned for retry.
func (d *Dispatcher) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	switch meta.EventType {
	case events.AppointmentCreated:
		var p events.AppointmentCreatedPayload
		if !d.decode(msg, meta, &p) {
			return nil
		}
		return d.appointmentCreated(ctx, meta.EventID, p)
	case events.PaymentSucceeded:
		var p events.PaymentSucceededPayload
		if !d.decode(msg, meta, &p) {
			return nil
		}
		return d.paymentSucceeded(ctx, meta.EventID, p)
	case events.PaymentRefunded:
		var p events.PaymentRefundedPayload
		if !d.decode(msg, meta, &p) {
			return nil
		}
		return d.paymentRefunded(ctx, meta.EventID, p)
	case events.ReminderDue:
		var p events.ReminderDuePayload
		if !d.decode(msg, meta, &p) {
			return nil
		}
		return d.reminderDue(ctx, meta.EventID, p)
	default:
		d.logger.Warn("unhandled event type", meta.LogAttrs()...)
		return nil
	}
}

func (d *Dispatcher) decode(msg kafka.Message, meta kafkax.EventMeta, v any) bool {
	if err := json.Unmarshal(msg.Value, v); err != nil {
		d.logger.Error("invalid event payload", append(meta.LogAttrs(), "err", err)...)
		return false
	}
	return true
}

func (d *Dispatcher) appointmentCreated(ctx context.Context, eventID string, p events.AppointmentCreatedPayload) error {
	var errs []error
	if p.OwnerEmail != "" {
		errs = append(errs, d.sendEmail(ctx, storage.Notification{
			EventID:       eventID,
			AppointmentID: p.AppointmentID,
			Recipient:     p.OwnerEmail,
			Template:      email.TemplateAppointmentConfirmation,
		}, fmt.Sprintf("%s Appointment Confirmation #%s", d.cfg.ClinicName, p.AppointmentID), email.AppointmentData{
			ClinicName:  d.cfg.ClinicName,
			OwnerName:   p.OwnerName,
			PetName:     p.PetName,
			ServiceName: p.ServiceName,
			Price:       p.ServicePrice,
			Date:        p.Date,
			Time:        p.Time,
			Notes:       p.Notes,
			ArrivalNote: d.cfg.ArrivalNote,
		}))
	} else {
		d.logger.Warn("appointment without owner email", "appointment_id", p.AppointmentID)
	}

	if d.text != nil && strings.TrimSpace(p.OwnerPhone) != "" {
		body := fmt.Sprintf("%s: %s is booked for %s on %s at %s. %s",
			d.cfg.ClinicName, p.PetName, p.ServiceName, p.Date, p.Time, d.cfg.ArrivalNote)
		errs = append(errs, d.sendSMS(ctx, storage.Notification{
			EventID:       eventID,
			AppointmentID: p.AppointmentID,
			Recipient:     strings.TrimSpace(p.OwnerPhone),
			Template:      email.TemplateAppointmentConfirmation,
		}, body))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) reminderDue(ctx context.Context, eventID string, p events.ReminderDuePayload) error {
	var errs []error
	if p.OwnerEmail != "" {
		errs = append(errs, d.sendEmail(ctx, storage.Notification{
			EventID:       eventID,
			AppointmentID: p.AppointmentID,
			Recipient:     p.OwnerEmail,
			Template:      email.TemplateAppointmentReminder,
		}, fmt.Sprintf("%s Appointment Reminder #%s", d.cfg.ClinicName, p.AppointmentID), email.AppointmentData{
			ClinicName:  d.cfg.ClinicName,
			OwnerName:   p.OwnerName,
			PetName:     p.PetName,
			ServiceName: p.ServiceName,
			Date:        p.Date,
			Time:        p.Time,
			ArrivalNote: d.cfg.ArrivalNote,
		}))
	}
	if d.text != nil && strings.TrimSpace(p.OwnerPhone) != "" {
		body := fmt.Sprintf("%s: reminder, %s has %s on %s at %s.",
			d.cfg.ClinicName, p.PetName, p.ServiceName, p.Date, p.Time)
		errs = append(errs, d.sendSMS(ctx, storage.Notification{
			EventID:       eventID,
			AppointmentID: p.AppointmentID,
			Recipient:     strings.TrimSpace(p.OwnerPhone),
			Template:      email.TemplateAppointmentReminder,
		}, body))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) paymentSucceeded(ctx context.Context, eventID string, p events.PaymentSucceededPayload) error {
	if p.OwnerEmail == "" {
		d.logger.Warn("payment without owner email", "payment_id", p.PaymentID)
		return nil
	}
	return d.sendEmail(ctx, storage.Notification{
		EventID:       eventID,
		AppointmentID: p.AppointmentID,
		Recipient:     p.OwnerEmail,
		Template:      email.TemplatePaymentReceipt,
	}, d.cfg.ClinicName+" Payment Receipt", email.PaymentData{
		ClinicName:  d.cfg.ClinicName,
		OwnerName:   p.OwnerName,
		ServiceName: p.ServiceName,
		Amount:      FormatAmount(p.AmountMinor, p.Currency),
		Reference:   p.ProviderPayment,
		When:        d.formatTime(p.PaidAt),
	})
}

func (d *Dispatcher) paymentRefunded(ctx context.Context, eventID string, p events.PaymentRefundedPayload) error {
	if p.OwnerEmail == "" {
		d.logger.Warn("refund without owner email", "payment_id", p.PaymentID)
		return nil
	}
	return d.sendEmail(ctx, storage.Notification{
		EventID:       eventID,
		AppointmentID: p.AppointmentID,
		Recipient:     p.OwnerEmail,
		Template:      email.TemplateRefundConfirmation,
	}, d.cfg.ClinicName+" Refund Confirmation", email.PaymentData{
		ClinicName:  d.cfg.ClinicName,
		OwnerName:   p.OwnerName,
		ServiceName: p.ServiceName,
		Amount:      FormatAmount(p.AmountMinor, p.Currency),
		Reference:   p.ProviderRefund,
		When:        d.formatTime(p.RefundedAt),
	})
}

func (d *Dispatcher) sendEmail(ctx context.Context, n storage.Notification, subject string, data any) error {
	n.Channel = storage.ChannelEmail
	n.ProviderID = d.mail.ProviderID()
	return d.deliver(ctx, n, func(ctx context.Context) error {
		html, err := d.renderer.Render(n.Template, data)
		if err != nil {
			return err
		}
		return d.mail.Send(ctx, email.Message{To: n.Recipient, Subject: subject, HTML: html})
	})
}

func (d *Dispatcher) sendSMS(ctx context.Context, n storage.Notification, body string) error {
	n.Channel = storage.ChannelSMS
	n.ProviderID = d.text.ProviderID()
	return d.deliver(ctx, n, func(ctx context.Context) error {
		return d.text.Send(ctx, n.Recipient, body)
	})
}

func (d *Dispatcher) deliver(ctx context.Context, n storage.Notification, send func(context.Context) error) error {
	n.Status = storage.StatusSent
	if err := send(ctx); err != nil {
		n.Status = storage.StatusFailed
		n.Error = err.Error()
		d.logger.Error("notification send failed", "err", err, "channel", n.Channel,
			"template", n.Template, "appointment_id", n.AppointmentID)
	}
	d.metrics.attempt(ctx, n.Channel, n.Status)

	if err := d.store.Record(ctx, n); err != nil {
		return fmt.Errorf("record %s notification: %w", n.Channel, err)
	}
	d.logger.Info("notification processed", "event_id", n.EventID, "channel", n.Channel,
		"template", n.Template, "status", n.Status)
	return nil
}

func (d *Dispatcher) formatTime(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.In(d.cfg.Location).Format("2 Jan 2006 15:04")
}

// FormatAmount renders minor units for display, e.g. 4500 gbp as £45.00.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	value := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	switch strings.ToLower(currency) {
	case "gbp":
		return sign + "£" + value
	case "eur":
		return sign + "€" + value
	case "usd":
		return sign + "$" + value
	default:
		return sign + value + " " + strings.ToUpper(currency)
	}
}
