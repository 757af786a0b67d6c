package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Gateway is the card processor.
type Gateway interface {
	// CreateIntent creates and confirms a payment. A declined card yields
	// ErrDeclined together with the intent when the gateway created one.
	CreateIntent(ctx context.Context, p IntentParams) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	// Refund returns the gateway's refund id.
	Refund(ctx context.Context, intentID string, amountMinor int64) (string, error)
}

// Store keeps the payment ledger. Writes that change appointment state also
// write the matching outbox event in the same transaction.
type Store interface {
	Payable(ctx context.Context, appointmentID string) (Payable, error)
	RecordPayment(ctx context.Context, p Payable, in Intent, at time.Time) (Payment, error)
	History(ctx context.Context, userID string) ([]Payment, error)
	ByIntent(ctx context.Context, intentID string) (Payment, error)
	RecordRefund(ctx context.Context, p Payment, refundID, adminID string, at time.Time) error
	ApplyIntent(ctx context.Context, upd IntentUpdate) (bool, error)
	ApplyProviderEvent(ctx context.Context, evt ProviderEvent, upd *IntentUpdate) (bool, error)
	InFlightIntents(ctx context.Context, limit int) ([]string, error)
}

type PayInput struct {
	UserID          string
	Email           string
	AppointmentID   string
	PaymentMethodID string
}

type RefundResult struct {
	IntentID      string `json:"payment_intent_id"`
	RefundID      string `json:"refund_id"`
	AppointmentID string `json:"appointment_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}

type Service struct {
	store   Store
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, gateway Gateway, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, gateway: gateway, logger: logger, now: time.Now, metrics: newMetrics()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pay charges the caller's confirmed appointment. A succeeded charge marks
// the appointment paid.
func (s *Service) Pay(ctx context.Context, in PayInput) (Payment, error) {
	in.AppointmentID = strings.TrimSpace(in.AppointmentID)
	in.PaymentMethodID = strings.TrimSpace(in.PaymentMethodID)
	if in.AppointmentID == "" || in.PaymentMethodID == "" {
		return Payment{}, fmt.Errorf("%w: appointment_id and payment_method_id are required", ErrInvalidInput)
	}

	p, err := s.store.Payable(ctx, in.AppointmentID)
	if err != nil {
		return Payment{}, err
	}
	if p.UserID != in.UserID {
		return Payment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, in.AppointmentID)
	}
	if p.Status != "confirmed" {
		return Payment{}, fmt.Errorf("%w: appointment is %s", ErrNotEligible, p.Status)
	}
	if p.AmountMinor <= 0 {
		return Payment{}, fmt.Errorf("%w: nothing to pay", ErrNotEligible)
	}

	email := p.OwnerEmail
	if in.Email != "" {
		email = in.Email
	}
	intent, err := s.gateway.CreateIntent(ctx, IntentParams{
		AppointmentID:   p.AppointmentID,
		UserID:          p.UserID,
		PaymentMethodID: in.PaymentMethodID,
		AmountMinor:     p.AmountMinor,
		Currency:        Currency,
		Description:     fmt.Sprintf("%s for %s on %s %s", p.ServiceName, p.PetName, p.Date, p.Time),
		ReceiptEmail:    email,
		IdempotencyKey:  "appt:" + p.AppointmentID + ":" + in.PaymentMethodID,
	})
	declined := errors.Is(err, ErrDeclined)
	if err != nil && !declined {
		return Payment{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if declined && intent.ID == "" {
		s.metrics.declined(ctx)
		return Payment{}, err
	}

	payment, recErr := s.store.RecordPayment(ctx, p, intent, s.now())
	if recErr != nil {
		s.logger.Error("payment taken but not recorded",
			"payment_intent_id", intent.ID, "appointment_id", p.AppointmentID, "err", recErr)
		return Payment{}, recErr
	}
	if declined {
		s.metrics.declined(ctx)
		return payment, err
	}
	if payment.Status == StatusSucceeded {
		s.metrics.succeeded(ctx)
	}
	s.logger.Info("payment recorded",
		"payment_intent_id", intent.ID, "appointment_id", p.AppointmentID, "status", payment.Status)
	return payment, nil
}

func (s *Service) History(ctx context.Context, userID string) ([]Payment, error) {
	return s.store.History(ctx, userID)
}

// Refund returns the full amount of a succeeded payment and cancels its appointment.
func (s *Service) Refund(ctx context.Context, intentID, adminID string) (RefundResult, error) {
	p, err := s.store.ByIntent(ctx, strings.TrimSpace(intentID))
	if err != nil {
		return RefundResult{}, err
	}
	if p.Status != StatusSucceeded {
		return RefundResult{}, fmt.Errorf("%w: payment is %s", ErrNotEligible, p.Status)
	}
	refundID, err := s.gateway.Refund(ctx, p.IntentID, p.AmountMinor)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if err := s.store.RecordRefund(ctx, p, refundID, adminID, s.now()); err != nil {
		s.logger.Error("refund issued but not recorded", "payment_intent_id", p.IntentID, "refund_id", refundID, "err", err)
		return RefundResult{}, err
	}
	s.metrics.refunded(ctx)
	s.logger.Info("payment refunded", "payment_intent_id", p.IntentID, "refund_id", refundID, "admin_id", adminID)
	return RefundResult{
		IntentID:      p.IntentID,
		RefundID:      refundID,
		AppointmentID: p.AppointmentID,
		AmountMinor:   p.AmountMinor,
		Currency:      p.Currency,
	}, nil
}

// HandleProviderEvent applies a webhook once. It reports false for a replayed event.
func (s *Service) HandleProviderEvent(ctx context.Context, evt ProviderEvent, upd *IntentUpdate) (bool, error) {
	applied, err := s.store.ApplyProviderEvent(ctx, evt, upd)
	if err != nil {
		return false, err
	}
	if applied && upd != nil && upd.Status == StatusSucceeded {
		s.metrics.succeeded(ctx)
	}
	return applied, nil
}

// Reconcile refreshes up to limit in-flight payments from the gateway and
// returns how many changed.
func (s *Service) Reconcile(ctx context.Context, limit int) (int, error) {
	ids, err := s.store.InFlightIntents(ctx, limit)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		intent, err := s.gateway.GetIntent(ctx, id)
		if err != nil {
			s.logger.Warn("reconcile: fetch intent failed", "payment_intent_id", id, "err", err)
			continue
		}
		ok, err := s.store.ApplyIntent(ctx, IntentUpdate{
			IntentID:      intent.ID,
			Status:        intent.Status,
			FailureReason: intent.FailureReason,
			At:            s.now(),
		})
		if err != nil {
			s.logger.Warn("reconcile: apply failed", "payment_intent_id", id, "err", err)
			continue
		}
		if ok {
			changed++
			if intent.Status == StatusSucceeded {
				s.metrics.succeeded(ctx)
			}
		}
	}
	return changed, nil
}
