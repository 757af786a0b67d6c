// Package payments takes appointment payments and refunds through a card
// gateway and keeps the local payment ledger in step with it.
package payments

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrNotEligible means the appointment or payment is in the wrong state.
	ErrNotEligible = errors.New("not eligible")
	ErrDeclined    = errors.New("payment declined")
	ErrProvider    = errors.New("payment provider failure")
)

// Currency is the only currency the clinic charges in.
const Currency = "gbp"

// Payment intent statuses as reported by the gateway, plus refunded which is local.
const (
	StatusSucceeded             = "succeeded"
	StatusProcessing            = "processing"
	StatusRequiresAction        = "requires_action"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresCapture       = "requires_capture"
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusCanceled              = "canceled"
	StatusRefunded              = "refunded"
)

// InFlightStatuses may still change on the gateway side without a new
// request from us. The reconciler polls these.
var InFlightStatuses = []string{StatusProcessing, StatusRequiresAction, StatusRequiresConfirmation, StatusRequiresCapture}

// IsFinal reports whether status can no longer move through a gateway update.
func IsFinal(status string) bool {
	switch status {
	case StatusSucceeded, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// Payable is a confirmed appointment together with what it costs.
type Payable struct {
	AppointmentID string
	UserID        string
	Status        string
	Price         string
	AmountMinor   int64
	OwnerName     string
	OwnerEmail    string
	PetName       string
	ServiceName   string
	Date          string
	Time          string
}

type Payment struct {
	ID              string     `json:"payment_id"`
	UserID          string     `json:"user_id"`
	AppointmentID   string     `json:"appointment_id"`
	Amount          string     `json:"amount"`
	AmountMinor     int64      `json:"amount_minor"`
	Currency        string     `json:"currency"`
	IntentID        string     `json:"payment_intent_id"`
	Status          string     `json:"status"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	AppointmentDate string     `json:"appointment_date"`
	AppointmentTime string     `json:"appointment_time"`
	ServiceName     string     `json:"service_name"`
	OwnerName       string     `json:"-"`
	OwnerEmail      string     `json:"-"`
}

// Intent is the gateway's view of a payment.
type Intent struct {
	ID            string
	Status        string
	AmountMinor   int64
	Currency      string
	FailureReason string
}

type IntentParams struct {
	AppointmentID   string
	UserID          string
	PaymentMethodID string
	AmountMinor     int64
	Currency        string
	Description     string
	ReceiptEmail    string
	IdempotencyKey  string
}

// IntentUpdate is a status change learned from a webhook or the reconciler.
type IntentUpdate struct {
	IntentID      string
	Status        string
	FailureReason string
	At            time.Time
}

// ProviderEvent is a raw gateway webhook, stored once per event id.
type ProviderEvent struct {
	Provider  string
	EventID   string
	EventType string
	Payload   []byte
}
