// Package events defines the Kafka topics and payloads shared by producers
// and consumers. Topic names equal event types.
package events

const (
	AppointmentCreated = "booking.appointment.created.v1"
	PaymentSucceeded   = "billing.payment.succeeded.v1"
	PaymentRefunded    = "billing.payment.refunded.v1"
)

// AppointmentCreatedPayload carries everything the confirmation email needs,
// so consumers never call back into booking.
type AppointmentCreatedPayload struct {
	AppointmentID string `json:"appointment_id"`
	UserID        string `json:"user_id"`
	OwnerName     string `json:"owner_name"`
	OwnerEmail    string `json:"owner_email"`
	OwnerPhone    string `json:"owner_phone,omitempty"`
	PetName       string `json:"pet_name"`
	ServiceName   string `json:"service_name"`
	ServicePrice  string `json:"service_price"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Notes         string `json:"notes,omitempty"`
}

type PaymentSucceededPayload struct {
	PaymentID       string `json:"payment_id"`
	AppointmentID   string `json:"appointment_id"`
	UserID          string `json:"user_id"`
	OwnerName       string `json:"owner_name"`
	OwnerEmail      string `json:"owner_email"`
	ServiceName     string `json:"service_name"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	ProviderPayment string `json:"provider_payment_id"`
	PaidAt          string `json:"paid_at"`
}

type PaymentRefundedPayload struct {
	PaymentID      string `json:"payment_id"`
	AppointmentID  string `json:"appointment_id"`
	UserID         string `json:"user_id"`
	OwnerName      string `json:"owner_name"`
	OwnerEmail     string `json:"owner_email"`
	ServiceName    string `json:"service_name"`
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ProviderRefund string `json:"provider_refund_id"`
	RefundedBy     string `json:"refunded_by"`
	RefundedAt     string `json:"refunded_at"`
}

const ReminderDue = "scheduler.reminder.due.v1"

// ReminderDuePayload is emitted once per appointment ahead of the visit.
type ReminderDuePayload struct {
	AppointmentID string `json:"appointment_id"`
	OwnerName     string `json:"owner_name"`
	OwnerEmail    string `json:"owner_email"`
	OwnerPhone    string `json:"owner_phone,omitempty"`
	PetName       string `json:"pet_name"`
	ServiceName   string `json:"service_name"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	RemindAt      string `json:"remind_at"`
}
