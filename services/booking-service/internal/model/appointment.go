package model

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusPaid      = "paid"
)

// DateLayout and TimeLayout are the wire formats of appointment dates and times.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ActiveStatuses occupy their slot.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

// IsKnownStatus reports whether s is any lifecycle status, including paid.
func IsKnownStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusPaid:
		return true
	}
	return false
}

// IsSettableStatus reports whether s may be set through a status update.
// Paid is reserved for the payment flow.
func IsSettableStatus(s string) bool {
	return s != StatusPaid && IsKnownStatus(s)
}

type Appointment struct {
	ID        string
	UserID    string
	PetID     string
	ServiceID string
	Date      string
	Time      string
	Notes     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentDetails is an appointment joined with its owner, pet and service.
type AppointmentDetails struct {
	Appointment
	OwnerName    string
	OwnerEmail   string
	OwnerPhone   string
	PetName      string
	PetSpecies   string
	PetBreed     string
	PetAge       int
	ServiceName  string
	ServicePrice string
}

// NewAppointment is the validated input of an insert.
type NewAppointment struct {
	UserID    string
	PetID     string
	ServiceID string
	Date      string
	Time      string
	Notes     string
}

// Filter selects appointments. Empty fields match everything.
type Filter struct {
	UserID string
	Status string
	Date   string
}
