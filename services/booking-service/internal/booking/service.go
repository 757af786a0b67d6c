package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/availability"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/storage"
)

// Store persists appointments. Implementations report conflicts with the
// storage package sentinels.
type Store interface {
	BookedTimes(ctx context.Context, date string) ([]string, error)
	Insert(ctx context.Context, a model.NewAppointment) (string, error)
	List(ctx context.Context, f model.Filter) ([]model.AppointmentDetails, error)
	Get(ctx context.Context, id string) (model.AppointmentDetails, error)
	UpdateStatus(ctx context.Context, id, status string) (bool, error)
}

type Service struct {
	store   Store
	logger  *slog.Logger
	hours   availability.Hours
	loc     *time.Location
	now     func() time.Time
	metrics *metrics
}

type Option func(*Service)

func WithHours(h availability.Hours) Option { return func(s *Service) { s.hours = h } }

func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  logger,
		hours:   availability.DefaultHours(),
		loc:     time.Local,
		now:     time.Now,
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AvailableSlots returns the free "HH:MM" slots of date in chronological order.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	day, err := s.parseDate(date)
	if err != nil {
		return nil, err
	}
	booked, err := s.store.BookedTimes(ctx, day)
	if err != nil {
		return nil, s.storageError("load booked times", err)
	}
	return s.hours.Available(booked), nil
}

type CreateInput struct {
	UserID    string
	PetID     string
	ServiceID string
	Date      string
	Time      string
	Notes     string
}

// Create books a pending appointment and returns its id. The slot check and
// the insert are one statement guarded by a partial unique index, so two
// concurrent requests for the same slot cannot both succeed. The store queues
// the confirmation event in the same transaction; failing to queue it is
// logged and does not undo the booking.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.PetID = strings.TrimSpace(in.PetID)
	in.ServiceID = strings.TrimSpace(in.ServiceID)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.UserID == "" || in.PetID == "" || in.ServiceID == "" {
		return "", fmt.Errorf("%w: user, pet and service are required", ErrInvalidInput)
	}

	at, err := time.ParseInLocation(model.DateLayout+" "+model.TimeLayout,
		strings.TrimSpace(in.Date)+" "+strings.TrimSpace(in.Time), s.loc)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD and time HH:MM", ErrInvalidInput)
	}
	if !at.After(s.now()) {
		return "", fmt.Errorf("%w: appointment must be in the future", ErrInvalidInput)
	}
	slot := at.Format(model.TimeLayout)
	if !s.hours.IsCandidate(slot) {
		return "", fmt.Errorf("%w: %s is not a bookable slot", ErrInvalidInput, slot)
	}

	id, err := s.store.Insert(ctx, model.NewAppointment{
		UserID:    in.UserID,
		PetID:     in.PetID,
		ServiceID: in.ServiceID,
		Date:      at.Format(model.DateLayout),
		Time:      slot,
		Notes:     in.Notes,
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrEventNotQueued) && id != "":
		s.metrics.notificationFailed(ctx)
		s.logger.Warn("booking confirmation not queued", "appointment_id", id, "err", err)
	case errors.Is(err, storage.ErrSlotTaken):
		s.metrics.slotConflict(ctx)
		return "", fmt.Errorf("%w: %s %s is already booked", ErrSlotUnavailable, at.Format(model.DateLayout), slot)
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidReference):
		return "", fmt.Errorf("%w: pet or service does not exist", ErrNotFound)
	case errors.Is(err, storage.ErrMalformedID):
		return "", fmt.Errorf("%w: malformed identifier", ErrInvalidInput)
	default:
		return "", s.storageError("insert appointment", err)
	}

	s.metrics.created(ctx)
	s.logger.Info("appointment booked", "appointment_id", id, "user_id", in.UserID, "date", at.Format(model.DateLayout), "time", slot)
	return id, nil
}

// Appointments lists appointments matching f ordered by date then time.
func (s *Service) Appointments(ctx context.Context, f model.Filter) ([]model.AppointmentDetails, error) {
	f.UserID = strings.TrimSpace(f.UserID)
	f.Status = strings.TrimSpace(f.Status)
	if f.Status != "" && !model.IsKnownStatus(f.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, f.Status)
	}
	if f.Date != "" {
		day, err := s.parseDate(f.Date)
		if err != nil {
			return nil, err
		}
		f.Date = day
	}
	out, err := s.store.List(ctx, f)
	if errors.Is(err, storage.ErrMalformedID) {
		return nil, fmt.Errorf("%w: malformed user id", ErrInvalidInput)
	}
	if err != nil {
		return nil, s.storageError("list appointments", err)
	}
	return out, nil
}

func (s *Service) Appointment(ctx context.Context, id string) (model.AppointmentDetails, error) {
	a, err := s.store.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrMalformedID) {
		return model.AppointmentDetails{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if err != nil {
		return model.AppointmentDetails{}, s.storageError("get appointment", err)
	}
	return a, nil
}

// UpdateStatus sets any settable status regardless of the current one and
// reports whether an appointment was changed. Unknown ids yield false.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (bool, error) {
	status = strings.TrimSpace(status)
	if !model.IsSettableStatus(status) {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	changed, err := s.store.UpdateStatus(ctx, strings.TrimSpace(id), status)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrMalformedID), errors.Is(err, storage.ErrNotFound):
		return false, nil
	case errors.Is(err, storage.ErrSlotTaken):
		s.metrics.slotConflict(ctx)
		return false, fmt.Errorf("%w: the slot was booked by another appointment", ErrSlotUnavailable)
	default:
		return false, s.storageError("update status", err)
	}
	if changed {
		s.logger.Info("appointment status updated", "appointment_id", id, "status", status)
	}
	return changed, nil
}

func (s *Service) parseDate(date string) (string, error) {
	day, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(date), s.loc)
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return day.Format(model.DateLayout), nil
}

func (s *Service) storageError(op string, err error) error {
	s.logger.Error("storage failure", "op", op, "err", err)
	return fmt.Errorf("%w: %s", ErrStorage, op)
}
