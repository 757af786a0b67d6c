package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/events"
)

type Inserter interface {
	Insert(ctx context.Context, job Job) error
}

// Scheduler turns new bookings into reminder jobs due Lead before the visit.
type Scheduler struct {
	store  Inserter
	logger *slog.Logger
	loc    *time.Location
	lead   time.Duration
	now    func() time.Time
}

func NewScheduler(store Inserter, logger *slog.Logger, loc *time.Location, lead time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	return &Scheduler{store: store, logger: logger, loc: loc, lead: lead, now: time.Now}
}

// Schedule queues a reminder for p. Bookings made inside the lead window
// get none; the confirmation already covers them.
func (s *Scheduler) Schedule(ctx context.Context, p events.AppointmentCreatedPayload) error {
	start, err := VisitStart(p.Date, p.Time, s.loc)
	if err != nil {
		s.logger.Error("invalid appointment time", "err", err, "appointment_id", p.AppointmentID)
		return nil
	}
	remindAt := start.Add(-s.lead)
	if !remindAt.After(s.now()) {
		s.logger.Info("reminder not scheduled, visit too soon", "appointment_id", p.AppointmentID)
		return nil
	}
	if err := s.store.Insert(ctx, Job{AppointmentID: p.AppointmentID, RemindAt: remindAt.UTC(), Details: p}); err != nil {
		return fmt.Errorf("queue reminder: %w", err)
	}
	s.logger.Info("reminder scheduled", "appointment_id", p.AppointmentID, "remind_at", remindAt.UTC().Format(time.RFC3339))
	return nil
}

// VisitStart combines a YYYY-MM-DD date and HH:MM time in the clinic's zone.
func VisitStart(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse visit %q %q: %w", date, clock, err)
	}
	return t, nil
}
