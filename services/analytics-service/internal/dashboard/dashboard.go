// Package dashboard computes the admin dashboard figures for the clinic's
// current day and caches them briefly.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const Currency = "gbp"

type Stats struct {
	Date              string    `json:"date"`
	TodayAppointments int64     `json:"today_appointments"`
	TodayRevenueMinor int64     `json:"today_revenue_minor"`
	TodayRevenue      string    `json:"today_revenue"`
	Currency          string    `json:"currency"`
	TotalPatients     int64     `json:"total_patients"`
	TotalClients      int64     `json:"total_clients"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Counts are the raw figures for one clinic day. Revenue is gross payments
// taken that day; refunds are refunds issued that day.
type Counts struct {
	Appointments  int64
	GrossMinor    int64
	RefundedMinor int64
	Patients      int64
	Clients       int64
}

// Day is a clinic-local calendar day as a half-open UTC range.
type Day struct {
	Date  string
	Start time.Time
	End   time.Time
}

type Source interface {
	Counts(ctx context.Context, day Day) (Counts, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (Stats, bool, error)
	Set(ctx context.Context, key string, s Stats) error
	Delete(ctx context.Context, key string) error
}

type Service struct {
	source Source
	cache  Cache
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

type Option func(*Service)

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(source Source, cache Cache, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{source: source, cache: cache, logger: logger, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard returns today's figures. Cache failures degrade to a direct query.
func (s *Service) Dashboard(ctx context.Context) (Stats, error) {
	day := s.today()
	key := cacheKey(day.Date)
	if s.cache != nil {
		st, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("dashboard cache read failed", "err", err)
		} else if ok {
			return st, nil
		}
	}

	c, err := s.source.Counts(ctx, day)
	if err != nil {
		return Stats{}, fmt.Errorf("dashboard counts: %w", err)
	}
	revenue := c.GrossMinor - c.RefundedMinor
	st := Stats{
		Date:              day.Date,
		TodayAppointments: c.Appointments,
		TodayRevenueMinor: revenue,
		TodayRevenue:      formatMinor(revenue),
		Currency:          Currency,
		TotalPatients:     c.Patients,
		TotalClients:      c.Clients,
		GeneratedAt:       s.now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, st); err != nil {
			s.logger.Warn("dashboard cache write failed", "err", err)
		}
	}
	return st, nil
}

// Invalidate drops today's cached figures.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey(s.today().Date))
}

func (s *Service) today() Day {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return Day{
		Date:  start.Format(time.DateOnly),
		Start: start.UTC(),
		End:   start.AddDate(0, 0, 1).UTC(),
	}
}

func cacheKey(date string) string {
	return "dashboard:" + date
}

func formatMinor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
