package storage

import (
	"context"

	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/dashboard"
)

type DashboardRepository struct {
	pool *db.Pool
}

func NewDashboardRepository(pool *db.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// Counts reads every figure in one round trip so they describe the same
// snapshot.
func (r *DashboardRepository) Counts(ctx context.Context, day dashboard.Day) (dashboard.Counts, error) {
	var c dashboard.Counts
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM appointments
			  WHERE appointment_date = $1::date AND status <> 'cancelled'),
			(SELECT COALESCE(sum(amount_minor), 0)::bigint FROM payments
			  WHERE status IN ('succeeded', 'refunded') AND created_at >= $2 AND created_at < $3),
			(SELECT COALESCE(sum(round(amount * 100)), 0)::bigint FROM refunds
			  WHERE created_at >= $2 AND created_at < $3),
			(SELECT count(*) FROM pets),
			(SELECT count(*) FROM users WHERE role = 'user')
	`, day.Date, day.Start, day.End).Scan(&c.Appointments, &c.GrossMinor, &c.RefundedMinor, &c.Patients, &c.Clients)
	return c, err
}
