package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
)

var (
	// ErrSlotTaken means another active appointment holds the same date and time.
	ErrSlotTaken = errors.New("slot already taken")
	ErrNotFound  = errors.New("not found")
	// ErrInvalidReference means a referenced row (service) does not exist.
	ErrInvalidReference = errors.New("invalid reference")
	ErrMalformedID      = errors.New("malformed identifier")
	// ErrEventNotQueued means the appointment was stored but its created
	// event was not.
	ErrEventNotQueued = errors.New("appointment event not queued")
)

const activeSlotIndex = "appointments_active_slot_uq"

var dialect = goqu.Dialect("postgres")

// CreatedHook runs inside the insert transaction once the appointment row
// exists. Work it writes through tx commits or rolls back with the booking.
type CreatedHook interface {
	AppointmentCreated(ctx context.Context, tx pgx.Tx, a model.AppointmentDetails) error
}

type AppointmentRepository struct {
	pool      *db.Pool
	onCreated CreatedHook
}

// NewAppointmentRepository returns a repository. onCreated may be nil.
func NewAppointmentRepository(pool *db.Pool, onCreated CreatedHook) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, onCreated: onCreated}
}

// BookedTimes returns the "HH:MM" times held by active appointments on date.
func (r *AppointmentRepository) BookedTimes(ctx context.Context, date string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE appointment_date = $1::date
		  AND status = ANY($2)
		ORDER BY appointment_time
	`, date, model.ActiveStatuses)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Insert creates a pending appointment when the pet belongs to the user. The
// partial unique index on active (date, time) pairs rejects a taken slot.
// The created hook runs in the same transaction under a savepoint: when it
// fails the appointment is still committed and the returned error wraps
// ErrEventNotQueued alongside the new id.
func (r *AppointmentRepository) Insert(ctx context.Context, a model.NewAppointment) (string, error) {
	var id string
	var hookErr error
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments (user_id, pet_id, service_id, appointment_date, appointment_time, notes, status)
			SELECT $1::uuid, p.id, $3::uuid, $4::date, $5::time, NULLIF($6, ''), $7
			FROM pets p
			WHERE p.id = $2::uuid AND p.user_id = $1::uuid
			RETURNING id::text
		`, a.UserID, a.PetID, a.ServiceID, a.Date, a.Time, a.Notes, model.StatusPending).Scan(&id)
		if err != nil {
			return classify(err)
		}
		if r.onCreated != nil {
			hookErr = runCreated(ctx, tx, id, getDetails, r.onCreated)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if hookErr != nil {
		return id, fmt.Errorf("%w: %w", ErrEventNotQueued, hookErr)
	}
	return id, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type detailsLoader func(ctx context.Context, q querier, id string) (model.AppointmentDetails, error)

// runCreated loads the new appointment and hands it to hook inside a
// savepoint of tx.
func runCreated(ctx context.Context, tx pgx.Tx, id string, load detailsLoader, hook CreatedHook) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	a, err := load(ctx, sp, id)
	if err == nil {
		err = hook.AppointmentCreated(ctx, sp, a)
	}
	if err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (r *AppointmentRepository) List(ctx context.Context, f model.Filter) ([]model.AppointmentDetails, error) {
	query, args, err := listQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, scanDetails)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.AppointmentDetails, error) {
	return getDetails(ctx, r.pool, id)
}

func getDetails(ctx context.Context, q querier, id string) (model.AppointmentDetails, error) {
	query, args, err := detailsQuery().Where(goqu.I("a.id").Eq(goqu.L("?::uuid", id))).ToSQL()
	if err != nil {
		return model.AppointmentDetails{}, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return model.AppointmentDetails{}, classify(err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanDetails)
	if err != nil {
		return model.AppointmentDetails{}, classify(err)
	}
	return a, nil
}

// UpdateStatus reports whether a row changed.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id, status string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1::uuid
	`, id, status)
	if err != nil {
		return false, classify(err)
	}
	return tag.RowsAffected() > 0, nil
}

func detailsQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("appointments").As("a")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("a.user_id")))).
		Join(goqu.T("pets").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("a.pet_id")))).
		Join(goqu.T("services").As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("a.service_id")))).
		Select(
			goqu.L("a.id::text"),
			goqu.L("a.user_id::text"),
			goqu.L("a.pet_id::text"),
			goqu.L("a.service_id::text"),
			goqu.L("to_char(a.appointment_date, 'YYYY-MM-DD')"),
			goqu.L("to_char(a.appointment_time, 'HH24:MI')"),
			goqu.L("COALESCE(a.notes, '')"),
			goqu.I("a.status"),
			goqu.I("a.created_at"),
			goqu.I("a.updated_at"),
			goqu.I("u.name"),
			goqu.I("u.email"),
			goqu.L("COALESCE(u.phone, '')"),
			goqu.I("p.name"),
			goqu.I("p.species"),
			goqu.L("COALESCE(p.breed, '')"),
			goqu.I("p.age"),
			goqu.I("s.name"),
			goqu.L("s.price::text"),
		).
		Prepared(true)
}

// listQuery ANDs the non-empty filter fields.
func listQuery(f model.Filter) (string, []any, error) {
	var where []exp.Expression
	if f.UserID != "" {
		where = append(where, goqu.I("a.user_id").Eq(goqu.L("?::uuid", f.UserID)))
	}
	if f.Status != "" {
		where = append(where, goqu.I("a.status").Eq(f.Status))
	}
	if f.Date != "" {
		where = append(where, goqu.I("a.appointment_date").Eq(goqu.L("?::date", f.Date)))
	}
	query, args, err := detailsQuery().
		Where(where...).
		Order(goqu.I("a.appointment_date").Asc(), goqu.I("a.appointment_time").Asc()).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build appointment query: %w", err)
	}
	return query, args, nil
}

func scanDetails(row pgx.CollectableRow) (model.AppointmentDetails, error) {
	var a model.AppointmentDetails
	err := row.Scan(
		&a.ID, &a.UserID, &a.PetID, &a.ServiceID, &a.Date, &a.Time, &a.Notes, &a.Status,
		&a.CreatedAt, &a.UpdatedAt,
		&a.OwnerName, &a.OwnerEmail, &a.OwnerPhone,
		&a.PetName, &a.PetSpecies, &a.PetBreed, &a.PetAge,
		&a.ServiceName, &a.ServicePrice,
	)
	return a, err
}

func classify(err error) error {
	switch {
	case db.IsNoRows(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case db.IsUniqueViolation(err) && db.ConstraintName(err) == activeSlotIndex:
		return fmt.Errorf("%w: %v", ErrSlotTaken, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", ErrInvalidReference, err)
	case db.IsInvalidText(err):
		return fmt.Errorf("%w: %v", ErrMalformedID, err)
	}
	return err
}
