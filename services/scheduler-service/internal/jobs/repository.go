package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/events"
	otelx "github.com/pdsa-vet/vetclinic/libs/otel"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
)

type Job struct {
	ID            int64
	AppointmentID string
	RemindAt      time.Time
	Details       events.AppointmentCreatedPayload
	Trace         otelx.TraceContext
	Attempts      int
	MaxAttempts   int
	// AppointmentStatus is the live status, read when the job is claimed.
	AppointmentStatus string
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// Insert queues a reminder. A second request for the same appointment is ignored.
func (r *Repository) Insert(ctx context.Context, job Job) error {
	details, err := json.Marshal(job.Details)
	if err != nil {
		return err
	}
	tc := otelx.CaptureTraceContext(ctx)
	_, err = r.pool.Exec(ctx, `
		INSERT INTO reminder_jobs (appointment_id, remind_at, details, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $2, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING
	`, job.AppointmentID, job.RemindAt, details, tc.Traceparent, tc.Tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT j.id, j.appointment_id::text, j.remind_at, j.details, j.traceparent, j.tracestate,
		       j.attempts, j.max_attempts, a.status
		FROM reminder_jobs j
		JOIN appointments a ON a.id = j.appointment_id
		WHERE j.status = 'pending' AND j.next_run_at <= now()
		ORDER BY j.next_run_at
		LIMIT $1
		FOR UPDATE OF j SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		var j Job
		var raw []byte
		if err := row.Scan(&j.ID, &j.AppointmentID, &j.RemindAt, &raw, &j.Trace.Traceparent, &j.Trace.Tracestate,
			&j.Attempts, &j.MaxAttempts, &j.AppointmentStatus); err != nil {
			return j, err
		}
		return j, json.Unmarshal(raw, &j.Details)
	})
}

// Emit writes evt to the outbox under a savepoint so one failed insert does
// not abort the batch transaction.
func (r *Repository) Emit(ctx context.Context, tx pgx.Tx, evt outbox.Event) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, sp, evt); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, ids []int64) error {
	return r.setStatus(ctx, tx, ids, "sent")
}

func (r *Repository) MarkSkipped(ctx context.Context, tx pgx.Tx, ids []int64) error {
	return r.setStatus(ctx, tx, ids, "skipped")
}

func (r *Repository) setStatus(ctx context.Context, tx pgx.Tx, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = $2, updated_at = now()
		WHERE id = ANY($1)
	`, ids, status)
	return err
}

// MarkFailed records an attempt and reports whether the job is now exhausted.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, job Job, nextRunAt time.Time, lastError string) (bool, error) {
	attempts := job.Attempts + 1
	status := "pending"
	if attempts >= job.MaxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, job.ID, attempts, status, nextRunAt, lastError)
	return status == "failed", err
}
