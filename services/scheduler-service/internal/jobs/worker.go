package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
)

type Queue interface {
	FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error)
	Emit(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
	MarkSent(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkSkipped(ctx context.Context, tx pgx.Tx, ids []int64) error
	MarkFailed(ctx context.Context, tx pgx.Tx, job Job, nextRunAt time.Time, lastError string) (bool, error)
}

// TxFunc runs fn in one transaction, as db.Pool.InTx does.
type TxFunc func(ctx context.Context, fn func(pgx.Tx) error) error

type Worker struct {
	queue     Queue
	inTx      TxFunc
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(queue Queue, inTx TxFunc, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		queue:     queue,
		inTx:      inTx,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

type batchResult struct {
	sent, skipped, failed int
}

// processBatch claims due jobs and emits a reminder event for each one
// whose appointment has not been cancelled or completed.
func (w *Worker) processBatch(ctx context.Context) (batchResult, error) {
	var res batchResult
	err := w.inTx(ctx, func(tx pgx.Tx) error {
		res = batchResult{}
		due, err := w.queue.FetchDue(ctx, tx, w.batchSize)
		if err != nil {
			return err
		}

		var sent, skipped []int64
		for _, job := range due {
			if job.AppointmentStatus == "cancelled" || job.AppointmentStatus == "completed" {
				skipped = append(skipped, job.ID)
				continue
			}
			jobCtx := job.Trace.Attach(ctx)
			evt, err := outbox.NewEvent("appointment", job.AppointmentID, events.ReminderDue, duePayload(job))
			if err == nil {
				err = w.queue.Emit(jobCtx, tx, evt)
			}
			if err != nil {
				res.failed++
				exhausted, merr := w.queue.MarkFailed(ctx, tx, job, w.now().UTC().Add(w.backoff), err.Error())
				if merr != nil {
					return merr
				}
				if exhausted {
					w.logger.Error("reminder dropped after retries", "appointment_id", job.AppointmentID, "err", err)
				}
				continue
			}
			sent = append(sent, job.ID)
		}
		if err := w.queue.MarkSent(ctx, tx, sent); err != nil {
			return err
		}
		if err := w.queue.MarkSkipped(ctx, tx, skipped); err != nil {
			return err
		}
		res.sent, res.skipped = len(sent), len(skipped)
		return nil
	})
	if err == nil && res.sent+res.skipped+res.failed > 0 {
		w.logger.Info("reminder batch processed", "sent", res.sent, "skipped", res.skipped, "failed", res.failed)
	}
	return res, err
}

func duePayload(job Job) events.ReminderDuePayload {
	d := job.Details
	return events.ReminderDuePayload{
		AppointmentID: job.AppointmentID,
		OwnerName:     d.OwnerName,
		OwnerEmail:    d.OwnerEmail,
		OwnerPhone:    d.OwnerPhone,
		PetName:       d.PetName,
		ServiceName:   d.ServiceName,
		Date:          d.Date,
		Time:          d.Time,
		RemindAt:      job.RemindAt.UTC().Format(time.RFC3339),
	}
}
