package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeInserter struct {
	jobs []Job
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, job Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func newTestScheduler(store Inserter, now time.Time) *Scheduler {
	loc, _ := time.LoadLocation("Europe/London")
	s := NewScheduler(store, testLogger, loc, 24*time.Hour)
	s.now = func() time.Time { return now }
	return s
}

func TestScheduleQueuesReminderBeforeVisit(t *testing.T) {
	store := &fakeInserter{}
	s := newTestScheduler(store, time.Date(2030, 7, 1, 8, 0, 0, 0, time.UTC))

	p := events.AppointmentCreatedPayload{AppointmentID: "appt-1", Date: "2030-07-03", Time: "09:30", PetName: "Rex"}
	require.NoError(t, s.Schedule(context.Background(), p))

	require.Len(t, store.jobs, 1)
	// 09:30 BST on the 3rd is 08:30 UTC; one day earlier.
	assert.Equal(t, time.Date(2030, 7, 2, 8, 30, 0, 0, time.UTC), store.jobs[0].RemindAt)
	assert.Equal(t, "Rex", store.jobs[0].Details.PetName)
}

func TestScheduleSkipsVisitsInsideLead(t *testing.T) {
	store := &fakeInserter{}
	s := newTestScheduler(store, time.Date(2030, 7, 2, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Schedule(context.Background(), events.AppointmentCreatedPayload{AppointmentID: "appt-1", Date: "2030-07-03", Time: "09:30"}))
	require.NoError(t, s.Schedule(context.Background(), events.AppointmentCreatedPayload{AppointmentID: "appt-2", Date: "03/07/2030", Time: "9am"}))
	assert.Empty(t, store.jobs)
}

func TestScheduleReturnsStoreErrors(t *testing.T) {
	s := newTestScheduler(&fakeInserter{err: errors.New("db down")}, time.Date(2030, 7, 1, 8, 0, 0, 0, time.UTC))
	err := s.Schedule(context.Background(), events.AppointmentCreatedPayload{AppointmentID: "appt-1", Date: "2030-07-03", Time: "09:30"})
	assert.Error(t, err)
}

type fakeQueue struct {
	due      []Job
	emitErr  map[string]error
	emitted  []outbox.Event
	sent     []int64
	skipped  []int64
	failed   []int64
	nextRuns []time.Time
}

func (q *fakeQueue) FetchDue(context.Context, pgx.Tx, int) ([]Job, error) {
	return q.due, nil
}

func (q *fakeQueue) Emit(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	if err := q.emitErr[evt.AggregateID]; err != nil {
		return err
	}
	q.emitted = append(q.emitted, evt)
	return nil
}

func (q *fakeQueue) MarkSent(_ context.Context, _ pgx.Tx, ids []int64) error {
	q.sent = append(q.sent, ids...)
	return nil
}

func (q *fakeQueue) MarkSkipped(_ context.Context, _ pgx.Tx, ids []int64) error {
	q.skipped = append(q.skipped, ids...)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, _ pgx.Tx, job Job, nextRunAt time.Time, _ string) (bool, error) {
	q.failed = append(q.failed, job.ID)
	q.nextRuns = append(q.nextRuns, nextRunAt)
	return job.Attempts+1 >= job.MaxAttempts, nil
}

func noTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

func TestProcessBatch(t *testing.T) {
	now := time.Date(2030, 7, 2, 8, 30, 0, 0, time.UTC)
	q := &fakeQueue{
		due: []Job{
			{ID: 1, AppointmentID: "appt-1", AppointmentStatus: "confirmed", RemindAt: now, MaxAttempts: 5,
				Details: events.AppointmentCreatedPayload{OwnerEmail: "ada@example.com", PetName: "Rex", Date: "2030-07-03", Time: "09:30"}},
			{ID: 2, AppointmentID: "appt-2", AppointmentStatus: "cancelled", MaxAttempts: 5},
			{ID: 3, AppointmentID: "appt-3", AppointmentStatus: "paid", MaxAttempts: 5},
		},
		emitErr: map[string]error{"appt-3": errors.New("outbox full")},
	}
	w := NewWorker(q, noTx, testLogger, WorkerConfig{Backoff: 2 * time.Minute})
	w.now = func() time.Time { return now }

	res, err := w.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, batchResult{sent: 1, skipped: 1, failed: 1}, res)
	assert.Equal(t, []int64{1}, q.sent)
	assert.Equal(t, []int64{2}, q.skipped)
	assert.Equal(t, []int64{3}, q.failed)
	assert.Equal(t, []time.Time{now.Add(2 * time.Minute)}, q.nextRuns)

	require.Len(t, q.emitted, 1)
	evt := q.emitted[0]
	assert.Equal(t, events.ReminderDue, evt.EventType)
	var p events.ReminderDuePayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "appt-1", p.AppointmentID)
	assert.Equal(t, "ada@example.com", p.OwnerEmail)
	assert.Equal(t, "09:30", p.Time)
	assert.Equal(t, "2030-07-02T08:30:00Z", p.RemindAt)
}

func TestProcessBatchPropagatesTxErrors(t *testing.T) {
	w := NewWorker(&fakeQueue{}, func(context.Context, func(pgx.Tx) error) error {
		return errors.New("begin failed")
	}, testLogger, WorkerConfig{})
	_, err := w.processBatch(context.Background())
	assert.Error(t, err)
}

func TestVisitStart(t *testing.T) {
	got, err := VisitStart("2030-01-15", "14:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 15, 14, 0, 0, 0, time.UTC), got)

	_, err = VisitStart("2030-01-15", "", time.UTC)
	assert.Error(t, err)
}
