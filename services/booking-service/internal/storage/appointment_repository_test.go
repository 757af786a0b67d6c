package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
)

func TestListQueryWithoutFilters(t *testing.T) {
	query, args, err := listQuery(model.Filter{})
	if err != nil {
		t.Fatalf("listQuery: %v", err)
	}
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no WHERE clause: %s", query)
	}
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
	if !strings.Contains(query, `ORDER BY "a"."appointment_date" ASC, "a"."appointment_time" ASC`) {
		t.Fatalf("unexpected ordering: %s", query)
	}
}

func TestListQueryAndsFilters(t *testing.T) {
	query, args, err := listQuery(model.Filter{
		UserID: "6f1c6a4e-31a4-4c9c-9c1e-7b7e0f0a2a11",
		Status: model.StatusConfirmed,
		Date:   "2030-01-10",
	})
	if err != nil {
		t.Fatalf("listQuery: %v", err)
	}
	for _, frag := range []string{`"a"."user_id" = $1::uuid`, `"a"."status" = $2`, `"a"."appointment_date" = $3::date`, " AND "} {
		if !strings.Contains(query, frag) {
			t.Fatalf("query missing %q: %s", frag, query)
		}
	}
	if len(args) != 3 || args[1] != model.StatusConfirmed || args[2] != "2030-01-10" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{pgx.ErrNoRows, ErrNotFound},
		{&pgconn.PgError{Code: "23505", ConstraintName: activeSlotIndex}, ErrSlotTaken},
		{&pgconn.PgError{Code: "23503", ConstraintName: "appointments_service_id_fkey"}, ErrInvalidReference},
		{&pgconn.PgError{Code: "22P02"}, ErrMalformedID},
	}
	for _, tc := range cases {
		got := classify(fmt.Errorf("wrapped: %w", tc.err))
		if !errors.Is(got, tc.want) {
			t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}

	other := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}
	if errors.Is(classify(other), ErrSlotTaken) {
		t.Fatal("only the active slot index means the slot is taken")
	}
}

type fakeTx struct {
	pgx.Tx
	savepoint  *fakeTx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	f.savepoint = &fakeTx{}
	return f.savepoint, nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type hookFunc func(ctx context.Context, tx pgx.Tx, a model.AppointmentDetails) error

func (f hookFunc) AppointmentCreated(ctx context.Context, tx pgx.Tx, a model.AppointmentDetails) error {
	return f(ctx, tx, a)
}

func loadFrom(t *testing.T, tx *fakeTx) detailsLoader {
	return func(_ context.Context, q querier, id string) (model.AppointmentDetails, error) {
		if q != querier(tx.savepoint) {
			t.Fatal("details must be read through the savepoint")
		}
		return model.AppointmentDetails{Appointment: model.Appointment{ID: id}, PetName: "Rex"}, nil
	}
}

func TestRunCreatedWritesThroughInsertTransaction(t *testing.T) {
	tx := &fakeTx{}
	var got model.AppointmentDetails
	var hookTx pgx.Tx
	hook := hookFunc(func(_ context.Context, htx pgx.Tx, a model.AppointmentDetails) error {
		hookTx, got = htx, a
		return nil
	})
	if err := runCreated(context.Background(), tx, "a1", loadFrom(t, tx), hook); err != nil {
		t.Fatalf("runCreated: %v", err)
	}
	if tx.savepoint == nil || hookTx != pgx.Tx(tx.savepoint) {
		t.Fatal("hook must run inside a savepoint of the insert transaction")
	}
	if got.ID != "a1" || got.PetName != "Rex" {
		t.Fatalf("unexpected details %+v", got)
	}
	if !tx.savepoint.committed || tx.savepoint.rolledBack {
		t.Fatal("savepoint should be released")
	}
	if tx.committed || tx.rolledBack {
		t.Fatal("the insert transaction is owned by the caller")
	}
}

func TestRunCreatedFailureKeepsInsert(t *testing.T) {
	tx := &fakeTx{}
	boom := errors.New("outbox insert failed")
	hook := hookFunc(func(context.Context, pgx.Tx, model.AppointmentDetails) error { return boom })
	err := runCreated(context.Background(), tx, "a1", loadFrom(t, tx), hook)
	if !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if !tx.savepoint.rolledBack || tx.savepoint.committed {
		t.Fatal("savepoint should be rolled back")
	}
	if tx.rolledBack {
		t.Fatal("insert transaction must not be rolled back")
	}
}

func TestRunCreatedSkipsHookWhenLoadFails(t *testing.T) {
	tx := &fakeTx{}
	called := false
	hook := hookFunc(func(context.Context, pgx.Tx, model.AppointmentDetails) error {
		called = true
		return nil
	})
	load := func(context.Context, querier, string) (model.AppointmentDetails, error) {
		return model.AppointmentDetails{}, ErrNotFound
	}
	if err := runCreated(context.Background(), tx, "a1", load, hook); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected load error, got %v", err)
	}
	if called {
		t.Fatal("hook should not run")
	}
	if !tx.savepoint.rolledBack {
		t.Fatal("savepoint should be rolled back")
	}
}
