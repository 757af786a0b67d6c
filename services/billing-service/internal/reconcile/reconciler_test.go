package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type countingReconciler struct {
	calls int
	err   error
}

func (c *countingReconciler) Reconcile(context.Context, int) (int, error) {
	c.calls++
	return 1, c.err
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(nil, &countingReconciler{}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	if r.cfg.Interval != 5*time.Minute || r.cfg.BatchSize != 50 || r.cfg.AdvisoryLockKey != 4242001 || r.cfg.LockRetry != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", r.cfg)
	}
}

func TestOnceToleratesErrors(t *testing.T) {
	svc := &countingReconciler{err: errors.New("db down")}
	r := New(nil, svc, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	r.once(context.Background())
	svc.err = nil
	r.once(context.Background())
	if svc.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", svc.calls)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatal("sleep should return false once ctx is done")
	}
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("sleep should return true after the delay")
	}
}
