package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

// Reconcilable refreshes in-flight payments from the gateway.
type Reconcilable interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
	// LockRetry is how long a follower waits before trying the lock again.
	LockRetry time.Duration
}

// Reconciler self-heals payments whose webhooks were missed. Only the
// replica holding the Postgres advisory lock runs it.
type Reconciler struct {
	pool   *db.Pool
	svc    Reconcilable
	logger *slog.Logger
	cfg    Config
}

func New(pool *db.Pool, svc Reconcilable, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 4242001
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 30 * time.Second
	}
	return &Reconciler{pool: pool, svc: svc, logger: logger, cfg: cfg}
}

func (r *Reconciler) Run(ctx context.Context) {
	conn, ok := r.acquireLeadership(ctx)
	if !ok {
		return
	}
	// Session advisory locks belong to the connection that took them, so
	// the unlock has to go through the same one.
	defer func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.cfg.AdvisoryLockKey)
		conn.Release()
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.once(ctx)
		}
	}
}

func (r *Reconciler) acquireLeadership(ctx context.Context) (*pgxpool.Conn, bool) {
	for {
		conn, err := r.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			r.logger.Error("payment reconcile: acquire connection failed", "err", err)
			if !sleep(ctx, 5*time.Second) {
				return nil, false
			}
			continue
		}
		var locked bool
		err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.cfg.AdvisoryLockKey).Scan(&locked)
		if err == nil && locked {
			r.logger.Info("payment reconcile: advisory lock acquired", "lock_key", r.cfg.AdvisoryLockKey)
			return conn, true
		}
		conn.Release()
		if err != nil {
			r.logger.Error("payment reconcile: advisory lock query failed", "err", err)
		} else {
			r.logger.Debug("payment reconcile: advisory lock held by another instance", "lock_key", r.cfg.AdvisoryLockKey)
		}
		if !sleep(ctx, r.cfg.LockRetry) {
			return nil, false
		}
	}
}

func (r *Reconciler) once(ctx context.Context) {
	changed, err := r.svc.Reconcile(ctx, r.cfg.BatchSize)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("payment reconcile failed", "err", err)
		return
	}
	if changed > 0 {
		r.logger.Info("payment reconcile applied updates", "changed", changed)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
