package kafkax

import (
	"context"

	"github.com/pdsa-vet/vetclinic/libs/db"
)

// PgInbox stores processed event ids in the inbox_events table.
type PgInbox struct {
	pool *db.Pool
}

func NewPgInbox(pool *db.Pool) *PgInbox {
	return &PgInbox{pool: pool}
}

func (r *PgInbox) Record(ctx context.Context, consumer string, meta EventMeta) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, consumer, meta.EventID, meta.EventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}

func (r *PgInbox) Forget(ctx context.Context, consumer string, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE consumer = $1 AND event_id = $2`, consumer, eventID)
	return err
}
