package storage

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"

	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

var dialect = goqu.Dialect("postgres")

// Notification is one delivery attempt on one channel.
type Notification struct {
	ID            string
	EventID       string
	AppointmentID string
	Channel       string
	Recipient     string
	Template      string
	Status        string
	ProviderID    string
	Error         string
}

type NotificationRepository struct {
	pool *db.Pool
}

func NewNotificationRepository(pool *db.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) Record(ctx context.Context, n Notification) error {
	query, args, err := insertQuery(n)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, args...)
	return err
}

func insertQuery(n Notification) (string, []any, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return dialect.Insert("notifications").Rows(goqu.Record{
		"id":             n.ID,
		"event_id":       n.EventID,
		"appointment_id": nullable(n.AppointmentID),
		"channel":        n.Channel,
		"recipient":      n.Recipient,
		"template":       n.Template,
		"status":         n.Status,
		"provider_id":    nullable(n.ProviderID),
		"error":          nullable(n.Error),
	}).Prepared(true).ToSQL()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
