package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

// Service is a bookable treatment in the clinic catalog. Price is the
// decimal amount in pounds, rendered by Postgres ("45.00").
type Service struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Description     string    `db:"description" json:"description,omitempty"`
	Price           string    `db:"price" json:"price"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type ServiceRepository struct {
	pool *db.Pool
}

func NewServiceRepository(pool *db.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

func (r *ServiceRepository) Create(ctx context.Context, s Service) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (name, description, price, duration_minutes)
		VALUES ($1, NULLIF($2, ''), $3::numeric, $4)
		RETURNING id::text
	`, s.Name, s.Description, s.Price, s.DurationMinutes).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

func (r *ServiceRepository) List(ctx context.Context) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text AS id, name, COALESCE(description, '') AS description,
		       price::text AS price, duration_minutes, created_at
		FROM services
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Service])
}
