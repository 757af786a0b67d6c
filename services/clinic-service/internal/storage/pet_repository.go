package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPetInUse means the pet still has pending or confirmed appointments,
	// or appointment history that references it.
	ErrPetInUse     = errors.New("pet has appointments")
	ErrServiceTaken = errors.New("service name already exists")
	ErrMalformedID  = errors.New("malformed identifier")
)

var dialect = goqu.Dialect("postgres")

type Pet struct {
	ID             string    `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Name           string    `db:"name" json:"name"`
	Species        string    `db:"species" json:"species"`
	Breed          string    `db:"breed" json:"breed"`
	Age            int       `db:"age" json:"age"`
	Weight         *float64  `db:"weight" json:"weight,omitempty"`
	MedicalHistory string    `db:"medical_history" json:"medical_history,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PetPatch carries the editable pet fields. Nil fields are left untouched.
type PetPatch struct {
	Name           *string
	Species        *string
	Breed          *string
	Age            *int
	Weight         *float64
	MedicalHistory *string
}

func (p PetPatch) record() goqu.Record {
	rec := goqu.Record{}
	if p.Name != nil {
		rec["name"] = *p.Name
	}
	if p.Species != nil {
		rec["species"] = *p.Species
	}
	if p.Breed != nil {
		rec["breed"] = *p.Breed
	}
	if p.Age != nil {
		rec["age"] = *p.Age
	}
	if p.Weight != nil {
		rec["weight"] = *p.Weight
	}
	if p.MedicalHistory != nil {
		rec["medical_history"] = *p.MedicalHistory
	}
	return rec
}

func (p PetPatch) Empty() bool {
	return len(p.record()) == 0
}

type PetRepository struct {
	pool *db.Pool
}

func NewPetRepository(pool *db.Pool) *PetRepository {
	return &PetRepository{pool: pool}
}

func (r *PetRepository) Create(ctx context.Context, p Pet) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pets (user_id, name, species, breed, age, weight, medical_history)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id::text
	`, p.UserID, p.Name, p.Species, p.Breed, p.Age, p.Weight, p.MedicalHistory).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// List returns the pets of userID ordered by name, or every pet when userID is empty.
func (r *PetRepository) List(ctx context.Context, userID string) ([]Pet, error) {
	q := petSelect().Order(goqu.I("name").Asc(), goqu.I("created_at").Asc())
	if userID != "" {
		q = q.Where(goqu.I("user_id").Eq(goqu.L("?::uuid", userID)))
	}
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build pet query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	pets, err := pgx.CollectRows(rows, pgx.RowToStructByName[Pet])
	if err != nil {
		return nil, classify(err)
	}
	return pets, nil
}

func (r *PetRepository) Get(ctx context.Context, id string) (Pet, error) {
	query, args, err := petSelect().Where(goqu.I("id").Eq(goqu.L("?::uuid", id))).ToSQL()
	if err != nil {
		return Pet{}, fmt.Errorf("build pet query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Pet{}, classify(err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Pet])
	if err != nil {
		return Pet{}, classify(err)
	}
	return p, nil
}

func (r *PetRepository) Update(ctx context.Context, id string, patch PetPatch) error {
	rec := patch.record()
	if len(rec) == 0 {
		return nil
	}
	rec["updated_at"] = goqu.L("now()")
	query, args, err := dialect.Update("pets").
		Set(rec).
		Where(goqu.I("id").Eq(goqu.L("?::uuid", id))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build pet update: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the pet unless an active appointment references it. The pet
// row is locked first so a concurrent booking cannot slip in between the check
// and the delete.
func (r *PetRepository) Delete(ctx context.Context, id string) error {
	return classify(r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM pets WHERE id = $1::uuid FOR UPDATE`, id).Scan(&locked); err != nil {
			return err
		}
		var active bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE pet_id = $1::uuid AND status IN ('pending', 'confirmed')
			)
		`, id).Scan(&active); err != nil {
			return err
		}
		if active {
			return ErrPetInUse
		}
		_, err := tx.Exec(ctx, `DELETE FROM pets WHERE id = $1::uuid`, id)
		return err
	}))
}

func petSelect() *goqu.SelectDataset {
	return dialect.From("pets").
		Select(
			goqu.L("id::text").As("id"),
			goqu.L("user_id::text").As("user_id"),
			goqu.I("name"),
			goqu.I("species"),
			goqu.L("COALESCE(breed, '')").As("breed"),
			goqu.I("age"),
			goqu.L("weight::float8").As("weight"),
			goqu.L("COALESCE(medical_history, '')").As("medical_history"),
			goqu.I("created_at"),
			goqu.I("updated_at"),
		).
		Prepared(true)
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPetInUse), errors.Is(err, ErrNotFound):
		return err
	case db.IsNoRows(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case db.IsInvalidText(err):
		return fmt.Errorf("%w: %v", ErrMalformedID, err)
	case db.IsForeignKeyViolation(err) && db.ConstraintName(err) == "appointments_pet_id_fkey":
		return fmt.Errorf("%w: %v", ErrPetInUse, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case db.IsUniqueViolation(err) && db.ConstraintName(err) == "services_name_key":
		return fmt.Errorf("%w: %v", ErrServiceTaken, err)
	}
	return err
}
