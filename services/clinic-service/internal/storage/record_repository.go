package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

const (
	PrescriptionActive    = "active"
	PrescriptionCompleted = "completed"
	PrescriptionCancelled = "cancelled"
)

func IsPrescriptionStatus(s string) bool {
	switch s {
	case PrescriptionActive, PrescriptionCompleted, PrescriptionCancelled:
		return true
	}
	return false
}

type MedicalRecord struct {
	ID           string    `db:"id" json:"id"`
	PetID        string    `db:"pet_id" json:"pet_id"`
	VetID        string    `db:"vet_id" json:"vet_id"`
	VetName      string    `db:"vet_name" json:"vet_name"`
	Diagnosis    string    `db:"diagnosis" json:"diagnosis"`
	Treatment    string    `db:"treatment" json:"treatment"`
	Prescription string    `db:"prescription" json:"prescription,omitempty"`
	Notes        string    `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Prescription struct {
	ID         string    `db:"id" json:"id"`
	PetID      string    `db:"pet_id" json:"pet_id"`
	VetID      string    `db:"vet_id" json:"vet_id"`
	VetName    string    `db:"vet_name" json:"vet_name"`
	Medication string    `db:"medication" json:"medication"`
	Dosage     string    `db:"dosage" json:"dosage"`
	Frequency  string    `db:"frequency" json:"frequency"`
	Duration   string    `db:"duration" json:"duration"`
	Notes      string    `db:"notes" json:"notes,omitempty"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type RecordRepository struct {
	pool *db.Pool
}

func NewRecordRepository(pool *db.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func (r *RecordRepository) AddMedicalRecord(ctx context.Context, m MedicalRecord) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO medical_records (pet_id, vet_id, diagnosis, treatment, prescription, notes)
		VALUES ($1::uuid, $2::uuid, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		RETURNING id::text
	`, m.PetID, m.VetID, m.Diagnosis, m.Treatment, m.Prescription, m.Notes).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// MedicalRecords lists a pet's records newest first.
func (r *RecordRepository) MedicalRecords(ctx context.Context, petID string) ([]MedicalRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT mr.id::text AS id, mr.pet_id::text AS pet_id, mr.vet_id::text AS vet_id,
		       u.name AS vet_name, mr.diagnosis, mr.treatment,
		       COALESCE(mr.prescription, '') AS prescription, COALESCE(mr.notes, '') AS notes,
		       mr.created_at
		FROM medical_records mr
		JOIN users u ON u.id = mr.vet_id
		WHERE mr.pet_id = $1::uuid
		ORDER BY mr.created_at DESC
	`, petID)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[MedicalRecord])
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *RecordRepository) AddPrescription(ctx context.Context, p Prescription) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO prescriptions (pet_id, vet_id, medication, dosage, frequency, duration, notes, status)
		VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING id::text
	`, p.PetID, p.VetID, p.Medication, p.Dosage, p.Frequency, p.Duration, p.Notes, PrescriptionActive).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// Prescriptions lists a pet's prescriptions newest first, optionally only those in status.
func (r *RecordRepository) Prescriptions(ctx context.Context, petID, status string) ([]Prescription, error) {
	query, args, err := prescriptionQuery(petID, status)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Prescription])
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// SetPrescriptionStatus updates a prescription that belongs to petID.
func (r *RecordRepository) SetPrescriptionStatus(ctx context.Context, petID, id, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE prescriptions SET status = $3
		WHERE id = $2::uuid AND pet_id = $1::uuid
	`, petID, id, status)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func prescriptionQuery(petID, status string) (string, []any, error) {
	q := dialect.From(goqu.T("prescriptions").As("p")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("p.vet_id")))).
		Select(
			goqu.L("p.id::text").As("id"),
			goqu.L("p.pet_id::text").As("pet_id"),
			goqu.L("p.vet_id::text").As("vet_id"),
			goqu.I("u.name").As("vet_name"),
			goqu.I("p.medication"),
			goqu.I("p.dosage"),
			goqu.I("p.frequency"),
			goqu.I("p.duration"),
			goqu.L("COALESCE(p.notes, '')").As("notes"),
			goqu.I("p.status"),
			goqu.I("p.created_at"),
		).
		Where(goqu.I("p.pet_id").Eq(goqu.L("?::uuid", petID))).
		Order(goqu.I("p.created_at").Desc()).
		Prepared(true)
	if status != "" {
		q = q.Where(goqu.I("p.status").Eq(status))
	}
	query, args, err := q.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build prescription query: %w", err)
	}
	return query, args, nil
}
