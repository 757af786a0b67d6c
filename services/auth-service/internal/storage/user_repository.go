package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/pdsa-vet/vetclinic/libs/db"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type User struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Address      string
	Postcode     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// ProfileUpdate holds the editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name     *string
	Phone    *string
	Address  *string
	Postcode *string
}

func (p ProfileUpdate) record() goqu.Record {
	rec := goqu.Record{}
	set := func(col string, v *string) {
		if v != nil {
			rec[col] = strings.TrimSpace(*v)
		}
	}
	set("name", p.Name)
	set("phone", p.Phone)
	set("address", p.Address)
	set("postcode", p.Postcode)
	return rec
}

func (p ProfileUpdate) Empty() bool { return len(p.record()) == 0 }

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id::text, name, email, COALESCE(phone, ''), COALESCE(address, ''), COALESCE(postcode, ''), password_hash, role, created_at`

func (r *UserRepository) Create(ctx context.Context, u User) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id::text
	`, u.Name, u.Email, u.Phone, u.PasswordHash, u.Role).Scan(&id)
	if db.IsUniqueViolation(err) {
		return "", ErrEmailTaken
	}
	return id, err
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address, &u.Postcode, &u.PasswordHash, &u.Role, &u.CreatedAt,
	)
	if db.IsNoRows(err) || db.IsInvalidText(err) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error {
	rec := p.record()
	if len(rec) == 0 {
		return nil
	}
	rec["updated_at"] = goqu.L("now()")
	query, args, err := goqu.Dialect("postgres").
		Update("users").
		Set(rec).
		Where(goqu.C("id").Eq(goqu.L("?::uuid", id))).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1::uuid
	`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account unless the email exists.
func (r *UserRepository) EnsureAdmin(ctx context.Context, name, email, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, $2, $3, 'admin')
		ON CONFLICT DO NOTHING
	`, name, email, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
