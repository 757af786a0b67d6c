package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/pdsa-vet/vetclinic/libs/db"
	"github.com/pdsa-vet/vetclinic/libs/events"
	"github.com/pdsa-vet/vetclinic/libs/outbox"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/payments"
)

const aggregatePayment = "payment"

var dialect = goqu.Dialect("postgres")

type PaymentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPaymentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *PaymentRepository {
	return &PaymentRepository{pool: pool, outbox: outboxRepo}
}

func (r *PaymentRepository) Payable(ctx context.Context, appointmentID string) (payments.Payable, error) {
	var p payments.Payable
	err := r.pool.QueryRow(ctx, `
		SELECT a.id::text, a.user_id::text, a.status, s.price::text, round(s.price * 100)::bigint,
		       u.name, u.email, pt.name, s.name,
		       to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.appointment_time, 'HH24:MI')
		FROM appointments a
		JOIN services s ON s.id = a.service_id
		JOIN users u ON u.id = a.user_id
		JOIN pets pt ON pt.id = a.pet_id
		WHERE a.id = $1::uuid
	`, appointmentID).Scan(&p.AppointmentID, &p.UserID, &p.Status, &p.Price, &p.AmountMinor,
		&p.OwnerName, &p.OwnerEmail, &p.PetName, &p.ServiceName, &p.Date, &p.Time)
	if err != nil {
		return payments.Payable{}, classify(err)
	}
	return p, nil
}

// RecordPayment stores the intent outcome. A replayed intent keeps its
// existing row. A succeeded intent marks the appointment paid and queues
// the payment.succeeded event.
func (r *PaymentRepository) RecordPayment(ctx context.Context, p payments.Payable, in payments.Intent, at time.Time) (payments.Payment, error) {
	var out payments.Payment
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO payments (user_id, appointment_id, amount, amount_minor, currency, payment_intent_id, status, failure_reason)
			VALUES ($1::uuid, $2::uuid, $3::numeric, $4, $5, $6, $7, NULLIF($8, ''))
			ON CONFLICT (payment_intent_id) DO NOTHING
		`, p.UserID, p.AppointmentID, p.Price, p.AmountMinor, payments.Currency, in.ID, in.Status, in.FailureReason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 && in.Status == payments.StatusSucceeded {
			if err := r.markPaid(ctx, tx, in.ID, at); err != nil {
				return err
			}
		}
		out, err = loadPayment(ctx, tx, goqu.I("p.payment_intent_id").Eq(in.ID))
		return err
	})
	if err != nil {
		return payments.Payment{}, classify(err)
	}
	return out, nil
}

// History lists a user's payments newest first.
func (r *PaymentRepository) History(ctx context.Context, userID string) ([]payments.Payment, error) {
	query, args, err := paymentQuery().
		Where(goqu.I("p.user_id").Eq(goqu.L("?::uuid", userID))).
		Order(goqu.I("p.created_at").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build payment history query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *PaymentRepository) ByIntent(ctx context.Context, intentID string) (payments.Payment, error) {
	p, err := loadPayment(ctx, r.pool, goqu.I("p.payment_intent_id").Eq(intentID))
	if err != nil {
		return payments.Payment{}, classify(err)
	}
	return p, nil
}

// RecordRefund moves a succeeded payment to refunded, cancels the
// appointment, stores the refund row and queues payment.refunded.
func (r *PaymentRepository) RecordRefund(ctx context.Context, p payments.Payment, refundID, adminID string, at time.Time) error {
	return classify(r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payments SET status = $2, refunded_at = $3, updated_at = now()
			WHERE id = $1::uuid AND status = $4
		`, p.ID, payments.StatusRefunded, at, payments.StatusSucceeded)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: payment %s is no longer succeeded", payments.ErrNotEligible, p.IntentID)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE appointments SET status = 'cancelled', updated_at = now()
			WHERE id = $1::uuid
		`, p.AppointmentID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO refunds (payment_id, admin_id, amount, currency, refund_id)
			VALUES ($1::uuid, $2::uuid, $3::numeric, $4, $5)
		`, p.ID, adminID, p.Amount, p.Currency, refundID); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(aggregatePayment, p.ID, events.PaymentRefunded, events.PaymentRefundedPayload{
			PaymentID:      p.ID,
			AppointmentID:  p.AppointmentID,
			UserID:         p.UserID,
			OwnerName:      p.OwnerName,
			OwnerEmail:     p.OwnerEmail,
			ServiceName:    p.ServiceName,
			AmountMinor:    p.AmountMinor,
			Currency:       p.Currency,
			ProviderRefund: refundID,
			RefundedBy:     adminID,
			RefundedAt:     at.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	}))
}

func (r *PaymentRepository) ApplyIntent(ctx context.Context, upd payments.IntentUpdate) (bool, error) {
	var changed bool
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		changed, err = r.applyIntent(ctx, tx, upd)
		return err
	})
	if err != nil {
		return false, classify(err)
	}
	return changed, nil
}

// ApplyProviderEvent records evt and applies upd in one transaction. It
// reports false when the event was already recorded.
func (r *PaymentRepository) ApplyProviderEvent(ctx context.Context, evt payments.ProviderEvent, upd *payments.IntentUpdate) (bool, error) {
	if !json.Valid(evt.Payload) {
		return false, errors.New("provider event payload is not valid json")
	}
	var fresh bool
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO provider_events (provider, event_id, event_type, payload)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (provider, event_id) DO NOTHING
		`, evt.Provider, evt.EventID, evt.EventType, string(evt.Payload))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		fresh = true
		if upd == nil {
			return nil
		}
		_, err = r.applyIntent(ctx, tx, *upd)
		return err
	})
	if err != nil {
		return false, classify(err)
	}
	return fresh, nil
}

func (r *PaymentRepository) InFlightIntents(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT payment_intent_id
		FROM payments
		WHERE status = ANY($1)
		ORDER BY updated_at
		LIMIT $2
	`, payments.InFlightStatuses, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// applyIntent moves a non-final payment to upd.Status. Unknown intents and
// final payments are left alone.
func (r *PaymentRepository) applyIntent(ctx context.Context, tx pgx.Tx, upd payments.IntentUpdate) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments SET status = $2, failure_reason = NULLIF($3, ''), updated_at = now()
		WHERE payment_intent_id = $1
		  AND status <> $2
		  AND status NOT IN ('succeeded', 'canceled', 'refunded')
	`, upd.IntentID, upd.Status, upd.FailureReason)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if upd.Status == payments.StatusSucceeded {
		if err := r.markPaid(ctx, tx, upd.IntentID, upd.At); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *PaymentRepository) markPaid(ctx context.Context, tx pgx.Tx, intentID string, at time.Time) error {
	p, err := loadPayment(ctx, tx, goqu.I("p.payment_intent_id").Eq(intentID))
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET status = 'paid', updated_at = now()
		WHERE id = $1::uuid AND status IN ('pending', 'confirmed')
	`, p.AppointmentID); err != nil {
		return err
	}
	evt, err := outbox.NewEvent(aggregatePayment, p.ID, events.PaymentSucceeded, events.PaymentSucceededPayload{
		PaymentID:       p.ID,
		AppointmentID:   p.AppointmentID,
		UserID:          p.UserID,
		OwnerName:       p.OwnerName,
		OwnerEmail:      p.OwnerEmail,
		ServiceName:     p.ServiceName,
		AmountMinor:     p.AmountMinor,
		Currency:        p.Currency,
		ProviderPayment: p.IntentID,
		PaidAt:          at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, evt)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadPayment(ctx context.Context, q querier, where exp.Expression) (payments.Payment, error) {
	query, args, err := paymentQuery().Where(where).ToSQL()
	if err != nil {
		return payments.Payment{}, fmt.Errorf("build payment query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return payments.Payment{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanPayment)
}

func paymentQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("payments").As("p")).
		Join(goqu.T("appointments").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("p.appointment_id")))).
		Join(goqu.T("services").As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("a.service_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("p.user_id")))).
		Select(
			goqu.L("p.id::text"),
			goqu.L("p.user_id::text"),
			goqu.L("p.appointment_id::text"),
			goqu.L("p.amount::text"),
			goqu.I("p.amount_minor"),
			goqu.I("p.currency"),
			goqu.I("p.payment_intent_id"),
			goqu.I("p.status"),
			goqu.L("COALESCE(p.failure_reason, '')"),
			goqu.I("p.created_at"),
			goqu.I("p.refunded_at"),
			goqu.L("to_char(a.appointment_date, 'YYYY-MM-DD')"),
			goqu.L("to_char(a.appointment_time, 'HH24:MI')"),
			goqu.I("s.name"),
			goqu.I("u.name"),
			goqu.I("u.email"),
		).
		Prepared(true)
}

func scanPayment(row pgx.CollectableRow) (payments.Payment, error) {
	var p payments.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.AppointmentID, &p.Amount, &p.AmountMinor, &p.Currency,
		&p.IntentID, &p.Status, &p.FailureReason, &p.CreatedAt, &p.RefundedAt,
		&p.AppointmentDate, &p.AppointmentTime, &p.ServiceName, &p.OwnerName, &p.OwnerEmail)
	return p, err
}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err), db.IsInvalidText(err):
		return fmt.Errorf("%w: %v", payments.ErrNotFound, err)
	}
	return err
}
