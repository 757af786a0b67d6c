package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway charges cards through Stripe PaymentIntents.
type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p IntentParams) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.AmountMinor),
		Currency:           stripe.String(p.Currency),
		PaymentMethod:      stripe.String(p.PaymentMethodID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
		Description:        stripe.String(p.Description),
	}
	if p.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(p.ReceiptEmail)
	}
	params.Context = ctx
	params.AddMetadata("appointment_id", p.AppointmentID)
	params.AddMetadata("user_id", p.UserID)
	params.SetIdempotencyKey(p.IdempotencyKey)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeCard {
			declined := fmt.Errorf("%w: %s", ErrDeclined, serr.Msg)
			if serr.PaymentIntent != nil {
				in := fromStripe(serr.PaymentIntent)
				if in.FailureReason == "" {
					in.FailureReason = serr.Msg
				}
				return in, declined
			}
			return Intent{}, declined
		}
		return Intent{}, err
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string, amountMinor int64) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountMinor),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund:" + intentID)
	r, err := g.api.Refunds.New(params)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// IntentFromStripe maps a Stripe PaymentIntent, as found in webhook payloads.
func IntentFromStripe(pi *stripe.PaymentIntent) Intent {
	return fromStripe(pi)
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	in := Intent{
		ID:          pi.ID,
		Status:      string(pi.Status),
		AmountMinor: pi.Amount,
		Currency:    string(pi.Currency),
	}
	if pi.LastPaymentError != nil {
		in.FailureReason = pi.LastPaymentError.Msg
	}
	return in
}
