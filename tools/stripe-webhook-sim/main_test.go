package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestBuildEventVerifiesWithStripe(t *testing.T) {
	now := time.Now()
	payload, err := buildEventJSON("evt_1", "payment_intent.payment_failed", now, "pi_1", 4500, "gbp")
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: now,
		Scheme:    "v1",
	})
	evt, err := webhook.ConstructEvent(payload, signed.Header, "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, "payment_intent.payment_failed", string(evt.Type))

	var pi stripe.PaymentIntent
	require.NoError(t, json.Unmarshal(evt.Data.Raw, &pi))
	assert.Equal(t, "pi_1", pi.ID)
	assert.Equal(t, stripe.PaymentIntentStatusRequiresPaymentMethod, pi.Status)
	require.NotNil(t, pi.LastPaymentError)
	assert.Equal(t, "Your card was declined.", pi.LastPaymentError.Msg)
}

func TestBuildEventRejectsUnknownType(t *testing.T) {
	_, err := buildEventJSON("evt_1", "checkout.session.completed", time.Now(), "pi_1", 1, "gbp")
	assert.Error(t, err)
}
