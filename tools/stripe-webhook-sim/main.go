// Command stripe-webhook-sim posts a signed PaymentIntent event to the
// gateway so the billing webhook can be exercised without Stripe.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookPath = "/api/v1/payments/webhooks/stripe"

// intentStatus maps each supported event type to the intent status Stripe
// reports with it.
var intentStatus = map[string]stripe.PaymentIntentStatus{
	"payment_intent.succeeded":      stripe.PaymentIntentStatusSucceeded,
	"payment_intent.payment_failed": stripe.PaymentIntentStatusRequiresPaymentMethod,
	"payment_intent.canceled":       stripe.PaymentIntentStatusCanceled,
	"payment_intent.processing":     stripe.PaymentIntentStatusProcessing,
}

func main() {
	_ = config.LoadDotEnv()
	var (
		baseURL  = flag.String("base-url", config.String("BASE_URL", "http://localhost:8080"), "gateway base url")
		evtType  = flag.String("type", config.String("STRIPE_EVENT_TYPE", "payment_intent.succeeded"), "stripe event type")
		intentID = flag.String("intent", config.String("PAYMENT_INTENT_ID", ""), "payment intent id (pi_...)")
		amount   = flag.Int64("amount", int64(config.Int("AMOUNT_MINOR", 4500)), "amount in minor units")
		currency = flag.String("currency", config.String("CURRENCY", "gbp"), "currency")
		secret   = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*intentID) == "" {
		fatal("PAYMENT_INTENT_ID is required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())
	payload, err := buildEventJSON(eventID, *evtType, now, *intentID, *amount, *currency)
	if err != nil {
		fatal(err.Error())
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+webhookPath, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	fmt.Printf("event=%s status=%d body=%s\n", eventID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, intentID string, amount int64, currency string) ([]byte, error) {
	status, ok := intentStatus[eventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	intent := map[string]any{
		"id":       intentID,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": currency,
		"status":   status,
	}
	if eventType == "payment_intent.payment_failed" {
		intent["last_payment_error"] = map[string]any{
			"type":    "card_error",
			"code":    "card_declined",
			"message": "Your card was declined.",
		}
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": intent},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
