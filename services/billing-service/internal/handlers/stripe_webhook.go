package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe webhooks. There is no identity here; the
// signature is the authentication, so the gateway exposes this path publicly.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	var upd *payments.IntentUpdate
	switch evtType {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil || pi.ID == "" {
			h.logger.Error("stripe: invalid payment intent payload", "provider_event_id", evt.ID, "err", err)
			httpx.WriteError(w, http.StatusBadRequest, "invalid payment intent payload")
			return
		}
		in := payments.IntentFromStripe(&pi)
		upd = &payments.IntentUpdate{IntentID: in.ID, Status: in.Status, FailureReason: in.FailureReason, At: occurredAt}
	}

	applied, err := h.svc.HandleProviderEvent(r.Context(), payments.ProviderEvent{
		Provider:  "stripe",
		EventID:   evt.ID,
		EventType: evtType,
		Payload:   body,
	}, upd)
	if err != nil {
		h.logger.Error("stripe: apply event failed", "provider_event_id", evt.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to apply event")
		return
	}
	if !applied {
		h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
