package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/billing-service/internal/payments"
)

// Billing is the payment service the handlers front.
type Billing interface {
	Pay(ctx context.Context, in payments.PayInput) (payments.Payment, error)
	History(ctx context.Context, userID string) ([]payments.Payment, error)
	Refund(ctx context.Context, intentID, adminID string) (payments.RefundResult, error)
	HandleProviderEvent(ctx context.Context, evt payments.ProviderEvent, upd *payments.IntentUpdate) (bool, error)
}

type Config struct {
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	svc    Billing
	logger *slog.Logger

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(svc Billing, logger *slog.Logger, cfg Config) *Handler {
	tol := cfg.StripeWebhookTolerance
	if tol <= 0 {
		tol = 5 * time.Minute
	}
	return &Handler{
		svc:                    svc,
		logger:                 logger,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: tol,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/payments", httpx.RequireIdentity(h.Pay))
	mux.HandleFunc("GET /api/v1/payments", httpx.RequireIdentity(h.History))
	mux.HandleFunc("POST /api/v1/payments/{intentId}/refund", httpx.RequireRole(h.Refund, httpx.RoleAdmin))
	mux.HandleFunc("POST /api/v1/payments/webhooks/stripe", h.StripeWebhook)
}

type payRequest struct {
	AppointmentID   string `json:"appointment_id"`
	PaymentMethodID string `json:"payment_method_id"`
}

type payResponse struct {
	PaymentID     string `json:"payment_id"`
	IntentID      string `json:"payment_intent_id"`
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.svc.Pay(r.Context(), payments.PayInput{
		UserID:          id.UserID,
		AppointmentID:   req.AppointmentID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if errors.Is(err, payments.ErrDeclined) {
		h.logger.Info("payment declined", "appointment_id", req.AppointmentID, "user_id", id.UserID, "err", err)
		httpx.WriteJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":  "payment declined",
			"detail": p.FailureReason,
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	code := http.StatusCreated
	if p.Status != payments.StatusSucceeded {
		code = http.StatusAccepted
	}
	httpx.WriteJSON(w, code, payResponse{
		PaymentID:     p.ID,
		IntentID:      p.IntentID,
		AppointmentID: p.AppointmentID,
		Status:        p.Status,
		Amount:        p.Amount,
		AmountMinor:   p.AmountMinor,
		Currency:      p.Currency,
		FailureReason: p.FailureReason,
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	list, err := h.svc.History(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []payments.Payment{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payments": list})
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	admin, _ := httpx.IdentityFromContext(r.Context())
	res, err := h.svc.Refund(r.Context(), r.PathValue("intentId"), admin.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payments.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "appointment or payment not found")
	case errors.Is(err, payments.ErrNotEligible):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payments.ErrProvider):
		h.logger.Error("payment provider failed", "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "payment provider unavailable")
	default:
		h.logger.Error("billing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
