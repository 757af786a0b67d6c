package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/booking"
	"github.com/pdsa-vet/vetclinic/services/booking-service/internal/model"
)

// Booking is the service the handlers front.
type Booking interface {
	AvailableSlots(ctx context.Context, date string) ([]string, error)
	Create(ctx context.Context, in booking.CreateInput) (string, error)
	Appointments(ctx context.Context, f model.Filter) ([]model.AppointmentDetails, error)
	Appointment(ctx context.Context, id string) (model.AppointmentDetails, error)
	UpdateStatus(ctx context.Context, id, status string) (bool, error)
}

type AppointmentHandler struct {
	svc    Booking
	logger *slog.Logger
}

func NewAppointmentHandler(svc Booking, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

// Register mounts the booking routes on mux.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/slots", h.Slots)
	mux.HandleFunc("POST /api/v1/appointments", httpx.RequireIdentity(h.Create))
	mux.HandleFunc("GET /api/v1/appointments", httpx.RequireIdentity(h.List))
	mux.HandleFunc("GET /api/v1/appointments/{id}", httpx.RequireIdentity(h.Get))
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/status", httpx.RequireIdentity(h.UpdateStatus))
}

type slotsResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

type createRequest struct {
	UserID    string `json:"user_id"`
	PetID     string `json:"pet_id"`
	ServiceID string `json:"service_id"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
}

type createResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type statusResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Updated       bool   `json:"updated"`
}

type appointmentItem struct {
	AppointmentID string    `json:"appointment_id"`
	UserID        string    `json:"user_id"`
	PetID         string    `json:"pet_id"`
	ServiceID     string    `json:"service_id"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Notes         string    `json:"notes,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	OwnerName     string    `json:"owner_name"`
	OwnerEmail    string    `json:"owner_email"`
	OwnerPhone    string    `json:"owner_phone,omitempty"`
	PetName       string    `json:"pet_name"`
	PetSpecies    string    `json:"pet_species"`
	PetBreed      string    `json:"pet_breed,omitempty"`
	PetAge        int       `json:"pet_age"`
	ServiceName   string    `json:"service_name"`
	ServicePrice  string    `json:"service_price"`
}

func toItem(a model.AppointmentDetails) appointmentItem {
	return appointmentItem{
		AppointmentID: a.ID,
		UserID:        a.UserID,
		PetID:         a.PetID,
		ServiceID:     a.ServiceID,
		Date:          a.Date,
		Time:          a.Time,
		Notes:         a.Notes,
		Status:        a.Status,
		CreatedAt:     a.CreatedAt,
		OwnerName:     a.OwnerName,
		OwnerEmail:    a.OwnerEmail,
		OwnerPhone:    a.OwnerPhone,
		PetName:       a.PetName,
		PetSpecies:    a.PetSpecies,
		PetBreed:      a.PetBreed,
		PetAge:        a.PetAge,
		ServiceName:   a.ServiceName,
		ServicePrice:  a.ServicePrice,
	}
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	slots, err := h.svc.AvailableSlots(r.Context(), date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{Date: date, Slots: slots})
}

// Create books for the caller. Staff may book on behalf of an owner via user_id.
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())

	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := id.UserID
	if req.UserID != "" && req.UserID != id.UserID {
		if !id.IsStaff() {
			httpx.WriteError(w, http.StatusForbidden, "cannot book for another user")
			return
		}
		userID = req.UserID
	}

	apptID, err := h.svc.Create(r.Context(), booking.CreateInput{
		UserID:    userID,
		PetID:     req.PetID,
		ServiceID: req.ServiceID,
		Date:      req.Date,
		Time:      req.Time,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/appointments/"+apptID)
	httpx.WriteJSON(w, http.StatusCreated, createResponse{AppointmentID: apptID, Status: model.StatusPending})
}

// List returns the caller's appointments. Staff see everyone's and may filter by userId.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	q := r.URL.Query()

	f := model.Filter{
		UserID: q.Get("userId"),
		Status: q.Get("status"),
		Date:   q.Get("date"),
	}
	if !id.IsStaff() {
		f.UserID = id.UserID
	}

	list, err := h.svc.Appointments(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]appointmentItem, 0, len(list))
	for _, a := range list {
		items = append(items, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(a))
}

// UpdateStatus lets staff set any status. Owners may only cancel their own appointment.
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	apptID := r.PathValue("id")

	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if !model.IsSettableStatus(req.Status) {
		h.writeServiceError(w, fmt.Errorf("%w: %q", booking.ErrInvalidStatus, req.Status))
		return
	}

	if !id.IsStaff() {
		if _, ok := h.loadVisible(w, r); !ok {
			return
		}
		if req.Status != model.StatusCancelled {
			httpx.WriteError(w, http.StatusForbidden, "owners may only cancel appointments")
			return
		}
	}

	changed, err := h.svc.UpdateStatus(r.Context(), apptID, req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if !changed {
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse{AppointmentID: apptID, Status: req.Status, Updated: true})
}

// loadVisible fetches the path appointment, answering 404 when it does not
// exist or belongs to someone else.
func (h *AppointmentHandler) loadVisible(w http.ResponseWriter, r *http.Request) (model.AppointmentDetails, bool) {
	id, _ := httpx.IdentityFromContext(r.Context())
	a, err := h.svc.Appointment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return model.AppointmentDetails{}, false
	}
	if !id.IsStaff() && a.UserID != id.UserID {
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return model.AppointmentDetails{}, false
	}
	return a, true
}

func (h *AppointmentHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrInvalidStatus):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("booking request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
