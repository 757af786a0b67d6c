package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
)

const defaultServiceMinutes = 30

type Catalog interface {
	Create(ctx context.Context, s storage.Service) (string, error)
	List(ctx context.Context) ([]storage.Service, error)
}

type ServiceHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewServiceHandler(catalog Catalog, logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{catalog: catalog, logger: logger}
}

func (h *ServiceHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/services", h.List)
	mux.HandleFunc("POST /api/v1/services", httpx.RequireRole(h.Create, httpx.RoleAdmin))
}

type serviceRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Price           *float64 `json:"price"`
	DurationMinutes *int     `json:"duration_minutes"`
}

func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.List(r.Context())
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if services == nil {
		services = []storage.Service{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Price == nil || *req.Price < 0 || math.IsInf(*req.Price, 0) || math.IsNaN(*req.Price) {
		httpx.WriteError(w, http.StatusBadRequest, "price must be zero or more")
		return
	}
	minutes := defaultServiceMinutes
	if req.DurationMinutes != nil {
		minutes = *req.DurationMinutes
	}
	if minutes <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "duration_minutes must be positive")
		return
	}

	id, err := h.catalog.Create(r.Context(), storage.Service{
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		Price:           strconv.FormatFloat(*req.Price, 'f', 2, 64),
		DurationMinutes: minutes,
	})
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("service created", "service_id", id, "name", req.Name)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"service_id": id})
}
