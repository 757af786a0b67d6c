package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/dashboard"
)

type Dashboard interface {
	Dashboard(ctx context.Context) (dashboard.Stats, error)
}

type DashboardHandler struct {
	svc    Dashboard
	logger *slog.Logger
}

func NewDashboardHandler(svc Dashboard, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{svc: svc, logger: logger}
}

func (h *DashboardHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics/dashboard", httpx.RequireRole(h.Get, httpx.RoleAdmin))
}

func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, st)
}
