package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/analytics-service/internal/dashboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDashboard struct {
	st  dashboard.Stats
	err error
}

func (s stubDashboard) Dashboard(context.Context) (dashboard.Stats, error) { return s.st, s.err }

func serve(svc Dashboard, role string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewDashboardHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/dashboard", nil)
	if role != "" {
		req.Header.Set(httpx.UserIDHeader, "u1")
		req.Header.Set(httpx.RoleHeader, role)
	}
	rr := httptest.NewRecorder()
	httpx.WithIdentity(mux).ServeHTTP(rr, req)
	return rr
}

func TestDashboardAdminOnly(t *testing.T) {
	svc := stubDashboard{st: dashboard.Stats{Date: "2030-01-01", TodayAppointments: 4, TodayRevenue: "120.00"}}

	assert.Equal(t, http.StatusUnauthorized, serve(svc, "").Code)
	assert.Equal(t, http.StatusForbidden, serve(svc, httpx.RoleUser).Code)
	assert.Equal(t, http.StatusForbidden, serve(svc, httpx.RoleVet).Code)

	rr := serve(svc, httpx.RoleAdmin)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, float64(4), body["today_appointments"])
	assert.Equal(t, "120.00", body["today_revenue"])
}

func TestDashboardError(t *testing.T) {
	rr := serve(stubDashboard{err: errors.New("db down")}, httpx.RoleAdmin)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "db down")
}
