package main

import (
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/pdsa-vet/vetclinic/libs/auth"
	"github.com/pdsa-vet/vetclinic/libs/config"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

//go:embed assets/gateway.v1.yaml
var openAPISpec embed.FS

type upstreams struct {
	Auth      *url.URL
	Clinic    *url.URL
	Booking   *url.URL
	Billing   *url.URL
	Analytics *url.URL
}

func upstreamsFromEnv() (upstreams, error) {
	var up upstreams
	for _, u := range []struct {
		dst      **url.URL
		key, def string
	}{
		{&up.Auth, "AUTH_URL", "http://auth-service:8081"},
		{&up.Clinic, "CLINIC_URL", "http://clinic-service:8082"},
		{&up.Booking, "BOOKING_URL", "http://booking-service:8083"},
		{&up.Billing, "BILLING_URL", "http://billing-service:8084"},
		{&up.Analytics, "ANALYTICS_URL", "http://analytics-service:8086"},
	} {
		parsed, err := url.Parse(config.String(u.key, u.def))
		if err != nil || parsed.Host == "" {
			return upstreams{}, fmt.Errorf("%s: invalid url", u.key)
		}
		*u.dst = parsed
	}
	return up, nil
}

func registerRoutes(mux *http.ServeMux, up upstreams, signer *auth.Signer, logger *slog.Logger) {
	authProxy := newProxy(up.Auth, logger)
	clinicProxy := newProxy(up.Clinic, logger)
	bookingProxy := newProxy(up.Booking, logger)
	billingProxy := newProxy(up.Billing, logger)
	analyticsProxy := newProxy(up.Analytics, logger)

	authed := func(h http.Handler) http.Handler { return requireAuth(h, signer) }
	admin := func(h http.Handler) http.Handler { return requireAuth(requireRole(h, httpx.RoleAdmin), signer) }

	mux.Handle("POST /api/v1/auth/register", authProxy)
	mux.Handle("POST /api/v1/auth/login", authProxy)
	mux.Handle("POST /api/v1/auth/staff", admin(authProxy))
	mux.Handle("/api/v1/auth/", authed(authProxy))

	mux.Handle("GET /api/v1/slots", bookingProxy)
	mux.Handle("/api/v1/appointments", authed(bookingProxy))
	mux.Handle("/api/v1/appointments/", authed(bookingProxy))

	mux.Handle("GET /api/v1/services", clinicProxy)
	mux.Handle("/api/v1/services", admin(clinicProxy))
	mux.Handle("/api/v1/pets", authed(clinicProxy))
	mux.Handle("/api/v1/pets/", authed(clinicProxy))

	// Stripe cannot send a JWT; the signature check in billing is the auth.
	mux.Handle("POST /api/v1/payments/webhooks/stripe", billingProxy)
	mux.Handle("POST /api/v1/payments/{intentId}/refund", admin(billingProxy))
	mux.Handle("/api/v1/payments", authed(billingProxy))
	mux.Handle("/api/v1/payments/", authed(billingProxy))

	mux.Handle("/api/v1/analytics/", admin(analyticsProxy))

	mux.HandleFunc("GET /openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := openAPISpec.ReadFile("assets/gateway.v1.yaml")
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "openapi not available")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}

func newProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = otelhttp.NewTransport(http.DefaultTransport)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream error", "err", err, "upstream", target.Host, "path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusBadGateway, "upstream unavailable")
	}
	return p
}

// stripIdentityHeaders drops client supplied identity so that only
// requireAuth can set it.
func stripIdentityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(httpx.UserIDHeader)
		r.Header.Del(httpx.RoleHeader)
		next.ServeHTTP(w, r)
	})
}

func requireAuth(next http.Handler, signer *auth.Signer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		claims, err := signer.Verify(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		r.Header.Set(httpx.UserIDHeader, claims.Subject)
		r.Header.Set(httpx.RoleHeader, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(httpx.RoleHeader)]; !ok {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
