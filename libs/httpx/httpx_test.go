package httpx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected propagated id, got ctx=%q header=%q", seen, rr.Header().Get(RequestIDHeader))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}

func TestWithIdentityAndRequireRole(t *testing.T) {
	h := WithIdentity(RequireRole(okHandler, RoleAdmin, RoleVet))

	cases := []struct {
		name   string
		user   string
		role   string
		status int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"owner", "u1", RoleUser, http.StatusForbidden},
		{"missing role defaults to user", "u1", "", http.StatusForbidden},
		{"vet", "u2", RoleVet, http.StatusOK},
		{"admin", "u3", RoleAdmin, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.user != "" {
			req.Header.Set(UserIDHeader, tc.user)
		}
		if tc.role != "" {
			req.Header.Set(RoleHeader, tc.role)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
	}
}

func TestDecodeJSONRejectsUnknownAndTrailing(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	for _, raw := range []string{`{"name":"a","x":1}`, `{"name":"a"}{}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		var b body
		if err := DecodeJSON(req, &b); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"rex"}`))
	var b body
	if err := DecodeJSON(req, &b); err != nil || b.Name != "rex" {
		t.Fatalf("unexpected result %+v err=%v", b, err)
	}
}

func TestWithRecoverReturnsJSON500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := WithRecover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error"`) {
		t.Fatalf("expected json error body, got %q", rr.Body.String())
	}
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), WithRequestID, WithAccessLog(logger))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pets", nil))
	if !strings.Contains(buf.String(), `"status":418`) || !strings.Contains(buf.String(), `"path":"/pets"`) {
		t.Fatalf("unexpected log line %s", buf.String())
	}
}

func TestMemoryLimiterWindow(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	now := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(context.Background(), "k"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := l.Allow(context.Background(), "k"); ok {
		t.Fatalf("third request should be limited")
	}
	if ok, _ := l.Allow(context.Background(), "other"); !ok {
		t.Fatalf("other keys have their own bucket")
	}
	now = now.Add(time.Minute + time.Second)
	if ok, _ := l.Allow(context.Background(), "k"); !ok {
		t.Fatalf("window should have reset")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitFailOpenAndClosed(t *testing.T) {
	open := WithRateLimit(failingLimiter{}, nil, true)(http.HandlerFunc(okHandler))
	rr := httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("fail-open expected 200, got %d", rr.Code)
	}

	closed := WithRateLimit(failingLimiter{}, nil, false)(http.HandlerFunc(okHandler))
	rr = httptest.NewRecorder()
	closed.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("fail-closed expected 503, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(DefaultCORSPolicy([]string{"https://clinic.example"}))(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/appointments", nil)
	req.Header.Set("Origin", "https://clinic.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://clinic.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Fatalf("unexpected max-age %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected CORS handling for foreign origin: %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight expected 403, got %d", rr.Code)
	}
}

func TestCORSOriginPatterns(t *testing.T) {
	h := WithCORS(CORSPolicy{AllowedOrigins: []string{"https://*.pdsa-vet.org", "http://localhost:5173/"}})(http.HandlerFunc(okHandler))
	cases := map[string]bool{
		"https://book.pdsa-vet.org": true,
		"https://BOOK.pdsa-vet.org": true,
		"https://pdsa-vet.org":      false,
		"http://book.pdsa-vet.org":  false,
		"https://evilpdsa-vet.org":  false,
		"http://localhost:5173":     true,
		"http://localhost:5174":     false,
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		got := rr.Header().Get("Access-Control-Allow-Origin") != ""
		if got != want {
			t.Errorf("origin %s: allowed=%v want %v", origin, got, want)
		}
		if got && rr.Header().Get("Access-Control-Expose-Headers") != RequestIDHeader {
			t.Errorf("origin %s: request id header not exposed", origin)
		}
	}
}

func TestCORSWildcard(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example")

	rr := httptest.NewRecorder()
	WithCORS(CORSPolicy{AllowedOrigins: []string{"*"}})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}

	rr = httptest.NewRecorder()
	WithCORS(CORSPolicy{AllowedOrigins: []string{"*"}, AllowCredentials: true})(http.HandlerFunc(okHandler)).ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example" {
		t.Fatalf("credentialed wildcard must echo the origin, got %q", got)
	}
}
