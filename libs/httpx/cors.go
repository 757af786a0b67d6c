package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy configures browser access to the clinic API. An origin entry
// may be exact ("https://clinic.example"), a subdomain wildcard
// ("https://*.clinic.example") or "*".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSPolicy covers the clinic's web booking client.
func DefaultCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", RequestIDHeader},
		MaxAge:         10 * time.Minute,
	}
}

type corsMatcher struct {
	any      bool
	exact    map[string]bool
	suffixes []originSuffix
}

type originSuffix struct {
	scheme string
	domain string
}

func newCORSMatcher(origins []string) corsMatcher {
	m := corsMatcher{exact: map[string]bool{}}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		switch {
		case o == "":
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, rest, _ := strings.Cut(o, "://*")
			m.suffixes = append(m.suffixes, originSuffix{scheme: scheme + "://", domain: rest})
		default:
			m.exact[o] = true
		}
	}
	return m
}

func (m corsMatcher) empty() bool {
	return !m.any && len(m.exact) == 0 && len(m.suffixes) == 0
}

func (m corsMatcher) allows(origin string) bool {
	origin = strings.ToLower(origin)
	if m.any || m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		host, ok := strings.CutPrefix(origin, s.scheme)
		if ok && len(host) > len(s.domain) && strings.HasSuffix(host, s.domain) {
			return true
		}
	}
	return false
}

// WithCORS answers preflights and tags responses for allowed origins. A
// preflight from any other origin is refused with 403; plain requests from
// them pass through untagged. An empty origin list disables the middleware.
func WithCORS(cfg CORSPolicy) Middleware {
	match := newCORSMatcher(cfg.AllowedOrigins)
	if match.empty() {
		return func(next http.Handler) http.Handler { return next }
	}

	static := http.Header{}
	static.Set("Access-Control-Expose-Headers", RequestIDHeader)
	if cfg.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}
	preflight := http.Header{}
	if v := joinNonEmpty(cfg.AllowedMethods); v != "" {
		preflight.Set("Access-Control-Allow-Methods", v)
	}
	if v := joinNonEmpty(cfg.AllowedHeaders); v != "" {
		preflight.Set("Access-Control-Allow-Headers", v)
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		preflight.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")
			if !match.allows(origin) {
				if isPreflight {
					WriteError(w, http.StatusForbidden, "origin not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin := origin
			if match.any && !cfg.AllowCredentials {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			copyHeaders(w.Header(), static)
			if isPreflight {
				copyHeaders(w.Header(), preflight)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinNonEmpty(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}

func copyHeaders(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}
