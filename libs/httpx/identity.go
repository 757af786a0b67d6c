package httpx

import (
	"context"
	"net/http"
	"strings"
)

// Headers set by the gateway after it verifies the bearer token.
const (
	UserIDHeader = "X-User-Id"
	RoleHeader   = "X-Role"
)

const (
	RoleUser  = "user"
	RoleVet   = "vet"
	RoleAdmin = "admin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsZero() bool { return i.UserID == "" }

// IsStaff reports whether the caller works at the clinic.
func (i Identity) IsStaff() bool { return i.Role == RoleAdmin || i.Role == RoleVet }

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok && !id.IsZero()
}

// WithIdentity copies the gateway identity headers into the request context.
// Requests without them pass through anonymous.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		role := strings.TrimSpace(r.Header.Get(RoleHeader))
		if role == "" {
			role = RoleUser
		}
		ctx := ContextWithIdentity(r.Context(), Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity rejects anonymous requests with 401.
func RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

// RequireRole rejects callers whose role is not listed with 403.
func RequireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return RequireIdentity(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		if _, ok := allowed[id.Role]; !ok {
			WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}
