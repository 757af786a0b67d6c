package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/auth"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/auth-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass1234"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := normalizeEmail(" Ada@Example.COM ")
	if err != nil || got != "ada@example.com" {
		t.Fatalf("unexpected %q %v", got, err)
	}
	for _, bad := range []string{"", "ada", "ada@", "Ada <ada@example.com>", "ada@localhost"} {
		if _, err := normalizeEmail(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

type memUsers struct {
	mu    sync.Mutex
	seq   int
	users map[string]storage.User
}

func (m *memUsers) Create(_ context.Context, u storage.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return "", storage.ErrEmailTaken
		}
	}
	m.seq++
	u.ID = fmt.Sprintf("user-%d", m.seq)
	m.users[u.ID] = u
	return u.ID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id string, p storage.ProfileUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.Postcode != nil {
		u.Postcode = *p.Postcode
	}
	m.users[id] = u
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func newTestServer(t *testing.T) (http.Handler, *auth.Signer, *memUsers) {
	t.Helper()
	signer, err := auth.NewSigner("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	users := &memUsers{users: map[string]storage.User{}}
	h, err := NewAuthHandler(users, signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewAuthHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return httpx.WithIdentity(mux), signer, users
}

func call(h http.Handler, method, path, body, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(httpx.UserIDHeader, userID)
		req.Header.Set(httpx.RoleHeader, role)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRegisterLoginFlow(t *testing.T) {
	h, signer, _ := newTestServer(t)

	rr := call(h, http.MethodPost, "/api/v1/auth/register",
		`{"name":"Ada","email":"Ada@Example.com","phone":"0123","password":"correct-horse"}`, "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = call(h, http.MethodPost, "/api/v1/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"correct-horse"}`, "", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rr.Code)
	}

	rr = call(h, http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"correct-horse"}`, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rr.Code)
	}
	var tok tokenResponse
	if err := json.NewDecoder(rr.Body).Decode(&tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := signer.Verify(tok.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.Role != httpx.RoleUser || claims.Email != "ada@example.com" || claims.Subject != tok.UserID {
		t.Fatalf("unexpected claims %+v", claims)
	}

	for _, body := range []string{
		`{"email":"ada@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"correct-horse"}`,
	} {
		if rr := call(h, http.MethodPost, "/api/v1/auth/login", body, "", ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("bad login: expected 401, got %d", rr.Code)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	h, _, _ := newTestServer(t)
	for _, body := range []string{
		`{"name":"Ada","email":"not-an-email","password":"correct-horse"}`,
		`{"name":"Ada","email":"ada@example.com","password":"short"}`,
		`{"name":"","email":"ada@example.com","password":"correct-horse"}`,
		`{"name":"Ada","email":"ada@example.com","password":"correct-horse","role":"admin"}`,
	} {
		if rr := call(h, http.MethodPost, "/api/v1/auth/register", body, "", ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestProfileAndPassword(t *testing.T) {
	h, _, users := newTestServer(t)
	hash, _ := hashPassword("correct-horse")
	id, _ := users.Create(context.Background(), storage.User{Name: "Ada", Email: "ada@example.com", PasswordHash: hash, Role: httpx.RoleUser})

	rr := call(h, http.MethodPatch, "/api/v1/auth/me", `{"postcode":"SW1A 1AA","phone":"07000"}`, id, httpx.RoleUser)
	if rr.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var me meResponse
	_ = json.NewDecoder(rr.Body).Decode(&me)
	if me.Postcode != "SW1A 1AA" || me.Phone != "07000" || me.Name != "Ada" {
		t.Fatalf("unexpected profile %+v", me)
	}

	if rr := call(h, http.MethodPatch, "/api/v1/auth/me", `{"email":"x@example.com"}`, id, httpx.RoleUser); rr.Code != http.StatusBadRequest {
		t.Fatalf("email is not editable: expected 400, got %d", rr.Code)
	}

	if rr := call(h, http.MethodPost, "/api/v1/auth/password", `{"current_password":"nope-nope","new_password":"battery-staple"}`, id, httpx.RoleUser); rr.Code != http.StatusForbidden {
		t.Fatalf("wrong current password: expected 403, got %d", rr.Code)
	}
	if rr := call(h, http.MethodPost, "/api/v1/auth/password", `{"current_password":"correct-horse","new_password":"battery-staple"}`, id, httpx.RoleUser); rr.Code != http.StatusNoContent {
		t.Fatalf("change password: expected 204, got %d", rr.Code)
	}
	if rr := call(h, http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"battery-staple"}`, "", ""); rr.Code != http.StatusOK {
		t.Fatalf("login with new password: expected 200, got %d", rr.Code)
	}
}

func TestCreateStaffRequiresAdmin(t *testing.T) {
	h, _, _ := newTestServer(t)
	body := `{"name":"Dr Vet","email":"vet@example.com","password":"correct-horse","role":"vet"}`

	if rr := call(h, http.MethodPost, "/api/v1/auth/staff", body, "u1", httpx.RoleUser); rr.Code != http.StatusForbidden {
		t.Fatalf("user: expected 403, got %d", rr.Code)
	}
	if rr := call(h, http.MethodPost, "/api/v1/auth/staff", body, "admin-1", httpx.RoleAdmin); rr.Code != http.StatusCreated {
		t.Fatalf("admin: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	bad := `{"name":"X","email":"x@example.com","password":"correct-horse","role":"owner"}`
	if rr := call(h, http.MethodPost, "/api/v1/auth/staff", bad, "admin-1", httpx.RoleAdmin); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad role: expected 400, got %d", rr.Code)
	}
}

type seederFunc func(ctx context.Context, name, email, hash string) (bool, error)

func (f seederFunc) EnsureAdmin(ctx context.Context, name, email, hash string) (bool, error) {
	return f(ctx, name, email, hash)
}

func TestSeedAdmin(t *testing.T) {
	var gotEmail, gotHash string
	seeder := seederFunc(func(_ context.Context, _, email, hash string) (bool, error) {
		gotEmail, gotHash = email, hash
		return true, nil
	})
	created, err := SeedAdmin(context.Background(), seeder, "Admin", "Admin@Clinic.example", "correct-horse")
	if err != nil || !created {
		t.Fatalf("unexpected %v %v", created, err)
	}
	if gotEmail != "admin@clinic.example" || verifyPassword(gotHash, "correct-horse") != nil {
		t.Fatalf("seeder got %q / bad hash", gotEmail)
	}
	if _, err := SeedAdmin(context.Background(), seeder, "Admin", "admin@clinic.example", "short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}
