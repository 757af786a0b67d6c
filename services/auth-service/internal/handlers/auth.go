package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/pdsa-vet/vetclinic/libs/auth"
	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserStore is the persistence the handlers need.
type UserStore interface {
	Create(ctx context.Context, u storage.User) (string, error)
	GetByEmail(ctx context.Context, email string) (storage.User, error)
	GetByID(ctx context.Context, id string) (storage.User, error)
	UpdateProfile(ctx context.Context, id string, p storage.ProfileUpdate) error
	UpdatePassword(ctx context.Context, id, hash string) error
}

type AuthHandler struct {
	users  UserStore
	signer *auth.Signer
	logger *slog.Logger
	// dummyHash keeps login timing similar for unknown emails.
	dummyHash string
}

func NewAuthHandler(users UserStore, signer *auth.Signer, logger *slog.Logger) (*AuthHandler, error) {
	dummy, err := hashPassword("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &AuthHandler{users: users, signer: signer, logger: logger, dummyHash: dummy}, nil
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.RegisterUser)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("GET /api/v1/auth/me", httpx.RequireIdentity(h.Me))
	mux.HandleFunc("PATCH /api/v1/auth/me", httpx.RequireIdentity(h.UpdateProfile))
	mux.HandleFunc("POST /api/v1/auth/password", httpx.RequireIdentity(h.ChangePassword))
	mux.HandleFunc("POST /api/v1/auth/staff", httpx.RequireRole(h.CreateStaff, httpx.RoleAdmin))
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type staffRequest struct {
	registerRequest
	Role string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type profileRequest struct {
	Name     *string `json:"name"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	Postcode *string `json:"postcode"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type meResponse struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Postcode  string    `json:"postcode,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, ok := h.createUser(r.Context(), w, req, httpx.RoleUser)
	if !ok {
		return
	}
	h.writeToken(w, http.StatusCreated, u)
}

// CreateStaff lets an admin add vet or admin accounts.
func (h *AuthHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req staffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role != httpx.RoleVet && req.Role != httpx.RoleAdmin {
		httpx.WriteError(w, http.StatusBadRequest, "role must be vet or admin")
		return
	}
	u, ok := h.createUser(r.Context(), w, req.registerRequest, req.Role)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toMe(u))
}

func (h *AuthHandler) createUser(ctx context.Context, w http.ResponseWriter, req registerRequest, role string) (storage.User, bool) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	email, err := normalizeEmail(req.Email)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid email format")
		return storage.User{}, false
	}
	if req.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name is required")
		return storage.User{}, false
	}
	if len(req.Password) < minPasswordLength {
		httpx.WriteError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return storage.User{}, false
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hashing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return storage.User{}, false
	}

	u := storage.User{Name: req.Name, Email: email, Phone: req.Phone, PasswordHash: hash, Role: role}
	u.ID, err = h.users.Create(ctx, u)
	if errors.Is(err, storage.ErrEmailTaken) {
		httpx.WriteError(w, http.StatusConflict, "email already registered")
		return storage.User{}, false
	}
	if err != nil {
		h.logger.Error("create user failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return storage.User{}, false
	}
	h.logger.Info("user registered", "user_id", u.ID, "role", role)
	return u, true
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.users.GetByEmail(r.Context(), strings.TrimSpace(req.Email))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		_ = verifyPassword(h.dummyHash, req.Password)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	case err != nil:
		h.logger.Error("load user failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := verifyPassword(u.PasswordHash, req.Password); err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	h.writeToken(w, http.StatusOK, u)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toMe(u))
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	upd := storage.ProfileUpdate{Name: req.Name, Phone: req.Phone, Address: req.Address, Postcode: req.Postcode}
	if upd.Empty() {
		httpx.WriteError(w, http.StatusBadRequest, "no updatable fields supplied")
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name cannot be empty")
		return
	}
	if err := h.users.UpdateProfile(r.Context(), id.UserID, upd); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.Me(w, r)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := verifyPassword(u.PasswordHash, req.CurrentPassword); err != nil {
		httpx.WriteError(w, http.StatusForbidden, "current password is incorrect")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		httpx.WriteError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("password hashing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), u.ID, hash); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) currentUser(w http.ResponseWriter, r *http.Request) (storage.User, bool) {
	id, _ := httpx.IdentityFromContext(r.Context())
	u, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		h.writeStoreError(w, err)
		return storage.User{}, false
	}
	return u, true
}

func (h *AuthHandler) writeToken(w http.ResponseWriter, status int, u storage.User) {
	token, err := h.signer.Sign(u.ID, u.Role, u.Name, u.Email)
	if err != nil {
		h.logger.Error("token signing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httpx.WriteJSON(w, status, tokenResponse{
		UserID:      u.ID,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.signer.TTL().Seconds()),
	})
}

func (h *AuthHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	h.logger.Error("user store failed", "err", err)
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}

func toMe(u storage.User) meResponse {
	return meResponse{
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Address:   u.Address,
		Postcode:  u.Postcode,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// normalizeEmail accepts a bare address such as "a@b.example" and lowercases it.
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@"):], ".") {
		return "", errors.New("invalid email")
	}
	return strings.ToLower(addr.Address), nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// AdminSeeder creates the bootstrap admin when it does not exist yet.
type AdminSeeder interface {
	EnsureAdmin(ctx context.Context, name, email, hash string) (bool, error)
}

// SeedAdmin validates the bootstrap credentials and hands them to the seeder.
func SeedAdmin(ctx context.Context, seeder AdminSeeder, name, email, password string) (bool, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return false, fmt.Errorf("admin email: %w", err)
	}
	if len(password) < minPasswordLength {
		return false, errors.New("admin password must be at least 8 characters")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	return seeder.EnsureAdmin(ctx, name, addr, hash)
}
