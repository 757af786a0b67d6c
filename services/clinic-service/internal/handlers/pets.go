package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
)

type PetStore interface {
	Create(ctx context.Context, p storage.Pet) (string, error)
	List(ctx context.Context, userID string) ([]storage.Pet, error)
	Get(ctx context.Context, id string) (storage.Pet, error)
	Update(ctx context.Context, id string, patch storage.PetPatch) error
	Delete(ctx context.Context, id string) error
}

type PetHandler struct {
	pets   PetStore
	logger *slog.Logger
}

func NewPetHandler(pets PetStore, logger *slog.Logger) *PetHandler {
	return &PetHandler{pets: pets, logger: logger}
}

func (h *PetHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/pets", httpx.RequireIdentity(h.Create))
	mux.HandleFunc("GET /api/v1/pets", httpx.RequireIdentity(h.List))
	mux.HandleFunc("GET /api/v1/pets/{id}", httpx.RequireIdentity(h.Get))
	mux.HandleFunc("PATCH /api/v1/pets/{id}", httpx.RequireIdentity(h.Update))
	mux.HandleFunc("DELETE /api/v1/pets/{id}", httpx.RequireIdentity(h.Delete))
}

type petRequest struct {
	Name           string   `json:"name"`
	Species        string   `json:"species"`
	Breed          string   `json:"breed"`
	Age            int      `json:"age"`
	Weight         *float64 `json:"weight"`
	MedicalHistory string   `json:"medical_history"`
}

type petPatchRequest struct {
	Name           *string  `json:"name"`
	Species        *string  `json:"species"`
	Breed          *string  `json:"breed"`
	Age            *int     `json:"age"`
	Weight         *float64 `json:"weight"`
	MedicalHistory *string  `json:"medical_history"`
}

func (req petPatchRequest) validate() string {
	for field, v := range map[string]*string{"name": req.Name, "species": req.Species, "breed": req.Breed} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return field + " cannot be empty"
		}
	}
	if req.Age != nil && *req.Age <= 0 {
		return "age must be positive"
	}
	if req.Weight != nil && *req.Weight < 0 {
		return "weight cannot be negative"
	}
	return ""
}

func (h *PetHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	var req petRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := storage.Pet{
		UserID:         id.UserID,
		Name:           strings.TrimSpace(req.Name),
		Species:        strings.TrimSpace(req.Species),
		Breed:          strings.TrimSpace(req.Breed),
		Age:            req.Age,
		Weight:         req.Weight,
		MedicalHistory: strings.TrimSpace(req.MedicalHistory),
	}
	if p.Name == "" || p.Species == "" || p.Breed == "" || p.Age <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "name, species, breed and a positive age are required")
		return
	}
	if p.Weight != nil && *p.Weight < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "weight cannot be negative")
		return
	}

	petID, err := h.pets.Create(r.Context(), p)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("pet added", "pet_id", petID, "user_id", id.UserID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"pet_id": petID})
}

// List returns the caller's pets. Staff see every pet, or one owner's with ?userId=.
func (h *PetHandler) List(w http.ResponseWriter, r *http.Request) {
	id, _ := httpx.IdentityFromContext(r.Context())
	owner := id.UserID
	if id.IsStaff() {
		owner = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	pets, err := h.pets.List(r.Context(), owner)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if pets == nil {
		pets = []storage.Pet{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"pets": pets})
}

func (h *PetHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *PetHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canModify)
	if !ok {
		return
	}
	var req petPatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := req.validate(); msg != "" {
		httpx.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	patch := storage.PetPatch{
		Name:           trimmed(req.Name),
		Species:        trimmed(req.Species),
		Breed:          trimmed(req.Breed),
		Age:            req.Age,
		Weight:         req.Weight,
		MedicalHistory: trimmed(req.MedicalHistory),
	}
	if patch.Empty() {
		httpx.WriteError(w, http.StatusBadRequest, "no updatable fields supplied")
		return
	}
	if err := h.pets.Update(r.Context(), p.ID, patch); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	updated, err := h.pets.Get(r.Context(), p.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *PetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canModify)
	if !ok {
		return
	}
	if err := h.pets.Delete(r.Context(), p.ID); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("pet deleted", "pet_id", p.ID)
	w.WriteHeader(http.StatusNoContent)
}

type petGetter interface {
	Get(ctx context.Context, id string) (storage.Pet, error)
}

// canView lets owners and staff read a pet.
func canView(id httpx.Identity, p storage.Pet) bool {
	return id.IsStaff() || p.UserID == id.UserID
}

// canModify lets owners and admins change a pet.
func canModify(id httpx.Identity, p storage.Pet) bool {
	return id.IsAdmin() || p.UserID == id.UserID
}

// loadPet resolves {id} and answers 404 when the caller may not see it, so
// other owners' pet ids are not disclosed.
func loadPet(w http.ResponseWriter, r *http.Request, pets petGetter, logger *slog.Logger, allowed func(httpx.Identity, storage.Pet) bool) (storage.Pet, bool) {
	id, _ := httpx.IdentityFromContext(r.Context())
	p, err := pets.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, logger, err)
		return storage.Pet{}, false
	}
	if !canView(id, p) {
		httpx.WriteError(w, http.StatusNotFound, "pet not found")
		return storage.Pet{}, false
	}
	if !allowed(id, p) {
		httpx.WriteError(w, http.StatusForbidden, "not allowed to modify this pet")
		return storage.Pet{}, false
	}
	return p, true
}

func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrMalformedID):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrPetInUse):
		httpx.WriteError(w, http.StatusConflict, "cannot delete pet with pending or confirmed appointments")
	case errors.Is(err, storage.ErrServiceTaken):
		httpx.WriteError(w, http.StatusConflict, "service name already exists")
	default:
		logger.Error("clinic store failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
