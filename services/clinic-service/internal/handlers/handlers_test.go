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

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPets struct {
	mu     sync.Mutex
	seq    int
	pets   map[string]storage.Pet
	active map[string]bool
}

func newMemPets() *memPets {
	return &memPets{pets: map[string]storage.Pet{}, active: map[string]bool{}}
}

func (m *memPets) Create(_ context.Context, p storage.Pet) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p.ID = fmt.Sprintf("pet-%d", m.seq)
	m.pets[p.ID] = p
	return p.ID, nil
}

func (m *memPets) List(_ context.Context, userID string) ([]storage.Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Pet
	for _, p := range m.pets {
		if userID == "" || p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPets) Get(_ context.Context, id string) (storage.Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pets[id]
	if !ok {
		return storage.Pet{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memPets) Update(_ context.Context, id string, patch storage.PetPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pets[id]
	if !ok {
		return storage.ErrNotFound
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Age != nil {
		p.Age = *patch.Age
	}
	m.pets[id] = p
	return nil
}

func (m *memPets) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[id] {
		return storage.ErrPetInUse
	}
	delete(m.pets, id)
	return nil
}

type memRecords struct {
	records []storage.MedicalRecord
	rx      []storage.Prescription
	status  string
}

func (m *memRecords) AddMedicalRecord(_ context.Context, r storage.MedicalRecord) (string, error) {
	m.records = append(m.records, r)
	return "rec-1", nil
}

func (m *memRecords) MedicalRecords(context.Context, string) ([]storage.MedicalRecord, error) {
	return m.records, nil
}

func (m *memRecords) AddPrescription(_ context.Context, p storage.Prescription) (string, error) {
	m.rx = append(m.rx, p)
	return "rx-1", nil
}

func (m *memRecords) Prescriptions(_ context.Context, _, status string) ([]storage.Prescription, error) {
	m.status = status
	return m.rx, nil
}

func (m *memRecords) SetPrescriptionStatus(_ context.Context, _, id, _ string) error {
	if id != "rx-1" {
		return storage.ErrNotFound
	}
	return nil
}

type memCatalog struct {
	services []storage.Service
	created  storage.Service
}

func (c *memCatalog) Create(_ context.Context, s storage.Service) (string, error) {
	c.created = s
	return "svc-1", nil
}

func (c *memCatalog) List(context.Context) ([]storage.Service, error) {
	return c.services, nil
}

type fixture struct {
	handler http.Handler
	pets    *memPets
	records *memRecords
	catalog *memCatalog
}

func newFixture() fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fixture{pets: newMemPets(), records: &memRecords{}, catalog: &memCatalog{}}
	mux := http.NewServeMux()
	NewPetHandler(f.pets, logger).Register(mux)
	NewServiceHandler(f.catalog, logger).Register(mux)
	NewRecordHandler(f.pets, f.records, logger).Register(mux)
	f.handler = httpx.WithIdentity(mux)
	return f
}

func (f fixture) do(method, path, body, userID, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(httpx.UserIDHeader, userID)
		req.Header.Set(httpx.RoleHeader, role)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestCreatePetValidation(t *testing.T) {
	f := newFixture()
	for _, body := range []string{
		`{"name":"Rex","species":"dog","breed":"","age":3}`,
		`{"name":"Rex","species":"dog","breed":"lab","age":0}`,
		`{"name":"Rex","species":"dog","breed":"lab","age":3,"weight":-1}`,
		`{"name":"Rex","species":"dog","breed":"lab","age":3,"colour":"black"}`,
	} {
		rr := f.do(http.MethodPost, "/api/v1/pets", body, "u1", httpx.RoleUser)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/pets", `{}`, "", "").Code)
}

func TestPetOwnership(t *testing.T) {
	f := newFixture()
	rr := f.do(http.MethodPost, "/api/v1/pets", `{"name":"Rex","species":"dog","breed":"lab","age":3,"weight":21.5}`, "u1", httpx.RoleUser)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	petPath := "/api/v1/pets/" + created["pet_id"]
	assert.Equal(t, "u1", f.pets.pets[created["pet_id"]].UserID)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, petPath, "", "u1", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, petPath, "", "u2", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, petPath, "", "v1", httpx.RoleVet).Code)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPatch, petPath, `{"name":"Max"}`, "u2", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPatch, petPath, `{"name":"Max"}`, "v1", httpx.RoleVet).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, petPath, `{"user_id":"u2"}`, "u1", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, petPath, `{"age":-2}`, "u1", httpx.RoleUser).Code)

	rr = f.do(http.MethodPatch, petPath, `{"name":" Max "}`, "u1", httpx.RoleUser)
	require.Equal(t, http.StatusOK, rr.Code)
	var pet storage.Pet
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pet))
	assert.Equal(t, "Max", pet.Name)
}

func TestListPetsScopesOwners(t *testing.T) {
	f := newFixture()
	f.pets.pets["a"] = storage.Pet{ID: "a", UserID: "u1", Name: "Rex"}
	f.pets.pets["b"] = storage.Pet{ID: "b", UserID: "u2", Name: "Tom"}

	decode := func(rr *httptest.ResponseRecorder) []storage.Pet {
		var body struct {
			Pets []storage.Pet `json:"pets"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		return body.Pets
	}
	assert.Len(t, decode(f.do(http.MethodGet, "/api/v1/pets?userId=u2", "", "u1", httpx.RoleUser)), 1)
	assert.Len(t, decode(f.do(http.MethodGet, "/api/v1/pets", "", "admin", httpx.RoleAdmin)), 2)
	pets := decode(f.do(http.MethodGet, "/api/v1/pets?userId=u2", "", "admin", httpx.RoleAdmin))
	require.Len(t, pets, 1)
	assert.Equal(t, "Tom", pets[0].Name)
}

func TestDeletePetWithActiveAppointments(t *testing.T) {
	f := newFixture()
	f.pets.pets["a"] = storage.Pet{ID: "a", UserID: "u1"}
	f.pets.active["a"] = true

	rr := f.do(http.MethodDelete, "/api/v1/pets/a", "", "u1", httpx.RoleUser)
	assert.Equal(t, http.StatusConflict, rr.Code)

	f.pets.active["a"] = false
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/v1/pets/a", "", "u1", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/v1/pets/a", "", "u1", httpx.RoleUser).Code)
}

func TestServiceCatalog(t *testing.T) {
	f := newFixture()
	f.catalog.services = []storage.Service{{ID: "s1", Name: "Checkup", Price: "45.00", DurationMinutes: 30}}

	rr := f.do(http.MethodGet, "/api/v1/services", "", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"price":"45.00"`)

	body := `{"name":"Dental","price":80.5}`
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/services", body, "v1", httpx.RoleVet).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/services", body, "admin", httpx.RoleAdmin).Code)
	assert.Equal(t, "80.50", f.catalog.created.Price)
	assert.Equal(t, defaultServiceMinutes, f.catalog.created.DurationMinutes)

	for _, bad := range []string{`{"name":"","price":1}`, `{"name":"X"}`, `{"name":"X","price":-1}`, `{"name":"X","price":1,"duration_minutes":0}`} {
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/services", bad, "admin", httpx.RoleAdmin).Code, bad)
	}
}

func TestMedicalRecords(t *testing.T) {
	f := newFixture()
	f.pets.pets["a"] = storage.Pet{ID: "a", UserID: "u1"}
	body := `{"diagnosis":"Otitis","treatment":"Ear drops"}`

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/pets/a/records", body, "u1", httpx.RoleUser).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/pets/a/records", body, "v1", httpx.RoleVet).Code)
	require.Len(t, f.records.records, 1)
	assert.Equal(t, "v1", f.records.records[0].VetID)
	assert.Equal(t, "a", f.records.records[0].PetID)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/pets/a/records", `{"diagnosis":"x"}`, "v1", httpx.RoleVet).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/pets/a/records", "", "u1", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/pets/a/records", "", "u2", httpx.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/pets/missing/records", body, "v1", httpx.RoleVet).Code)
}

func TestPrescriptions(t *testing.T) {
	f := newFixture()
	f.pets.pets["a"] = storage.Pet{ID: "a", UserID: "u1"}
	body := `{"medication":"Amoxicillin","dosage":"250mg","frequency":"twice daily","duration":"7 days"}`

	rr := f.do(http.MethodPost, "/api/v1/pets/a/prescriptions", body, "v1", httpx.RoleVet)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"active"`)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/pets/a/prescriptions?status=active", "", "u1", httpx.RoleUser).Code)
	assert.Equal(t, "active", f.records.status)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/v1/pets/a/prescriptions?status=paused", "", "u1", httpx.RoleUser).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPatch, "/api/v1/pets/a/prescriptions/rx-1", `{"status":"completed"}`, "v1", httpx.RoleVet).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPatch, "/api/v1/pets/a/prescriptions/rx-9", `{"status":"completed"}`, "v1", httpx.RoleVet).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, "/api/v1/pets/a/prescriptions/rx-1", `{"status":"paid"}`, "v1", httpx.RoleVet).Code)
}
