package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pdsa-vet/vetclinic/libs/httpx"
	"github.com/pdsa-vet/vetclinic/services/clinic-service/internal/storage"
)

type RecordStore interface {
	AddMedicalRecord(ctx context.Context, m storage.MedicalRecord) (string, error)
	MedicalRecords(ctx context.Context, petID string) ([]storage.MedicalRecord, error)
	AddPrescription(ctx context.Context, p storage.Prescription) (string, error)
	Prescriptions(ctx context.Context, petID, status string) ([]storage.Prescription, error)
	SetPrescriptionStatus(ctx context.Context, petID, id, status string) error
}

// RecordHandler serves a pet's medical history. Vets and admins write it;
// owners and staff read it.
type RecordHandler struct {
	pets    petGetter
	records RecordStore
	logger  *slog.Logger
}

func NewRecordHandler(pets petGetter, records RecordStore, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{pets: pets, records: records, logger: logger}
}

func (h *RecordHandler) Register(mux *http.ServeMux) {
	staff := []string{httpx.RoleVet, httpx.RoleAdmin}
	mux.HandleFunc("GET /api/v1/pets/{id}/records", httpx.RequireIdentity(h.ListRecords))
	mux.HandleFunc("POST /api/v1/pets/{id}/records", httpx.RequireRole(h.AddRecord, staff...))
	mux.HandleFunc("GET /api/v1/pets/{id}/prescriptions", httpx.RequireIdentity(h.ListPrescriptions))
	mux.HandleFunc("POST /api/v1/pets/{id}/prescriptions", httpx.RequireRole(h.AddPrescription, staff...))
	mux.HandleFunc("PATCH /api/v1/pets/{id}/prescriptions/{prescriptionId}", httpx.RequireRole(h.SetPrescriptionStatus, staff...))
}

type recordRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Treatment    string `json:"treatment"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

type prescriptionRequest struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Frequency  string `json:"frequency"`
	Duration   string `json:"duration"`
	Notes      string `json:"notes"`
}

func (h *RecordHandler) AddRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	var req recordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	m := storage.MedicalRecord{
		PetID:        p.ID,
		Diagnosis:    strings.TrimSpace(req.Diagnosis),
		Treatment:    strings.TrimSpace(req.Treatment),
		Prescription: strings.TrimSpace(req.Prescription),
		Notes:        strings.TrimSpace(req.Notes),
	}
	if m.Diagnosis == "" || m.Treatment == "" {
		httpx.WriteError(w, http.StatusBadRequest, "diagnosis and treatment are required")
		return
	}
	vet, _ := httpx.IdentityFromContext(r.Context())
	m.VetID = vet.UserID

	id, err := h.records.AddMedicalRecord(r.Context(), m)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("medical record added", "record_id", id, "pet_id", p.ID, "vet_id", vet.UserID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"record_id": id})
}

func (h *RecordHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	records, err := h.records.MedicalRecords(r.Context(), p.ID)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []storage.MedicalRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *RecordHandler) AddPrescription(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	var req prescriptionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rx := storage.Prescription{
		PetID:      p.ID,
		Medication: strings.TrimSpace(req.Medication),
		Dosage:     strings.TrimSpace(req.Dosage),
		Frequency:  strings.TrimSpace(req.Frequency),
		Duration:   strings.TrimSpace(req.Duration),
		Notes:      strings.TrimSpace(req.Notes),
	}
	if rx.Medication == "" || rx.Dosage == "" || rx.Frequency == "" || rx.Duration == "" {
		httpx.WriteError(w, http.StatusBadRequest, "medication, dosage, frequency and duration are required")
		return
	}
	vet, _ := httpx.IdentityFromContext(r.Context())
	rx.VetID = vet.UserID

	id, err := h.records.AddPrescription(r.Context(), rx)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	h.logger.Info("prescription added", "prescription_id", id, "pet_id", p.ID, "vet_id", vet.UserID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"prescription_id": id, "status": storage.PrescriptionActive})
}

func (h *RecordHandler) ListPrescriptions(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !storage.IsPrescriptionStatus(status) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid status")
		return
	}
	list, err := h.records.Prescriptions(r.Context(), p.ID, status)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []storage.Prescription{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"prescriptions": list})
}

func (h *RecordHandler) SetPrescriptionStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := loadPet(w, r, h.pets, h.logger, canView)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !storage.IsPrescriptionStatus(req.Status) {
		httpx.WriteError(w, http.StatusBadRequest, "status must be active, completed or cancelled")
		return
	}
	if err := h.records.SetPrescriptionStatus(r.Context(), p.ID, r.PathValue("prescriptionId"), req.Status); err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
