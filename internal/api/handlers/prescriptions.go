package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/api/middleware"
	"github.com/mypharma/pharmacy-core/internal/domain/prescription"
	"github.com/mypharma/pharmacy-core/internal/prescriptions"
)

// PrescriptionHandler exposes prescription upload and verification.
type PrescriptionHandler struct {
	svc    *prescriptions.Service
	logger *zap.Logger
}

// NewPrescriptionHandler creates the handler.
func NewPrescriptionHandler(svc *prescriptions.Service, logger *zap.Logger) *PrescriptionHandler {
	return &PrescriptionHandler{svc: svc, logger: logger}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/", h.ListOwn)
	r.Get("/pending", h.ListPending)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/verify", h.Verify)
	return r
}

// UploadRequest is the request body for uploading a prescription. The file
// bytes go to object storage upstream; the core receives the reference and
// metadata.
type UploadRequest struct {
	FileRef     string     `json:"file_ref"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	IssueDate   *time.Time `json:"issue_date,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
}

// Upload handles POST /prescriptions
func (h *PrescriptionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	actor := middleware.GetActor(r.Context())
	p, err := h.svc.Upload(r.Context(), actor, prescription.FileMeta{
		Ref:         req.FileRef,
		Name:        req.FileName,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	}, req.IssueDate, req.PatientName)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// VerifyRequest is the verifier's decision payload.
type VerifyRequest struct {
	Decision        string              `json:"decision"`
	Notes           string              `json:"notes,omitempty"`
	DoctorName      string              `json:"doctor_name,omitempty"`
	DoctorRegNumber string              `json:"doctor_reg_number,omitempty"`
	HasSignature    bool                `json:"has_signature,omitempty"`
	Items           []prescription.Item `json:"items,omitempty"`
}

// Verify handles POST /prescriptions/{id}/verify
func (h *PrescriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	actor := middleware.GetActor(r.Context())
	p, err := h.svc.Verify(r.Context(), actor, chi.URLParam(r, "id"), prescription.Verification{
		Decision:        prescription.Decision(req.Decision),
		Notes:           req.Notes,
		DoctorName:      req.DoctorName,
		DoctorRegNumber: req.DoctorRegNumber,
		HasSignature:    req.HasSignature,
		Items:           req.Items,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("verification recorded",
		zap.String("prescription_id", p.ID),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeJSON(w, http.StatusOK, p)
}

// Get handles GET /prescriptions/{id}
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	p, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListOwn handles GET /prescriptions
func (h *PrescriptionHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	list, err := h.svc.ListOwn(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPending handles GET /prescriptions/pending
func (h *PrescriptionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	actor := middleware.GetActor(r.Context())
	list, err := h.svc.ListPending(r.Context(), actor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
