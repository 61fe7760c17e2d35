package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/api/middleware"
	"github.com/mypharma/pharmacy-core/internal/consultations"
)

// ConsultationHandler exposes the consultation workflow.
type ConsultationHandler struct {
	svc    *consultations.Service
	logger *zap.Logger
}

// NewConsultationHandler creates the handler.
func NewConsultationHandler(svc *consultations.Service, logger *zap.Logger) *ConsultationHandler {
	return &ConsultationHandler{svc: svc, logger: logger}
}

// Routes returns the handler routes
func (h *ConsultationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Request)
	r.Get("/", h.ListOwn)
	r.Get("/pending", h.ListPending)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/claim", h.Claim)
	r.Post("/{id}/respond", h.Respond)
	return r
}

// RequestBody is the consultation request payload.
type RequestBody struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Request handles POST /consultations
func (h *ConsultationHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req RequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	actor := middleware.GetActor(r.Context())
	c, err := h.svc.Request(r.Context(), actor, req.Subject, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Claim handles POST /consultations/{id}/claim
func (h *ConsultationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	c, err := h.svc.Claim(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RespondBody carries the doctor's answer.
type RespondBody struct {
	Response string `json:"response"`
}

// Respond handles POST /consultations/{id}/respond
func (h *ConsultationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	actor := middleware.GetActor(r.Context())
	c, err := h.svc.Respond(r.Context(), actor, chi.URLParam(r, "id"), req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Get handles GET /consultations/{id}
func (h *ConsultationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	c, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListOwn handles GET /consultations
func (h *ConsultationHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	list, err := h.svc.ListOwn(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPending handles GET /consultations/pending
func (h *ConsultationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
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
