package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/api/middleware"
	"github.com/mypharma/pharmacy-core/internal/checkout"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
)

// OrderHandler exposes order placement and lifecycle endpoints.
type OrderHandler struct {
	engine *checkout.Engine
	logger *zap.Logger
}

// NewOrderHandler creates the handler.
func NewOrderHandler(engine *checkout.Engine, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{engine: engine, logger: logger}
}

// Routes returns the handler routes
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Place)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/status", h.Advance)
	r.Post("/{id}/cancel", h.Cancel)
	r.Get("/{id}/return-eligibility", h.ReturnEligibility)
	return r
}

// PlaceRequest is the order placement body.
type PlaceRequest struct {
	Items []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	ShippingAddress string `json:"shipping_address"`
	Notes           string `json:"notes,omitempty"`
	PrescriptionID  string `json:"prescription_id,omitempty"`
	PaymentMethod   string `json:"payment_method"`
	DeliveryZone    string `json:"delivery_zone"`
}

// Place handles POST /orders
func (h *OrderHandler) Place(w http.ResponseWriter, r *http.Request) {
	var req PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	in := checkout.PlaceOrderInput{
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		PrescriptionID:  req.PrescriptionID,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		DeliveryZone:    req.DeliveryZone,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, checkout.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	actor := middleware.GetActor(r.Context())
	o, err := h.engine.PlaceOrder(r.Context(), actor, in)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	writeJSON(w, http.StatusCreated, o)
}

// AdvanceRequest names the target status.
type AdvanceRequest struct {
	Status string `json:"status"`
}

// Advance handles POST /orders/{id}/status
func (h *OrderHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	actor := middleware.GetActor(r.Context())
	o, err := h.engine.Advance(r.Context(), actor, chi.URLParam(r, "id"), order.Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Cancel handles POST /orders/{id}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	o, err := h.engine.Advance(r.Context(), actor, chi.URLParam(r, "id"), order.StatusCancelled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Get handles GET /orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	o, err := h.engine.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// List handles GET /orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	actor := middleware.GetActor(r.Context())
	list, err := h.engine.ListOrders(r.Context(), actor, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ReturnEligibility handles GET /orders/{id}/return-eligibility
func (h *OrderHandler) ReturnEligibility(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	err := h.engine.ReturnEligibility(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": true})
}
