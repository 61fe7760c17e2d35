package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mypharma/pharmacy-core/internal/checkout"
	"github.com/mypharma/pharmacy-core/internal/domain/order"
	"github.com/mypharma/pharmacy-core/pkg/idempotency"
)

// PaymentHandler receives gateway callbacks. Gateway signature verification
// happens at the edge; the core applies the settlement idempotently.
type PaymentHandler struct {
	engine *checkout.Engine
	inbox  *idempotency.Inbox
	logger *zap.Logger
}

// NewPaymentHandler creates the handler. inbox may be nil in tests; the
// payment domain still deduplicates by transaction id.
func NewPaymentHandler(engine *checkout.Engine, inbox *idempotency.Inbox, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{engine: engine, inbox: inbox, logger: logger}
}

// Routes returns the handler routes
func (h *PaymentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhook", h.Webhook)
	return r
}

// WebhookRequest is the gateway callback payload.
type WebhookRequest struct {
	Gateway       string `json:"gateway"`
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
}

// Webhook handles POST /payments/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}
	if req.TransactionID == "" || req.OrderID == "" {
		writeJSONError(w, http.StatusBadRequest, "transaction_id and order_id are required", "validation")
		return
	}

	apply := func(ctx context.Context) error {
		return h.engine.HandleGatewayCallback(ctx, checkout.GatewayResult{
			TransactionID: req.TransactionID,
			OrderID:       req.OrderID,
			Status:        order.PaymentStatus(req.Status),
		})
	}

	var err error
	if h.inbox != nil {
		key := idempotency.WebhookKey(req.Gateway, req.TransactionID, req.OrderID)
		payload, _ := json.Marshal(req)
		_, err = h.inbox.Process(r.Context(), key, "payment-webhook", payload,
			func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
				return nil, apply(ctx)
			})
	} else {
		err = apply(r.Context())
	}
	switch {
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		return
	case errors.Is(err, idempotency.ErrMessageInProgress):
		writeJSONError(w, http.StatusConflict, "callback is being processed", "in_progress")
		return
	case err != nil:
		writeError(w, err)
		return
	}

	h.logger.Info("gateway callback applied",
		zap.String("order_id", req.OrderID),
		zap.String("txn_id", req.TransactionID),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
