// Package handlers provides the HTTP handlers for the pharmacy API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

// errorBody is the wire shape for all error responses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Unrecognized errors are
// reported as 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	var (
		validation *errs.ValidationError
		state      *errs.StateError
		authz      *errs.AuthorizationError
		notFound   *errs.NotFoundError
		rxRequired *errs.PrescriptionRequiredError
		mismatch   *errs.MedicineMismatchError
		quantity   *errs.QuantityExceededError
		stock      *errs.StockError
		conflict   *errs.ConcurrentModificationError
		timeout    *errs.DependencyTimeoutError
		retWindow  *errs.ReturnWindowError
	)

	switch {
	case errors.As(err, &validation):
		writeJSONError(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.As(err, &authz):
		writeJSONError(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.As(err, &notFound):
		writeJSONError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.As(err, &state):
		writeJSONError(w, http.StatusConflict, err.Error(), "invalid_state")
	case errors.As(err, &conflict):
		writeJSONError(w, http.StatusConflict, err.Error(), "concurrent_modification")
	case errors.As(err, &rxRequired):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), "prescription_required")
	case errors.As(err, &mismatch):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), "medicine_mismatch")
	case errors.As(err, &quantity):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), "quantity_exceeded")
	case errors.As(err, &stock):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), "out_of_stock")
	case errors.As(err, &retWindow):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error(), "return_window")
	case errors.As(err, &timeout):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error(), "dependency_unavailable")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

func writeJSONError(w http.ResponseWriter, code int, message, errCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorBody{Error: message, Code: errCode})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
