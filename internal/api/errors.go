package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/checkout"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Reasons   []checkout.Reason `json:"reasons,omitempty"`
	Issues    []checkout.Issue  `json:"issues,omitempty"`
	ProductID string            `json:"product_id,omitempty"`
	VariantID string            `json:"variant_id,omitempty"`
	Requested *int              `json:"requested,omitempty"`
	Available *int              `json:"available,omitempty"`
}

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrStockConflict, apperr.ErrStateConflict:
		return http.StatusConflict
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a domain error to its status. Infrastructure errors are
// logged and hidden behind a generic message.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	body := errorResponse{Error: err.Error()}
	var ineligible *checkout.IneligibleError
	if errors.As(err, &ineligible) {
		body.Reasons = ineligible.Eligibility.Reasons()
		body.Issues = ineligible.Eligibility.Issues
	}
	var conflict *apperr.StockConflictError
	if errors.As(err, &conflict) {
		body.ProductID = conflict.ProductID
		body.VariantID = conflict.VariantID
		body.Requested = &conflict.Requested
		body.Available = &conflict.Available
	}
	respondJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
