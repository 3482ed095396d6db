package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/checkout-engine/internal/payment"
	"github.com/fjod/checkout-engine/internal/service"
)

type ErrorResponse struct {
	Error      string                  `json:"error"`
	Code       string                  `json:"code,omitempty"`
	Details    string                  `json:"details,omitempty"`
	Violations []service.LineViolation `json:"violations,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError maps engine errors to HTTP statuses. Anything unrecognised is a 500
// and its message is not echoed to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		validation *service.ValidationError
		conflict   *service.StockConflictError
	)
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "cart cannot be checked out",
			Code:       "cart_invalid",
			Violations: validation.Violations,
		})
	case errors.As(err, &conflict):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "payment confirmed for stock that is no longer available",
			Code:    "stock_conflict",
			Details: conflict.OrderNumber,
		})
	case errors.Is(err, service.ErrCartEmpty):
		respondError(w, http.StatusUnprocessableEntity, "cart_empty", err.Error())
	case errors.Is(err, service.ErrMissingIdempotencyKey):
		respondError(w, http.StatusBadRequest, "missing_idempotency_key", err.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrIdempotencyKeyReused):
		respondError(w, http.StatusConflict, "idempotency_key_reused", err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, service.ErrCartLineNotFound):
		respondError(w, http.StatusNotFound, "cart_line_not_found", err.Error())
	case errors.Is(err, service.ErrOrderNotPayable):
		respondError(w, http.StatusConflict, "order_not_payable", err.Error())
	case errors.Is(err, service.ErrPaymentProviderDisabled), errors.Is(err, payment.ErrProviderUnavailable):
		respondError(w, http.StatusServiceUnavailable, "payment_provider_unavailable", "payment provider is unavailable")
	case errors.Is(err, payment.ErrProviderRejected):
		respondError(w, http.StatusBadGateway, "payment_provider_rejected", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
