package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/checkout-engine/internal/payment"
	"github.com/fjod/checkout-engine/internal/service"
)

const maxWebhookBody = 64 << 10

type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (service.WebhookOutcome, error)
}

type WebhookHandler struct {
	reconciler WebhookReconciler
	timeout    time.Duration
	log        *slog.Logger
}

func NewWebhookHandler(reconciler WebhookReconciler, timeout time.Duration, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		timeout:    timeout,
		log:        log,
	}
}

type WebhookResponseDTO struct {
	Outcome service.WebhookOutcome `json:"outcome"`
}

// POST /api/v1/payments/webhook
//
// Every delivery the engine has dealt with, including duplicates and events for unknown
// orders, is answered 200 so the provider stops retrying. Only transient failures get a 5xx.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body is too large")
		return
	}

	outcome, err := h.reconciler.HandleWebhook(ctx, payload, r.Header.Get(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		respondError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
	case errors.Is(err, payment.ErrMalformedEvent):
		respondError(w, http.StatusBadRequest, "malformed_event", err.Error())
	case err != nil:
		respondServiceError(w, r, h.log, err)
	default:
		respondJSON(w, http.StatusOK, WebhookResponseDTO{Outcome: outcome})
	}
}
