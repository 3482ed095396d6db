package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/service"
	"github.com/google/uuid"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutHandler struct {
	checkout service.CheckoutService
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout service.CheckoutService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      log,
	}
}

type CheckoutRequestDTO struct {
	IdempotencyKey  string               `json:"idempotency_key"`
	ShippingAddress d.ShippingAddress    `json:"shipping_address"`
	Items           []ClientLinePriceDTO `json:"items"`
}

// ClientLinePriceDTO is the price the client displayed for a cart line. It is only logged.
type ClientLinePriceDTO struct {
	LineID    uuid.UUID `json:"line_id"`
	UnitPrice int64     `json:"unit_price"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_idempotency_key",
			"Idempotency-Key header or idempotency_key is required")
		return
	}

	if msg := validateAddress(req.ShippingAddress); msg != "" {
		respondError(w, http.StatusBadRequest, "invalid_shipping_address", msg)
		return
	}

	var prices map[uuid.UUID]int64
	if len(req.Items) > 0 {
		prices = make(map[uuid.UUID]int64, len(req.Items))
		for _, item := range req.Items {
			prices[item.LineID] = item.UnitPrice
		}
	}

	resp, err := h.checkout.Checkout(ctx, &d.CheckoutRequest{
		BuyerID:         userID,
		IdempotencyKey:  key,
		ShippingAddress: req.ShippingAddress,
		ClientPrices:    prices,
	})
	if err != nil {
		respondServiceError(w, r, h.log, err)
		return
	}

	if resp.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		respondJSON(w, http.StatusOK, resp.Order)
		return
	}
	respondJSON(w, http.StatusCreated, resp.Order)
}

func validateAddress(a d.ShippingAddress) string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", a.Name},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) == 0 {
		return ""
	}
	return "shipping_address is missing " + strings.Join(missing, ", ")
}
