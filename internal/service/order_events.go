package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderStockConflict = "order.stock_conflict"
)

type OrderEvent struct {
	OrderID             uuid.UUID        `json:"order_id"`
	OrderNumber         string           `json:"order_number"`
	BuyerID             string           `json:"buyer_id"`
	Status              d.OrderStatus    `json:"status"`
	PaymentStatus       d.PaymentStatus  `json:"payment_status"`
	Currency            string           `json:"currency"`
	GrandTotal          int64            `json:"grand_total"`
	PaymentReference    *string          `json:"payment_reference,omitempty"`
	NeedsReconciliation bool             `json:"needs_reconciliation"`
	Items               []OrderEventItem `json:"items"`
	OccurredAt          time.Time        `json:"occurred_at"`
}

type OrderEventItem struct {
	ListingID uuid.UUID  `json:"listing_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int32      `json:"quantity"`
	UnitPrice int64      `json:"unit_price"`
}

// appendOrderEvent writes the event to the outbox in the caller's transaction.
func appendOrderEvent(ctx context.Context, tx r.Tx, eventType string, order *d.Order, now time.Time) error {
	ev := OrderEvent{
		OrderID:             order.ID,
		OrderNumber:         order.OrderNumber,
		BuyerID:             order.BuyerID,
		Status:              order.Status,
		PaymentStatus:       order.PaymentStatus,
		Currency:            order.Currency,
		GrandTotal:          order.Totals.GrandTotal,
		PaymentReference:    order.PaymentReference,
		NeedsReconciliation: order.NeedsReconciliation,
		Items:               make([]OrderEventItem, len(order.Items)),
		OccurredAt:          now,
	}
	for i, item := range order.Items {
		ev.Items[i] = OrderEventItem{ListingID: item.ListingID, VariantID: item.VariantID, Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := tx.InsertOutboxEvent(ctx, order.ID.String(), eventType, payload); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
