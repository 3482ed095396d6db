package service

import (
	"context"
	"fmt"
	"log/slog"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/payment"
	"github.com/google/uuid"
)

// CreatePaymentIntent asks the provider to collect the order's grand total. The order id is
// the provider idempotency key, so retrying never creates a second intent.
func (s *CheckoutServiceImpl) CreatePaymentIntent(ctx context.Context, buyerID string, orderID uuid.UUID) (*payment.Intent, error) {
	if s.provider == nil {
		return nil, ErrPaymentProviderDisabled
	}

	order, err := s.GetOrder(ctx, buyerID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != d.OrderStatusPendingPayment {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotPayable, order.OrderNumber, order.Status)
	}

	intent, err := s.provider.CreatePaymentIntent(ctx, payment.IntentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		AmountMinor:    order.Totals.GrandTotal,
		Currency:       order.Currency,
		IdempotencyKey: order.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	s.log.InfoContext(ctx, "payment intent created",
		slog.String("order_number", order.OrderNumber),
		slog.String("intent_id", intent.ID),
		slog.Int64("amount", order.Totals.GrandTotal))
	return intent, nil
}
