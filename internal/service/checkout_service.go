package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// order numbers are random; a collision is retried with a fresh number
const maxOrderNumberAttempts = 3

// Checkout turns the buyer's cart into a PENDING_PAYMENT order. Repeating a request with the
// same idempotency key returns the order created by the first one, unchanged.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, request *d.CheckoutRequest) (*d.CheckoutResponse, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "checkout")
	defer span.End()

	key := strings.TrimSpace(request.IdempotencyKey)
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}
	span.SetAttributes(attribute.String("checkout.idempotency_key", key))

	resp, err := s.checkout(ctx, request, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveCheckout(checkoutOutcome(err), start)
		return nil, err
	}

	if resp.Replayed {
		s.metrics.ObserveCheckout("replayed", start)
		return resp, nil
	}

	s.invalidateCart(ctx, request.BuyerID)
	s.metrics.ObserveCheckout("created", start)
	s.log.InfoContext(ctx, "order created",
		slog.String("order_id", resp.Order.ID.String()),
		slog.String("order_number", resp.Order.OrderNumber),
		slog.String("buyer_id", resp.Order.BuyerID),
		slog.Int64("grand_total", resp.Order.Totals.GrandTotal),
		slog.Int("items", len(resp.Order.Items)))
	return resp, nil
}

func (s *CheckoutServiceImpl) checkout(ctx context.Context, request *d.CheckoutRequest, key string) (*d.CheckoutResponse, error) {
	if resp, err := s.replay(ctx, request.BuyerID, key); err != nil || resp != nil {
		return resp, err
	}

	var (
		order    *d.Order
		replayed bool
		err      error
	)
	for range maxOrderNumberAttempts {
		order, replayed, err = s.placeOrder(ctx, request, key)
		if !errors.Is(err, r.ErrDuplicateOrderNumber) {
			break
		}
	}

	if err != nil {
		// a concurrent request with the same key may have committed first; it wins
		if isReplayable(err) {
			resp, lookupErr := s.replay(ctx, request.BuyerID, key)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if resp != nil {
				return resp, nil
			}
		}
		if errors.Is(err, r.ErrDuplicateIdempotencyKey) {
			return nil, fmt.Errorf("checkout: idempotency key %q conflicted but no order was found", key)
		}
		return nil, err
	}

	return &d.CheckoutResponse{Order: order, Replayed: replayed}, nil
}

// replay returns the order already created for key, or nil when there is none.
func (s *CheckoutServiceImpl) replay(ctx context.Context, buyerID, key string) (*d.CheckoutResponse, error) {
	existing, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, r.ErrIdempotencyKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	return s.replayOrder(ctx, buyerID, key, existing)
}

func (s *CheckoutServiceImpl) replayOrder(ctx context.Context, buyerID, key string, existing *d.Order) (*d.CheckoutResponse, error) {
	if existing.BuyerID != buyerID {
		return nil, ErrIdempotencyKeyReused
	}
	s.log.InfoContext(ctx, "duplicate checkout request, replaying order",
		slog.String("idempotency_key", key),
		slog.String("order_id", existing.ID.String()),
		slog.String("status", existing.Status.String()))
	return &d.CheckoutResponse{Order: existing, Replayed: true}, nil
}

// placeOrder runs the whole checkout in one transaction. Nothing is written unless every
// line is valid and every decrement succeeds.
func (s *CheckoutServiceImpl) placeOrder(ctx context.Context, request *d.CheckoutRequest, key string) (*d.Order, bool, error) {
	var (
		order    *d.Order
		existing *d.Order
	)
	err := s.repo.WithTx(ctx, func(tx r.Tx) error {
		cart, err := tx.LockCart(ctx, request.BuyerID)
		if errors.Is(err, r.ErrCartNotFound) {
			return ErrCartEmpty
		}
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}

		// holding the cart lock, a request with the same key either committed already or waits for us
		existing, err = tx.GetOrderByIdempotencyKey(ctx, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, r.ErrIdempotencyKeyNotFound) {
			return fmt.Errorf("failed to check idempotency: %w", err)
		}

		if cart.IsEmpty() {
			return ErrCartEmpty
		}

		lines, err := validateCart(ctx, tx, request.BuyerID, cart)
		if err != nil {
			return err
		}
		s.logPriceMismatches(ctx, request, lines)

		priced := make([]PricedLine, len(lines))
		for i, l := range lines {
			priced[i] = l.priced()
		}
		totals, err := s.computeTotals(ctx, request.BuyerID, priced, request.ShippingAddress)
		if err != nil {
			return err
		}

		order = s.buildOrder(request, key, lines, totals)

		if s.decrementPoint == DecrementAtCheckout {
			if err := s.decrementForCheckout(ctx, tx, lines, order.Items); err != nil {
				return err
			}
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.DeleteCartLines(ctx, cart.ID); err != nil {
			return err
		}
		return appendOrderEvent(ctx, tx, EventOrderCreated, order, order.CreatedAt)
	})
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		resp, err := s.replayOrder(ctx, request.BuyerID, key, existing)
		if err != nil {
			return nil, false, err
		}
		return resp.Order, true, nil
	}
	return order, false, nil
}

func (s *CheckoutServiceImpl) buildOrder(request *d.CheckoutRequest, key string, lines []*resolvedLine, totals d.Totals) *d.Order {
	now := s.now()
	order := &d.Order{
		ID:              uuid.New(),
		OrderNumber:     newOrderNumber(now),
		IdempotencyKey:  key,
		BuyerID:         request.BuyerID,
		Status:          d.OrderStatusPendingPayment,
		PaymentStatus:   d.PaymentStatusPending,
		Currency:        lines[0].listing.Currency,
		Totals:          totals,
		ShippingAddress: request.ShippingAddress,
		Items:           make([]d.OrderItem, len(lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, l := range lines {
		order.Items[i] = d.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ListingID: l.listing.ID,
			VariantID: l.line.VariantID,
			Title:     l.listing.Title,
			UnitPrice: l.unitPrice,
			Quantity:  l.line.Quantity,
			LineTotal: l.unitPrice * int64(l.line.Quantity),
			Snapshot:  BuildSnapshot(l.listing, l.variant, l.shop, l.line.Personalization, now),
			Position:  int32(i),
			CreatedAt: now,
		}
	}
	return order
}

// decrementForCheckout takes the stock for every item. A line that lost a race for the last
// units is reported with the stock that is left now.
func (s *CheckoutServiceImpl) decrementForCheckout(ctx context.Context, tx r.Tx, lines []*resolvedLine, items []d.OrderItem) error {
	lost := make(map[int]LineViolation)
	for _, i := range stockOrder(items) {
		item := &items[i]
		err := tx.DecrementStock(ctx, item.ListingID, item.VariantID, item.Quantity)
		if errors.Is(err, r.ErrStockConflict) {
			s.metrics.StockConflict("checkout")
			available := currentStock(ctx, tx, item.ListingID, item.VariantID)
			v := newViolation(lines[i].line, ViolationInsufficientStock,
				fmt.Sprintf("requested %d, only %d available", item.Quantity, available))
			v.Available = &available
			lost[i] = v
			continue
		}
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		item.StockCommitted = true
	}
	if len(lost) == 0 {
		return nil
	}
	violations := make([]LineViolation, 0, len(lost))
	for i := range items {
		if v, ok := lost[i]; ok {
			violations = append(violations, v)
		}
	}
	return &ValidationError{Violations: violations}
}

func (s *CheckoutServiceImpl) logPriceMismatches(ctx context.Context, request *d.CheckoutRequest, lines []*resolvedLine) {
	for _, l := range lines {
		claimed, ok := request.ClientPrices[l.line.ID]
		if !ok || claimed == l.unitPrice {
			continue
		}
		s.log.WarnContext(ctx, "client price differs from catalog price, charging catalog price",
			slog.String("buyer_id", request.BuyerID),
			slog.String("line_id", l.line.ID.String()),
			slog.String("listing_id", l.listing.ID.String()),
			slog.Int64("client_price", claimed),
			slog.Int64("catalog_price", l.unitPrice))
	}
}

func (s *CheckoutServiceImpl) invalidateCart(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WarnContext(ctx, "cache invalidate error", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (s *CheckoutServiceImpl) GetOrder(ctx context.Context, buyerID string, orderID uuid.UUID) (*d.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, r.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	// other buyers' orders are reported as missing rather than forbidden
	if order.BuyerID != buyerID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *CheckoutServiceImpl) ListOrders(ctx context.Context, buyerID string) ([]*d.Order, error) {
	orders, err := s.repo.ListOrdersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []*d.Order{}
	}
	return orders, nil
}

func isReplayable(err error) bool {
	var validation *ValidationError
	return errors.Is(err, ErrCartEmpty) ||
		errors.Is(err, r.ErrDuplicateIdempotencyKey) ||
		errors.As(err, &validation)
}

func checkoutOutcome(err error) string {
	var validation *ValidationError
	switch {
	case errors.Is(err, ErrCartEmpty):
		return "cart_empty"
	case errors.As(err, &validation):
		return "rejected"
	case errors.Is(err, ErrMissingIdempotencyKey), errors.Is(err, ErrIdempotencyKeyReused):
		return "bad_request"
	default:
		return "error"
	}
}
