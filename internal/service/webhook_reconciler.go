package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/metrics"
	"github.com/fjod/checkout-engine/internal/payment"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type WebhookOutcome string

const (
	OutcomeApplied       WebhookOutcome = "applied"
	OutcomeDuplicate     WebhookOutcome = "duplicate"
	OutcomeAlreadyPaid   WebhookOutcome = "already_paid"
	OutcomeIgnored       WebhookOutcome = "ignored"
	OutcomeStockConflict WebhookOutcome = "stock_conflict"
	OutcomeRejected      WebhookOutcome = "rejected"
)

// WebhookReconciler applies provider payment notifications to orders. Deliveries may arrive
// more than once and in any order; applying one twice never changes state twice.
type WebhookReconciler struct {
	repo     r.RepoInterface
	verifier *payment.Verifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewWebhookReconciler(repo r.RepoInterface, verifier *payment.Verifier, cfg Config) *WebhookReconciler {
	cfg = cfg.withDefaults()
	return &WebhookReconciler{
		repo:     repo,
		verifier: verifier,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      nowUTC,
	}
}

func (w *WebhookReconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error) {
	ctx, span := tracer.Start(ctx, "payment_webhook")
	defer span.End()

	if err := w.verifier.Verify(payload, signature); err != nil {
		w.log.WarnContext(ctx, "rejected payment webhook", slog.Any("error", err))
		w.metrics.ObserveWebhook("unknown", string(OutcomeRejected))
		return OutcomeRejected, err
	}

	event, err := payment.ParseEvent(payload)
	if err != nil {
		w.log.WarnContext(ctx, "malformed payment webhook", slog.Any("error", err))
		w.metrics.ObserveWebhook("unknown", string(OutcomeRejected))
		return OutcomeRejected, err
	}
	span.SetAttributes(
		attribute.String("payment.event_id", event.ID),
		attribute.String("payment.event_type", string(event.Type)))

	outcome, err := w.reconcile(ctx, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if outcome != "" {
		w.metrics.ObserveWebhook(string(event.Type), string(outcome))
	}
	return outcome, err
}

func (w *WebhookReconciler) reconcile(ctx context.Context, ev *payment.Event) (WebhookOutcome, error) {
	orderID, err := w.resolveOrder(ctx, ev.Data)
	if errors.Is(err, ErrOrderNotFound) {
		// acknowledged so the provider stops retrying; nothing here can ever match it
		if err := w.repo.WithTx(ctx, func(tx r.Tx) error {
			_, err := tx.RecordWebhookEvent(ctx, r.WebhookEventRecord{EventID: ev.ID, EventType: string(ev.Type)})
			return err
		}); err != nil {
			return "", fmt.Errorf("record webhook event: %w", err)
		}
		w.log.WarnContext(ctx, "payment event for unknown order",
			slog.String("event_id", ev.ID),
			slog.String("event_type", string(ev.Type)),
			slog.String("order_id", ev.Data.OrderID),
			slog.String("order_number", ev.Data.OrderNumber))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	var (
		outcome   WebhookOutcome
		shortfall *d.OrderItem
	)
	err = w.repo.WithTx(ctx, func(tx r.Tx) error {
		fresh, err := tx.RecordWebhookEvent(ctx, r.WebhookEventRecord{EventID: ev.ID, EventType: string(ev.Type), OrderID: &orderID})
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}

		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == d.PaymentStatusCompleted {
			outcome = OutcomeAlreadyPaid
			return nil
		}

		switch ev.Type {
		case payment.EventPaymentSucceeded:
			outcome, shortfall, err = w.markPaid(ctx, tx, order, ev)
		case payment.EventPaymentFailed:
			outcome, err = w.markUnpaid(ctx, tx, order, ev, d.OrderStatusFailed, EventOrderPaymentFailed)
		case payment.EventPaymentCanceled:
			outcome, err = w.markUnpaid(ctx, tx, order, ev, d.OrderStatusCancelled, EventOrderCancelled)
		default:
			outcome = OutcomeIgnored
		}
		return err
	})

	if shortfall != nil && errors.Is(err, r.ErrStockConflict) {
		return w.recordStockConflict(ctx, ev, orderID, *shortfall)
	}
	if err != nil {
		return "", fmt.Errorf("reconcile payment event %s: %w", ev.ID, err)
	}

	w.log.InfoContext(ctx, "payment event reconciled",
		slog.String("event_id", ev.ID),
		slog.String("event_type", string(ev.Type)),
		slog.String("order_id", orderID.String()),
		slog.String("outcome", string(outcome)))
	return outcome, nil
}

// resolveOrder finds the order by id and falls back to the order number when the id is
// missing, malformed or unknown.
func (w *WebhookReconciler) resolveOrder(ctx context.Context, data payment.EventData) (uuid.UUID, error) {
	var (
		order *d.Order
		err   = r.ErrOrderNotFound
	)
	if id, parseErr := uuid.Parse(data.OrderID); parseErr == nil {
		order, err = w.repo.GetOrderByID(ctx, id)
	}
	if errors.Is(err, r.ErrOrderNotFound) && data.OrderNumber != "" {
		order, err = w.repo.GetOrderByNumber(ctx, data.OrderNumber)
	}

	if errors.Is(err, r.ErrOrderNotFound) {
		return uuid.Nil, ErrOrderNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve order: %w", err)
	}
	return order.ID, nil
}

// markPaid takes the stock of every item not yet committed and records the payment. When some
// item cannot be covered it returns that item and ErrStockConflict so the caller rolls back.
func (w *WebhookReconciler) markPaid(ctx context.Context, tx r.Tx, order *d.Order, ev *payment.Event) (WebhookOutcome, *d.OrderItem, error) {
	if !d.CanTransitionTo(order.Status, d.OrderStatusPaid) {
		return "", nil, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, order.Status, d.OrderStatusPaid)
	}

	if item, err := commitStock(ctx, tx, order.Items); err != nil {
		return "", item, err
	}

	needsReconciliation := order.NeedsReconciliation
	if amountMismatch(order, ev.Data) {
		w.log.WarnContext(ctx, "paid amount differs from order total",
			slog.String("order_number", order.OrderNumber),
			slog.Int64("grand_total", order.Totals.GrandTotal),
			slog.Int64("paid_amount", ev.Data.AmountMinor),
			slog.String("paid_currency", ev.Data.Currency))
		needsReconciliation = true
	}

	paidAt := w.now()
	if err := w.apply(ctx, tx, order, r.OrderStatusUpdate{
		OrderID:             order.ID,
		Status:              d.OrderStatusPaid,
		PaymentStatus:       d.PaymentStatusCompleted,
		PaymentReference:    paymentReference(order, ev.Data),
		PaidAt:              &paidAt,
		NeedsReconciliation: needsReconciliation,
	}, EventOrderPaid); err != nil {
		return "", nil, err
	}
	return OutcomeApplied, nil, nil
}

// markUnpaid moves a pending order to FAILED or CANCELLED and gives its stock back.
// Orders no longer pending are left alone.
func (w *WebhookReconciler) markUnpaid(ctx context.Context, tx r.Tx, order *d.Order, ev *payment.Event, status d.OrderStatus, eventType string) (WebhookOutcome, error) {
	if order.Status != d.OrderStatusPendingPayment || !d.CanTransitionTo(order.Status, status) {
		return OutcomeIgnored, nil
	}

	if err := releaseStock(ctx, tx, order.Items); err != nil {
		return "", err
	}

	if err := w.apply(ctx, tx, order, r.OrderStatusUpdate{
		OrderID:             order.ID,
		Status:              status,
		PaymentStatus:       d.PaymentStatusFailed,
		PaymentReference:    paymentReference(order, ev.Data),
		NeedsReconciliation: order.NeedsReconciliation,
	}, eventType); err != nil {
		return "", err
	}
	if ev.Data.FailureReason != "" {
		w.log.InfoContext(ctx, "payment not completed",
			slog.String("order_number", order.OrderNumber),
			slog.String("status", status.String()),
			slog.String("reason", ev.Data.FailureReason))
	}
	return OutcomeApplied, nil
}

// recordStockConflict runs after the paid transaction rolled back. The money has been taken,
// so the order is still marked paid, flagged for reconciliation and reported as a fatal conflict.
func (w *WebhookReconciler) recordStockConflict(ctx context.Context, ev *payment.Event, orderID uuid.UUID, item d.OrderItem) (WebhookOutcome, error) {
	var (
		order   *d.Order
		outcome WebhookOutcome
	)
	err := w.repo.WithTx(ctx, func(tx r.Tx) error {
		fresh, err := tx.RecordWebhookEvent(ctx, r.WebhookEventRecord{EventID: ev.ID, EventType: string(ev.Type), OrderID: &orderID})
		if err != nil {
			return err
		}
		if !fresh {
			outcome = OutcomeDuplicate
			return nil
		}

		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == d.PaymentStatusCompleted {
			outcome = OutcomeAlreadyPaid
			return nil
		}

		paidAt := w.now()
		outcome = OutcomeStockConflict
		return w.apply(ctx, tx, order, r.OrderStatusUpdate{
			OrderID:             order.ID,
			Status:              d.OrderStatusPaid,
			PaymentStatus:       d.PaymentStatusCompleted,
			PaymentReference:    paymentReference(order, ev.Data),
			PaidAt:              &paidAt,
			NeedsReconciliation: true,
		}, EventOrderStockConflict)
	})
	if err != nil {
		return "", fmt.Errorf("record stock conflict for order %s: %w", orderID, err)
	}
	if outcome != OutcomeStockConflict {
		return outcome, nil
	}

	w.metrics.StockConflict("payment")
	conflict := &StockConflictError{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ListingID:   item.ListingID,
		VariantID:   item.VariantID,
		Quantity:    item.Quantity,
		Err:         r.ErrStockConflict,
	}
	if order.PaymentReference != nil {
		conflict.PaymentReference = *order.PaymentReference
	}

	attrs := []any{
		slog.String("order_id", order.ID.String()),
		slog.String("order_number", order.OrderNumber),
		slog.String("buyer_id", order.BuyerID),
		slog.String("listing_id", item.ListingID.String()),
		slog.Int("quantity", int(item.Quantity)),
		slog.String("payment_reference", conflict.PaymentReference),
		slog.String("event_id", ev.ID),
	}
	if item.VariantID != nil {
		attrs = append(attrs, slog.String("variant_id", item.VariantID.String()))
	}
	w.log.ErrorContext(ctx, "payment confirmed for unavailable stock, order needs reconciliation", attrs...)
	return OutcomeStockConflict, conflict
}

// apply persists the update, mirrors it onto order and appends the outbox event.
func (w *WebhookReconciler) apply(ctx context.Context, tx r.Tx, order *d.Order, update r.OrderStatusUpdate, eventType string) error {
	if err := tx.UpdateOrderStatus(ctx, update); err != nil {
		return err
	}
	order.Status = update.Status
	order.PaymentStatus = update.PaymentStatus
	order.PaymentReference = update.PaymentReference
	order.PaidAt = update.PaidAt
	order.NeedsReconciliation = update.NeedsReconciliation
	return appendOrderEvent(ctx, tx, eventType, order, w.now())
}

func paymentReference(order *d.Order, data payment.EventData) *string {
	if data.PaymentReference != "" {
		ref := data.PaymentReference
		return &ref
	}
	return order.PaymentReference
}

func amountMismatch(order *d.Order, data payment.EventData) bool {
	if data.AmountMinor != 0 && data.AmountMinor != order.Totals.GrandTotal {
		return true
	}
	return data.Currency != "" && !strings.EqualFold(data.Currency, order.Currency)
}
