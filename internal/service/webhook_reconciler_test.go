package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/payment"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type webhookHarness struct {
	*fixture
	checkout   *CheckoutServiceImpl
	reconciler *WebhookReconciler
}

func newWebhookHarness(t *testing.T, point DecrementPoint) *webhookHarness {
	f := newFixture(t)
	return &webhookHarness{
		fixture:    f,
		checkout:   NewCheckoutService(f.store, Config{DecrementPoint: point}),
		reconciler: NewWebhookReconciler(f.store, payment.NewVerifier(webhookSecret, 0), Config{}),
	}
}

func (h *webhookHarness) placeOrder(t *testing.T, buyer string, listingID uuid.UUID, qty int32) *d.Order {
	t.Helper()
	h.addLine(t, buyer, d.CartLine{ListingID: listingID, Quantity: qty})
	resp, err := h.checkout.Checkout(context.Background(), checkoutRequest(buyer, uuid.NewString()))
	require.NoError(t, err)
	return resp.Order
}

func (h *webhookHarness) deliver(t *testing.T, ev payment.Event) (WebhookOutcome, error) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return h.reconciler.HandleWebhook(context.Background(), payload, payment.Sign(webhookSecret, payload, time.Now()))
}

func (h *webhookHarness) order(t *testing.T, id uuid.UUID) *d.Order {
	t.Helper()
	order, err := h.store.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func succeeded(eventID string, order *d.Order) payment.Event {
	return payment.Event{
		ID:   eventID,
		Type: payment.EventPaymentSucceeded,
		Data: payment.EventData{
			OrderID:          order.ID.String(),
			PaymentReference: "pi_" + eventID,
			AmountMinor:      order.Totals.GrandTotal,
			Currency:         "usd",
		},
	}
}

func TestWebhook_SucceededMarksPaid(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 2)

	outcome, err := h.deliver(t, succeeded("evt_1", order))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	paid := h.order(t, order.ID)
	assert.Equal(t, d.OrderStatusPaid, paid.Status)
	assert.Equal(t, d.PaymentStatusCompleted, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentReference)
	assert.Equal(t, "pi_evt_1", *paid.PaymentReference)
	assert.NotNil(t, paid.PaidAt)
	assert.False(t, paid.NeedsReconciliation)
	// decremented once, at checkout
	assert.Equal(t, int32(8), h.stock(t, listing.ID))
	assert.Equal(t, []string{EventOrderCreated, EventOrderPaid}, h.store.OutboxEventTypes())
}

func TestWebhook_RedeliveryIsNoop(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtPayment)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 2)
	assert.Equal(t, int32(10), h.stock(t, listing.ID))

	outcome, err := h.deliver(t, succeeded("evt_1", order))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int32(8), h.stock(t, listing.ID))

	outcome, err = h.deliver(t, succeeded("evt_1", order))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// a second event for the same payment, under a different id
	outcome, err = h.deliver(t, succeeded("evt_2", order))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, outcome)

	assert.Equal(t, int32(8), h.stock(t, listing.ID))
	assert.Equal(t, []string{EventOrderCreated, EventOrderPaid}, h.store.OutboxEventTypes())
}

func TestWebhook_InvalidSignatureChangesNothing(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	payload, _ := json.Marshal(succeeded("evt_1", order))
	outcome, err := h.reconciler.HandleWebhook(context.Background(), payload, payment.Sign("wrong", payload, time.Now()))

	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, d.OrderStatusPendingPayment, h.order(t, order.ID).Status)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	payload := []byte(`{"type":"payment.succeeded"}`)

	_, err := h.reconciler.HandleWebhook(context.Background(), payload, payment.Sign(webhookSecret, payload, time.Now()))

	assert.ErrorIs(t, err, payment.ErrMalformedEvent)
}

func TestWebhook_UnknownOrderIsAcknowledged(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)

	outcome, err := h.deliver(t, payment.Event{
		ID:   "evt_1",
		Type: payment.EventPaymentSucceeded,
		Data: payment.EventData{OrderID: uuid.NewString()},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)

	outcome, err = h.deliver(t, payment.Event{ID: "evt_2", Type: payment.EventPaymentSucceeded})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestWebhook_ResolvesByOrderNumber(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	ev := succeeded("evt_1", order)
	ev.Data.OrderID = ""
	ev.Data.OrderNumber = order.OrderNumber
	outcome, err := h.deliver(t, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, d.OrderStatusPaid, h.order(t, order.ID).Status)
}

func TestWebhook_FallsBackToOrderNumberWhenIDIsUnknown(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	ev := succeeded("evt_1", order)
	ev.Data.OrderID = uuid.NewString()
	ev.Data.OrderNumber = order.OrderNumber
	outcome, err := h.deliver(t, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, d.OrderStatusPaid, h.order(t, order.ID).Status)

	// neither id nor number known
	ev = succeeded("evt_2", order)
	ev.Data.OrderID = uuid.NewString()
	ev.Data.OrderNumber = "ORD-UNKNOWN"
	outcome, err = h.deliver(t, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestWebhook_UnknownEventTypeIgnored(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	outcome, err := h.deliver(t, payment.Event{ID: "evt_1", Type: "payment.refunded", Data: payment.EventData{OrderID: order.ID.String()}})

	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, d.OrderStatusPendingPayment, h.order(t, order.ID).Status)
}

func TestWebhook_FailedThenSucceeded(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 3)
	assert.Equal(t, int32(7), h.stock(t, listing.ID))

	outcome, err := h.deliver(t, payment.Event{
		ID:   "evt_1",
		Type: payment.EventPaymentFailed,
		Data: payment.EventData{OrderID: order.ID.String(), FailureReason: "card_declined"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	failed := h.order(t, order.ID)
	assert.Equal(t, d.OrderStatusFailed, failed.Status)
	assert.Equal(t, d.PaymentStatusFailed, failed.PaymentStatus)
	assert.False(t, failed.Items[0].StockCommitted)
	assert.Equal(t, int32(10), h.stock(t, listing.ID))

	// the buyer retried with another card
	outcome, err = h.deliver(t, succeeded("evt_2", order))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, d.OrderStatusPaid, h.order(t, order.ID).Status)
	assert.Equal(t, int32(7), h.stock(t, listing.ID))

	assert.Equal(t, []string{EventOrderCreated, EventOrderPaymentFailed, EventOrderPaid}, h.store.OutboxEventTypes())
}

func TestWebhook_CanceledAfterPaidIsIgnored(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	canceled := payment.Event{ID: "evt_c", Type: payment.EventPaymentCanceled, Data: payment.EventData{OrderID: order.ID.String()}}

	_, err := h.deliver(t, succeeded("evt_1", order))
	require.NoError(t, err)
	outcome, err := h.deliver(t, canceled)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyPaid, outcome)
	assert.Equal(t, d.OrderStatusPaid, h.order(t, order.ID).Status)
	assert.Equal(t, int32(9), h.stock(t, listing.ID))
}

func TestWebhook_Canceled(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	outcome, err := h.deliver(t, payment.Event{ID: "evt_1", Type: payment.EventPaymentCanceled, Data: payment.EventData{OrderID: order.ID.String()}})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	cancelled := h.order(t, order.ID)
	assert.Equal(t, d.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, d.PaymentStatusFailed, cancelled.PaymentStatus)
	assert.Equal(t, int32(10), h.stock(t, listing.ID))
}

func TestWebhook_StockConflictAfterPayment(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtPayment)
	listing := h.listing(1500, 1)
	first := h.placeOrder(t, "buyer-a", listing.ID, 1)
	second := h.placeOrder(t, "buyer-b", listing.ID, 1)

	_, err := h.deliver(t, succeeded("evt_b", second))
	require.NoError(t, err)
	assert.Equal(t, int32(0), h.stock(t, listing.ID))

	outcome, err := h.deliver(t, succeeded("evt_a", first))

	assert.Equal(t, OutcomeStockConflict, outcome)
	var conflict *StockConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, r.ErrStockConflict)
	assert.Equal(t, first.OrderNumber, conflict.OrderNumber)
	assert.Equal(t, listing.ID, conflict.ListingID)
	assert.Equal(t, "pi_evt_a", conflict.PaymentReference)

	flagged := h.order(t, first.ID)
	assert.Equal(t, d.OrderStatusPaid, flagged.Status)
	assert.Equal(t, d.PaymentStatusCompleted, flagged.PaymentStatus)
	assert.True(t, flagged.NeedsReconciliation)
	assert.False(t, flagged.Items[0].StockCommitted)
	assert.Equal(t, int32(0), h.stock(t, listing.ID))

	outcome, err = h.deliver(t, succeeded("evt_a", first))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, []string{EventOrderCreated, EventOrderCreated, EventOrderPaid, EventOrderStockConflict}, h.store.OutboxEventTypes())
}

func TestWebhook_AmountMismatchFlagsOrder(t *testing.T) {
	h := newWebhookHarness(t, DecrementAtCheckout)
	listing := h.listing(1500, 10)
	order := h.placeOrder(t, buyerID, listing.ID, 1)

	ev := succeeded("evt_1", order)
	ev.Data.AmountMinor = 1
	outcome, err := h.deliver(t, ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	paid := h.order(t, order.ID)
	assert.Equal(t, d.OrderStatusPaid, paid.Status)
	assert.True(t, paid.NeedsReconciliation)
}
