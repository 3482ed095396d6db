package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/checkout-engine/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) (*MemoryStore, uuid.UUID) {
	t.Helper()
	store := NewMemoryStore()
	shopID, listingID := uuid.New(), uuid.New()
	store.SeedShop(domain.Shop{ID: shopID, OwnerUserID: "seller-1", ReturnPolicyType: domain.ReturnPolicyNone})
	store.SeedListing(domain.Listing{
		ID:           listingID,
		ShopID:       shopID,
		SellerID:     "seller-1",
		Title:        "Mug",
		Status:       domain.ListingStatusPublished,
		BasePrice:    1000,
		BaseQuantity: 5,
		Currency:     "USD",
	})
	return store, listingID
}

func TestMemoryStore_WithTxRollsBack(t *testing.T) {
	store, listingID := seedMemory(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, listingID, nil, 2))
		require.NoError(t, tx.InsertOutboxEvent(ctx, "a", "order.created", nil))
		return boom
	})
	require.ErrorIs(t, err, boom)

	l, _ := store.Listing(listingID)
	assert.Equal(t, int32(5), l.BaseQuantity)
	assert.Empty(t, store.OutboxEventTypes())
}

func TestMemoryStore_CancelledContextDoesNotCommit(t *testing.T) {
	store, listingID := seedMemory(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithTx(ctx, func(tx Tx) error {
		cancel()
		return tx.DecrementStock(ctx, listingID, nil, 1)
	})
	require.ErrorIs(t, err, context.Canceled)

	l, _ := store.Listing(listingID)
	assert.Equal(t, int32(5), l.BaseQuantity)
}

func TestMemoryStore_DecrementVariantOverride(t *testing.T) {
	store, listingID := seedMemory(t)
	ctx := context.Background()

	zero, two := int32(0), int32(2)
	soldOut := domain.Variant{ID: uuid.New(), ListingID: listingID, QuantityOverride: &zero, Active: true}
	limited := domain.Variant{ID: uuid.New(), ListingID: listingID, QuantityOverride: &two, Active: true}
	inherits := domain.Variant{ID: uuid.New(), ListingID: listingID, Active: true}
	store.SeedVariant(soldOut)
	store.SeedVariant(limited)
	store.SeedVariant(inherits)

	err := store.WithTx(ctx, func(tx Tx) error { return tx.DecrementStock(ctx, listingID, &soldOut.ID, 1) })
	assert.ErrorIs(t, err, ErrStockConflict)

	err = store.WithTx(ctx, func(tx Tx) error { return tx.DecrementStock(ctx, listingID, &limited.ID, 2) })
	require.NoError(t, err)
	v, _ := store.Variant(limited.ID)
	assert.Equal(t, int32(0), *v.QuantityOverride)
	// the seeded value was not mutated through the shared pointer
	assert.Equal(t, int32(2), two)

	err = store.WithTx(ctx, func(tx Tx) error { return tx.DecrementStock(ctx, listingID, &inherits.ID, 4) })
	require.NoError(t, err)
	l, _ := store.Listing(listingID)
	assert.Equal(t, int32(1), l.BaseQuantity)
}

func TestMemoryStore_UniqueIdempotencyKey(t *testing.T) {
	store, listingID := seedMemory(t)
	ctx := context.Background()

	create := func(key string) error {
		return store.WithTx(ctx, func(tx Tx) error {
			return tx.CreateOrder(ctx, &domain.Order{
				ID:             uuid.New(),
				OrderNumber:    "ORD-" + uuid.NewString(),
				IdempotencyKey: key,
				BuyerID:        "buyer-1",
				Status:         domain.OrderStatusPendingPayment,
				Items:          []domain.OrderItem{{ID: uuid.New(), ListingID: listingID, Quantity: 1, CreatedAt: time.Now()}},
				CreatedAt:      time.Now(),
			})
		})
	}

	require.NoError(t, create("k"))
	assert.ErrorIs(t, create("k"), ErrDuplicateIdempotencyKey)

	order, err := store.GetOrderByIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, order.Items, 1)

	_, err = store.GetOrderByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrIdempotencyKeyNotFound)
}

func TestMemoryStore_WebhookAndOutbox(t *testing.T) {
	store, _ := seedMemory(t)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, store.WithTx(ctx, func(tx Tx) (err error) {
		first, err = tx.RecordWebhookEvent(ctx, WebhookEventRecord{EventID: "evt_1"})
		if err != nil {
			return err
		}
		return tx.InsertOutboxEvent(ctx, "o", "order.paid", []byte(`{}`))
	}))
	require.NoError(t, store.WithTx(ctx, func(tx Tx) (err error) {
		second, err = tx.RecordWebhookEvent(ctx, WebhookEventRecord{EventID: "evt_1"})
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	events, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
