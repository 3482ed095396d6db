package service

import (
	"context"
	"testing"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	sellerID = "seller-1"
	buyerID  = "buyer-1"
)

var testAddress = d.ShippingAddress{
	Name:       "Ann Buyer",
	Line1:      "1 Main St",
	City:       "Springfield",
	PostalCode: "12345",
	Country:    "US",
}

type fixture struct {
	store  *r.MemoryStore
	shopID uuid.UUID
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: r.NewMemoryStore(), shopID: uuid.New(), clock: time.Now().UTC()}
	f.store.SeedShop(d.Shop{ID: f.shopID, OwnerUserID: sellerID, ReturnPolicyType: d.ReturnPolicyReturns, ReturnWindowDays: 30})
	return f
}

// listing seeds a published listing; edit adjusts it before it is stored.
func (f *fixture) listing(price int64, qty int32, edit ...func(*d.Listing)) d.Listing {
	l := d.Listing{
		ID:                uuid.New(),
		ShopID:            f.shopID,
		SellerID:          sellerID,
		Title:             "Hand-thrown mug",
		ListingType:       "physical",
		Slug:              "hand-thrown-mug",
		Status:            d.ListingStatusPublished,
		BasePrice:         price,
		BaseQuantity:      qty,
		Currency:          "USD",
		ProcessingMode:    d.ProcessingReadyToShip,
		ProcessingMinDays: 1,
		ProcessingMaxDays: 3,
		UpdatedAt:         time.Now().UTC(),
	}
	for _, fn := range edit {
		fn(&l)
	}
	f.store.SeedListing(l)
	return l
}

func (f *fixture) variant(listingID uuid.UUID, price *int64, qty *int32) d.Variant {
	v := d.Variant{
		ID:               uuid.New(),
		ListingID:        listingID,
		Selections:       []d.Selection{{Group: "Size", Value: "L"}, {Group: "Glaze", Value: "Blue"}},
		PriceOverride:    price,
		QuantityOverride: qty,
		Active:           true,
	}
	f.store.SeedVariant(v)
	return v
}

// addLine writes a cart line directly, skipping the cart service checks.
func (f *fixture) addLine(t *testing.T, userID string, line d.CartLine) d.CartLine {
	t.Helper()
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	if line.AddedAt.IsZero() {
		// lines are ordered by AddedAt; keep them strictly increasing
		f.clock = f.clock.Add(time.Millisecond)
		line.AddedAt = f.clock
	}
	ctx := context.Background()
	err := f.store.WithTx(ctx, func(tx r.Tx) error {
		cart, err := tx.EnsureCart(ctx, userID)
		if err != nil {
			return err
		}
		return tx.AddCartLine(ctx, cart.ID, &line)
	})
	require.NoError(t, err)
	return line
}

func (f *fixture) stock(t *testing.T, listingID uuid.UUID) int32 {
	t.Helper()
	l, ok := f.store.Listing(listingID)
	require.True(t, ok)
	return l.BaseQuantity
}

func (f *fixture) cartLines(t *testing.T, userID string) []d.CartLine {
	t.Helper()
	cart, err := f.store.GetCart(context.Background(), userID)
	require.NoError(t, err)
	return cart.Lines
}

func checkoutRequest(userID, key string) *d.CheckoutRequest {
	return &d.CheckoutRequest{BuyerID: userID, IdempotencyKey: key, ShippingAddress: testAddress}
}

func ptr[T any](v T) *T {
	return &v
}
