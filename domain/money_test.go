package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	zero, five := int64(0), int64(5)

	assert.Equal(t, int64(10), Resolve[int64](10, nil))
	assert.Equal(t, int64(5), Resolve(10, &five))
	// an explicit zero is a real override, not a missing one
	assert.Equal(t, int64(0), Resolve(10, &zero))
}

func TestEffectivePriceAndStock(t *testing.T) {
	listing := &Listing{BasePrice: 1500, BaseQuantity: 4}
	price, qty := int64(1800), int32(0)

	tests := []struct {
		name      string
		variant   *Variant
		wantPrice int64
		wantStock int32
	}{
		{"no variant", nil, 1500, 4},
		{"variant inherits", &Variant{}, 1500, 4},
		{"variant overrides", &Variant{PriceOverride: &price, QuantityOverride: &qty}, 1800, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPrice, EffectivePrice(listing, tt.variant))
			assert.Equal(t, tt.wantStock, EffectiveStock(listing, tt.variant))
		})
	}
}

func TestGrandTotal(t *testing.T) {
	assert.Equal(t, int64(3300), GrandTotal(3000, 500, 0, 200))
	assert.Equal(t, int64(0), GrandTotal(1000, 0, 0, 5000))
}

func TestCartIsEmpty(t *testing.T) {
	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.True(t, (&Cart{}).IsEmpty())
	assert.False(t, (&Cart{Lines: []CartLine{{Quantity: 1}}}).IsEmpty())
}

func TestListingVisibleTo(t *testing.T) {
	owner := "buyer-1"
	assert.True(t, (&Listing{}).VisibleTo("anyone"))
	private := &Listing{RestrictedToUserID: &owner}
	assert.True(t, private.VisibleTo("buyer-1"))
	assert.False(t, private.VisibleTo("buyer-2"))
}
