package domain

// Amount is the set of integer types used for minor-unit money and stock counts.
type Amount interface {
	~int32 | ~int64
}

// Resolve returns the override when one is present, including an explicit zero,
// and falls back to base otherwise.
func Resolve[T Amount](base T, override *T) T {
	if override != nil {
		return *override
	}
	return base
}

// EffectivePrice is the unit price charged for a listing, optionally narrowed to a variant.
func EffectivePrice(listing *Listing, variant *Variant) int64 {
	if variant == nil {
		return listing.BasePrice
	}
	return Resolve(listing.BasePrice, variant.PriceOverride)
}

// EffectiveStock is the quantity currently sellable for a listing, optionally narrowed to a variant.
// A variant override of 0 means the variant is sold out.
func EffectiveStock(listing *Listing, variant *Variant) int32 {
	if variant == nil {
		return listing.BaseQuantity
	}
	return Resolve(listing.BaseQuantity, variant.QuantityOverride)
}

// GrandTotal clamps the order total at zero.
func GrandTotal(subtotal, shipping, tax, discount int64) int64 {
	total := subtotal + shipping + tax - discount
	if total < 0 {
		return 0
	}
	return total
}
