package service

import (
	"maps"
	"time"

	d "github.com/fjod/checkout-engine/domain"
)

const listingTypeDigital = "digital"

// BuildSnapshot freezes the catalog state an order item was bought under. Every section is
// copied, so later edits to the listing, variant or shop cannot reach the snapshot.
func BuildSnapshot(listing *d.Listing, variant *d.Variant, shop *d.Shop, personalization map[string]string, now time.Time) d.Snapshot {
	snap := d.Snapshot{
		Version:     d.SnapshotVersion,
		Title:       listing.Title,
		ListingType: listing.ListingType,
		CapturedAt:  now,
	}

	if variant != nil {
		// never nil: a variant without selections must still encode as []
		snap.VariantSelections = d.Some(append([]d.Selection{}, variant.Selections...))
	}
	if len(personalization) > 0 {
		snap.Personalization = d.Some(maps.Clone(personalization))
	}
	if listing.ListingType != listingTypeDigital && listing.ProcessingMode != "" {
		snap.Processing = d.Some(d.ProcessingWindow{
			Mode:            listing.ProcessingMode,
			MinDays:         listing.ProcessingMinDays,
			MaxDays:         listing.ProcessingMaxDays,
			EstimatedShipBy: now.AddDate(0, 0, int(listing.ProcessingMaxDays)),
		})
	}
	snap.ReturnPolicy = resolveReturnPolicy(listing, shop)
	return snap
}

// resolveReturnPolicy prefers the listing's own policy over the shop default.
func resolveReturnPolicy(listing *d.Listing, shop *d.Shop) d.Optional[d.ReturnPolicy] {
	if listing.ReturnPolicyType != nil {
		var window int32
		if listing.ReturnWindowDays != nil {
			window = *listing.ReturnWindowDays
		}
		return d.Some(d.ReturnPolicy{Type: *listing.ReturnPolicyType, WindowDays: window, Source: d.ReturnPolicyFromListing})
	}
	if shop != nil && shop.ReturnPolicyType != "" {
		return d.Some(d.ReturnPolicy{Type: shop.ReturnPolicyType, WindowDays: shop.ReturnWindowDays, Source: d.ReturnPolicyFromShop})
	}
	return d.None[d.ReturnPolicy]()
}
