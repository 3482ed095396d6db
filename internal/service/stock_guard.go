package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
)

// CheckAvailability is the advisory stock check. It reads a value that may be stale by
// the time the caller acts on it; only the repository's conditional decrement is authoritative.
func CheckAvailability(listing *d.Listing, variant *d.Variant, qty int32) error {
	available := d.EffectiveStock(listing, variant)
	if qty <= available {
		return nil
	}
	e := &InsufficientStockError{ListingID: listing.ID, Requested: qty, Available: available}
	if variant != nil {
		e.VariantID = &variant.ID
	}
	return e
}

// commitStock applies the authoritative decrement to every item not yet committed and marks it.
// It stops at the first item the stock cannot cover and returns that item with ErrStockConflict;
// the caller must roll back.
func commitStock(ctx context.Context, tx r.Tx, items []d.OrderItem) (*d.OrderItem, error) {
	for _, i := range stockOrder(items) {
		item := &items[i]
		if item.StockCommitted {
			continue
		}
		if err := tx.DecrementStock(ctx, item.ListingID, item.VariantID, item.Quantity); err != nil {
			if errors.Is(err, r.ErrStockConflict) {
				return item, err
			}
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		if err := tx.SetItemStockCommitted(ctx, item.ID, true); err != nil {
			return nil, err
		}
		item.StockCommitted = true
	}
	return nil, nil
}

// releaseStock gives back the stock of every committed item so a later payment can take it again.
func releaseStock(ctx context.Context, tx r.Tx, items []d.OrderItem) error {
	for _, i := range stockOrder(items) {
		item := &items[i]
		if !item.StockCommitted {
			continue
		}
		if err := tx.RestoreStock(ctx, item.ListingID, item.VariantID, item.Quantity); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
		if err := tx.SetItemStockCommitted(ctx, item.ID, false); err != nil {
			return err
		}
		item.StockCommitted = false
	}
	return nil
}

// currentStock re-reads the effective stock after a lost decrement race.
func currentStock(ctx context.Context, tx r.Tx, listingID uuid.UUID, variantID *uuid.UUID) int32 {
	listing, err := tx.GetListing(ctx, listingID)
	if err != nil {
		return 0
	}
	var variant *d.Variant
	if variantID != nil {
		if variant, err = tx.GetVariant(ctx, *variantID); err != nil {
			return 0
		}
	}
	return d.EffectiveStock(listing, variant)
}

// stockOrder returns item indexes sorted by (listing id, variant id), nil variant first.
// Every transaction touches stock rows in this order, so two orders holding the same
// listings never wait on each other's row locks.
func stockOrder(items []d.OrderItem) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		x, y := items[a], items[b]
		if c := bytes.Compare(x.ListingID[:], y.ListingID[:]); c != 0 {
			return c
		}
		switch {
		case x.VariantID == nil && y.VariantID == nil:
			return 0
		case x.VariantID == nil:
			return -1
		case y.VariantID == nil:
			return 1
		}
		return bytes.Compare(x.VariantID[:], y.VariantID[:])
	})
	return idx
}
