package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	d "github.com/fjod/checkout-engine/domain"
	r "github.com/fjod/checkout-engine/internal/repository"
)

// resolvedLine is a cart line joined with the catalog rows it refers to, read inside the
// checkout transaction.
type resolvedLine struct {
	line      d.CartLine
	listing   *d.Listing
	variant   *d.Variant
	shop      *d.Shop
	unitPrice int64
}

func (l *resolvedLine) priced() PricedLine {
	return PricedLine{
		ListingID: l.listing.ID,
		VariantID: l.line.VariantID,
		ShopID:    l.listing.ShopID,
		UnitPrice: l.unitPrice,
		Quantity:  l.line.Quantity,
		LineTotal: l.unitPrice * int64(l.line.Quantity),
	}
}

// validateCart checks every line and reports all violations at once.
func validateCart(ctx context.Context, tx r.Tx, buyerID string, cart *d.Cart) ([]*resolvedLine, error) {
	var (
		lines      []*resolvedLine
		violations []LineViolation
		currency   string
	)
	for _, line := range cart.Lines {
		resolved, violation, err := resolveLine(ctx, tx, buyerID, line)
		if err != nil {
			return nil, err
		}
		if violation != nil {
			violations = append(violations, *violation)
			continue
		}

		switch {
		case currency == "":
			currency = resolved.listing.Currency
		case resolved.listing.Currency != currency:
			violations = append(violations, newViolation(line, ViolationCurrencyMismatch,
				fmt.Sprintf("listing is priced in %s, cart is in %s", resolved.listing.Currency, currency)))
			continue
		}
		lines = append(lines, resolved)
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return lines, nil
}

// resolveLine loads the catalog rows for one line and checks that buyerID may buy it as requested.
// Business problems come back as a violation; only infrastructure failures are errors.
func resolveLine(ctx context.Context, tx r.Tx, buyerID string, line d.CartLine) (*resolvedLine, *LineViolation, error) {
	listing, err := tx.GetListing(ctx, line.ListingID)
	if errors.Is(err, r.ErrListingNotFound) {
		v := newViolation(line, ViolationNotPurchasable, "listing no longer exists")
		return nil, &v, nil
	}
	if err != nil {
		return nil, nil, err
	}

	shop, err := tx.GetShop(ctx, listing.ShopID)
	if err != nil && !errors.Is(err, r.ErrShopNotFound) {
		return nil, nil, err
	}

	var variant *d.Variant
	if line.VariantID != nil {
		variant, err = tx.GetVariant(ctx, *line.VariantID)
		if err != nil && !errors.Is(err, r.ErrVariantNotFound) {
			return nil, nil, err
		}
	}

	if kind, msg := checkPurchasable(buyerID, listing, shop, variant, line); kind != "" {
		v := newViolation(line, kind, msg)
		return nil, &v, nil
	}

	if msg := checkPersonalization(listing.PersonalizationRules, line.Personalization); msg != "" {
		v := newViolation(line, ViolationPersonalization, msg)
		return nil, &v, nil
	}

	if err := CheckAvailability(listing, variant, line.Quantity); err != nil {
		var stockErr *InsufficientStockError
		if !errors.As(err, &stockErr) {
			return nil, nil, err
		}
		v := newViolation(line, ViolationInsufficientStock,
			fmt.Sprintf("requested %d, only %d available", stockErr.Requested, stockErr.Available))
		v.Requested, v.Available = stockErr.Requested, &stockErr.Available
		return nil, &v, nil
	}

	return &resolvedLine{
		line:      line,
		listing:   listing,
		variant:   variant,
		shop:      shop,
		unitPrice: d.EffectivePrice(listing, variant),
	}, nil, nil
}

func checkPurchasable(buyerID string, listing *d.Listing, shop *d.Shop, variant *d.Variant, line d.CartLine) (ViolationKind, string) {
	switch {
	case listing.Status != d.ListingStatusPublished:
		return ViolationNotPurchasable, fmt.Sprintf("listing is %s", listing.Status)
	case !listing.VisibleTo(buyerID):
		return ViolationNotPurchasable, "listing is reserved for another buyer"
	case listing.SellerID == buyerID, shop != nil && shop.OwnerUserID == buyerID:
		return ViolationSelfPurchase, "cannot buy from your own shop"
	}

	if line.VariantID != nil {
		switch {
		case variant == nil:
			return ViolationNotPurchasable, "variant no longer exists"
		case variant.ListingID != listing.ID:
			return ViolationNotPurchasable, "variant does not belong to listing"
		case !variant.Active:
			return ViolationNotPurchasable, "variant is not available"
		}
	}
	return "", ""
}

func checkPersonalization(rules []d.PersonalizationField, answers map[string]string) string {
	var problems []string
	for _, rule := range rules {
		answer := strings.TrimSpace(answers[rule.Key])
		if rule.Required && answer == "" {
			problems = append(problems, fmt.Sprintf("%q is required", rule.Label))
			continue
		}
		if rule.MaxLength > 0 && utf8.RuneCountInString(answer) > rule.MaxLength {
			problems = append(problems, fmt.Sprintf("%q is longer than %d characters", rule.Label, rule.MaxLength))
		}
	}
	return strings.Join(problems, ", ")
}

func newViolation(line d.CartLine, kind ViolationKind, msg string) LineViolation {
	return LineViolation{
		LineID:    line.ID,
		ListingID: line.ListingID,
		VariantID: line.VariantID,
		Kind:      kind,
		Message:   msg,
		Requested: line.Quantity,
	}
}
