package service

import (
	"context"
	"fmt"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/shopspring/decimal"
)

// computeTotals prices the order from server-side unit prices only.
func (s *CheckoutServiceImpl) computeTotals(ctx context.Context, buyerID string, lines []PricedLine, address d.ShippingAddress) (d.Totals, error) {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.LineTotal
	}

	shipping, err := s.shipping.Shipping(ctx, lines, address)
	if err != nil {
		return d.Totals{}, fmt.Errorf("calculate shipping: %w", err)
	}
	if shipping < 0 {
		return d.Totals{}, fmt.Errorf("calculate shipping: negative amount %d", shipping)
	}

	rate, err := s.tax.TaxRate(ctx, address)
	if err != nil {
		return d.Totals{}, fmt.Errorf("look up tax rate: %w", err)
	}
	if rate.IsNegative() {
		return d.Totals{}, fmt.Errorf("look up tax rate: negative rate %s", rate)
	}

	discount, err := s.discount.Discount(ctx, buyerID, subtotal)
	if err != nil {
		return d.Totals{}, fmt.Errorf("apply discount: %w", err)
	}
	if discount < 0 {
		return d.Totals{}, fmt.Errorf("apply discount: negative amount %d", discount)
	}

	tax := taxOn(subtotal, rate)
	return d.Totals{
		Subtotal:   subtotal,
		Shipping:   shipping,
		Tax:        tax,
		Discount:   discount,
		GrandTotal: d.GrandTotal(subtotal, shipping, tax, discount),
	}, nil
}

// taxOn applies rate to amount and rounds half up to whole minor units.
func taxOn(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}
