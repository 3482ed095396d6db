package domain

import (
	"time"

	"github.com/google/uuid"
)

type ShippingAddress struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Totals are frozen at order creation and never recomputed from the items.
type Totals struct {
	Subtotal   int64 `json:"subtotal"`
	Shipping   int64 `json:"shipping"`
	Tax        int64 `json:"tax"`
	Discount   int64 `json:"discount"`
	GrandTotal int64 `json:"grand_total"`
}

type Order struct {
	ID                  uuid.UUID       `json:"id"`
	OrderNumber         string          `json:"order_number"`
	IdempotencyKey      string          `json:"-"`
	BuyerID             string          `json:"buyer_id"`
	Status              OrderStatus     `json:"status"`
	PaymentStatus       PaymentStatus   `json:"payment_status"`
	Currency            string          `json:"currency"`
	Totals              Totals          `json:"totals"`
	ShippingAddress     ShippingAddress `json:"shipping_address"`
	PaymentReference    *string         `json:"payment_reference"`
	PaidAt              *time.Time      `json:"paid_at"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	Items               []OrderItem     `json:"items"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID             uuid.UUID  `json:"id"`
	OrderID        uuid.UUID  `json:"order_id"`
	ListingID      uuid.UUID  `json:"listing_id"`
	VariantID      *uuid.UUID `json:"variant_id"`
	Title          string     `json:"title"`
	UnitPrice      int64      `json:"unit_price"`
	Quantity       int32      `json:"quantity"`
	LineTotal      int64      `json:"line_total"`
	Snapshot       Snapshot   `json:"snapshot"`
	Position       int32      `json:"position"`
	StockCommitted bool       `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
}
