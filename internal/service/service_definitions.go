package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/cache"
	"github.com/fjod/checkout-engine/internal/metrics"
	"github.com/fjod/checkout-engine/internal/payment"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/fjod/checkout-engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/fjod/checkout-engine/internal/service")

type CheckoutService interface {
	Checkout(ctx context.Context, request *d.CheckoutRequest) (*d.CheckoutResponse, error)
	GetOrder(ctx context.Context, buyerID string, orderID uuid.UUID) (*d.Order, error)
	ListOrders(ctx context.Context, buyerID string) ([]*d.Order, error)
	CreatePaymentIntent(ctx context.Context, buyerID string, orderID uuid.UUID) (*payment.Intent, error)
}

// DecrementPoint selects where the authoritative stock decrement happens.
type DecrementPoint string

const (
	DecrementAtCheckout DecrementPoint = "checkout"
	DecrementAtPayment  DecrementPoint = "payment"
)

func ParseDecrementPoint(s string) (DecrementPoint, error) {
	switch p := DecrementPoint(s); p {
	case DecrementAtCheckout, DecrementAtPayment:
		return p, nil
	case "":
		return DecrementAtCheckout, nil
	default:
		return "", fmt.Errorf("unknown stock decrement point %q", s)
	}
}

// PricedLine is a validated cart line with its server-side price.
type PricedLine struct {
	ListingID uuid.UUID
	VariantID *uuid.UUID
	ShopID    uuid.UUID
	UnitPrice int64
	Quantity  int32
	LineTotal int64
}

type ShippingCalculator interface {
	Shipping(ctx context.Context, lines []PricedLine, address d.ShippingAddress) (int64, error)
}

type DiscountPolicy interface {
	Discount(ctx context.Context, buyerID string, subtotal int64) (int64, error)
}

// TaxRateLookup returns a fractional rate, e.g. 0.0825 for 8.25%.
type TaxRateLookup interface {
	TaxRate(ctx context.Context, address d.ShippingAddress) (decimal.Decimal, error)
}

// FlatShipping charges Amount per order, or nothing once the subtotal reaches FreeOver (when set).
type FlatShipping struct {
	Amount   int64
	FreeOver int64
}

func (f FlatShipping) Shipping(_ context.Context, lines []PricedLine, _ d.ShippingAddress) (int64, error) {
	if f.FreeOver > 0 {
		var subtotal int64
		for _, l := range lines {
			subtotal += l.LineTotal
		}
		if subtotal >= f.FreeOver {
			return 0, nil
		}
	}
	return f.Amount, nil
}

type NoDiscount struct{}

func (NoDiscount) Discount(context.Context, string, int64) (int64, error) { return 0, nil }

type FixedDiscount struct {
	Amount int64
}

func (f FixedDiscount) Discount(context.Context, string, int64) (int64, error) { return f.Amount, nil }

type FixedTaxRate struct {
	Rate decimal.Decimal
}

func (f FixedTaxRate) TaxRate(context.Context, d.ShippingAddress) (decimal.Decimal, error) {
	return f.Rate, nil
}

type Config struct {
	DecrementPoint DecrementPoint
	Shipping       ShippingCalculator
	Discount       DiscountPolicy
	Tax            TaxRateLookup
	Cache          cache.CartCache
	Provider       payment.Provider
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DecrementPoint == "" {
		c.DecrementPoint = DecrementAtCheckout
	}
	if c.Shipping == nil {
		c.Shipping = FlatShipping{}
	}
	if c.Discount == nil {
		c.Discount = NoDiscount{}
	}
	if c.Tax == nil {
		c.Tax = FixedTaxRate{Rate: decimal.Zero}
	}
	if c.Cache == nil {
		c.Cache = cache.NopCache{}
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	return c
}

type CheckoutServiceImpl struct {
	repo           r.RepoInterface
	cache          cache.CartCache
	provider       payment.Provider
	shipping       ShippingCalculator
	discount       DiscountPolicy
	tax            TaxRateLookup
	decrementPoint DecrementPoint
	metrics        *metrics.Metrics
	log            *slog.Logger
	now            func() time.Time
}

var _ CheckoutService = (*CheckoutServiceImpl)(nil)

func NewCheckoutService(repo r.RepoInterface, cfg Config) *CheckoutServiceImpl {
	cfg = cfg.withDefaults()
	return &CheckoutServiceImpl{
		repo:           repo,
		cache:          cfg.Cache,
		provider:       cfg.Provider,
		shipping:       cfg.Shipping,
		discount:       cfg.Discount,
		tax:            cfg.Tax,
		decrementPoint: cfg.DecrementPoint,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		now:            nowUTC,
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
