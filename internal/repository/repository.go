package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/checkout-engine/domain"
	"github.com/google/uuid"
)

var (
	ErrIdempotencyKeyNotFound  = errors.New("idempotency key not found")
	ErrDuplicateIdempotencyKey = errors.New("order for this idempotency key already exists")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrOrderNotFound           = errors.New("order not found")
	ErrCartNotFound            = errors.New("cart not found")
	ErrCartLineNotFound        = errors.New("cart line not found")
	ErrListingNotFound         = errors.New("listing not found")
	ErrVariantNotFound         = errors.New("variant not found")
	ErrShopNotFound            = errors.New("shop not found")
	// ErrStockConflict is returned when a conditional decrement affected no rows.
	ErrStockConflict = errors.New("stock conflict: quantity not available")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type WebhookEventRecord struct {
	EventID   string
	EventType string
	OrderID   *uuid.UUID
}

// OrderStatusUpdate carries every mutable field of an order.
type OrderStatusUpdate struct {
	OrderID             uuid.UUID
	Status              domain.OrderStatus
	PaymentStatus       domain.PaymentStatus
	PaymentReference    *string
	PaidAt              *time.Time
	NeedsReconciliation bool
}

// Tx is the set of operations available inside one all-or-nothing unit of work.
type Tx interface {
	GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error)
	GetShop(ctx context.Context, id uuid.UUID) (*domain.Shop, error)

	// LockCart returns the buyer's cart and holds it until the transaction ends.
	LockCart(ctx context.Context, userID string) (*domain.Cart, error)
	EnsureCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddCartLine(ctx context.Context, cartID uuid.UUID, line *domain.CartLine) error
	UpdateCartLine(ctx context.Context, cartID uuid.UUID, line *domain.CartLine) error
	DeleteCartLine(ctx context.Context, cartID, lineID uuid.UUID) error
	DeleteCartLines(ctx context.Context, cartID uuid.UUID) error

	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	// LockOrder loads an order with its items and holds it until the transaction ends.
	LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	UpdateOrderStatus(ctx context.Context, update OrderStatusUpdate) error
	SetItemStockCommitted(ctx context.Context, itemID uuid.UUID, committed bool) error

	// DecrementStock is the only operation that removes inventory. It is a single
	// conditional update and returns ErrStockConflict when fewer than qty units remain.
	DecrementStock(ctx context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error
	RestoreStock(ctx context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error

	InsertOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
	// RecordWebhookEvent stores a delivery and reports false when the event id was already seen.
	RecordWebhookEvent(ctx context.Context, event WebhookEventRecord) (bool, error)
}

type RepoInterface interface {
	Close() error
	RunMigrations(*Credentials) error

	// WithTx runs fn inside a transaction. It commits when fn returns nil and rolls back otherwise,
	// including when ctx is cancelled.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
