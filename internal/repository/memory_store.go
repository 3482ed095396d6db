package repository

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/fjod/checkout-engine/domain"
	"github.com/google/uuid"
)

type cartRecord struct {
	ID        uuid.UUID
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type cartLineRecord struct {
	CartID uuid.UUID
	Line   domain.CartLine
}

type memoryState struct {
	shops         map[uuid.UUID]domain.Shop
	listings      map[uuid.UUID]domain.Listing
	variants      map[uuid.UUID]domain.Variant
	carts         map[string]cartRecord // userID -> cart
	cartLines     map[uuid.UUID]cartLineRecord
	orders        map[uuid.UUID]domain.Order // stored without items
	orderItems    map[uuid.UUID]domain.OrderItem
	byIdempotency map[string]uuid.UUID
	byNumber      map[string]uuid.UUID
	outbox        []OutboxEvent
	processed     map[int64]bool
	webhookEvents map[string]WebhookEventRecord
	nextOutboxID  int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		shops:         make(map[uuid.UUID]domain.Shop),
		listings:      make(map[uuid.UUID]domain.Listing),
		variants:      make(map[uuid.UUID]domain.Variant),
		carts:         make(map[string]cartRecord),
		cartLines:     make(map[uuid.UUID]cartLineRecord),
		orders:        make(map[uuid.UUID]domain.Order),
		orderItems:    make(map[uuid.UUID]domain.OrderItem),
		byIdempotency: make(map[string]uuid.UUID),
		byNumber:      make(map[string]uuid.UUID),
		processed:     make(map[int64]bool),
		webhookEvents: make(map[string]WebhookEventRecord),
	}
}

// clone copies every table. Records are stored by value and replaced rather than
// mutated through pointers, so a shallow map copy isolates a transaction.
func (s *memoryState) clone() *memoryState {
	return &memoryState{
		shops:         maps.Clone(s.shops),
		listings:      maps.Clone(s.listings),
		variants:      maps.Clone(s.variants),
		carts:         maps.Clone(s.carts),
		cartLines:     maps.Clone(s.cartLines),
		orders:        maps.Clone(s.orders),
		orderItems:    maps.Clone(s.orderItems),
		byIdempotency: maps.Clone(s.byIdempotency),
		byNumber:      maps.Clone(s.byNumber),
		outbox:        slices.Clone(s.outbox),
		processed:     maps.Clone(s.processed),
		webhookEvents: maps.Clone(s.webhookEvents),
		nextOutboxID:  s.nextOutboxID,
	}
}

// MemoryStore implements RepoInterface in memory. Transactions are serialized and
// applied to a private copy of the state that replaces the shared state on commit.
type MemoryStore struct {
	txMu  sync.Mutex   // held for the whole of a transaction
	mu    sync.RWMutex // guards state
	state *memoryState
}

var _ RepoInterface = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) RunMigrations(*Credentials) error {
	return nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memoryTx{st: working}); err != nil {
		return err
	}
	// a request abandoned mid-transaction must not commit
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = working
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memoryTx{st: s.state}).LockCart(ctx, userID)
}

func (s *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memoryTx{st: s.state}).GetOrderByIdempotencyKey(ctx, key)
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&memoryTx{st: s.state}).LockOrder(ctx, id)
}

func (s *MemoryStore) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.byNumber[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return (&memoryTx{st: s.state}).LockOrder(ctx, id)
}

func (s *MemoryStore) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := &memoryTx{st: s.state}
	var orders []*domain.Order
	for id, o := range s.state.orders {
		if o.BuyerID != buyerID {
			continue
		}
		order, err := tx.LockOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	slices.SortFunc(orders, func(a, b *domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*OutboxEvent
	for _, e := range s.state.outbox {
		if s.state.processed[e.ID] {
			continue
		}
		ev := e
		events = append(events, &ev)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.processed[id] = true
	return nil
}

// SeedShop, SeedListing and SeedVariant load catalog data owned by the catalog service.

func (s *MemoryStore) SeedShop(shop domain.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.shops[shop.ID] = shop
}

func (s *MemoryStore) SeedListing(listing domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.listings[listing.ID] = listing
}

func (s *MemoryStore) SeedVariant(variant domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.variants[variant.ID] = variant
}

// UpdateListing applies a seller edit to a listing.
func (s *MemoryStore) UpdateListing(id uuid.UUID, edit func(l *domain.Listing)) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.state.listings[id]
	if !ok {
		return ErrListingNotFound
	}
	edit(&l)
	l.UpdatedAt = time.Now().UTC()
	s.state.listings[id] = l
	return nil
}

func (s *MemoryStore) Listing(id uuid.UUID) (domain.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.state.listings[id]
	return l, ok
}

func (s *MemoryStore) Variant(id uuid.UUID) (domain.Variant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.variants[id]
	return v, ok
}

// OutboxEventTypes lists the type of every event appended so far, oldest first.
func (s *MemoryStore) OutboxEventTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.state.outbox))
	for _, e := range s.state.outbox {
		types = append(types, e.EventType)
	}
	return types
}

type memoryTx struct {
	st *memoryState
}

func (t *memoryTx) GetListing(_ context.Context, id uuid.UUID) (*domain.Listing, error) {
	l, ok := t.st.listings[id]
	if !ok {
		return nil, ErrListingNotFound
	}
	return &l, nil
}

func (t *memoryTx) GetVariant(_ context.Context, id uuid.UUID) (*domain.Variant, error) {
	v, ok := t.st.variants[id]
	if !ok {
		return nil, ErrVariantNotFound
	}
	return &v, nil
}

func (t *memoryTx) GetShop(_ context.Context, id uuid.UUID) (*domain.Shop, error) {
	shop, ok := t.st.shops[id]
	if !ok {
		return nil, ErrShopNotFound
	}
	return &shop, nil
}

func (t *memoryTx) LockCart(_ context.Context, userID string) (*domain.Cart, error) {
	rec, ok := t.st.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	cart := &domain.Cart{ID: rec.ID, UserID: rec.UserID, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
	for _, l := range t.st.cartLines {
		if l.CartID == rec.ID {
			cart.Lines = append(cart.Lines, l.Line)
		}
	}
	slices.SortFunc(cart.Lines, func(a, b domain.CartLine) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return cart, nil
}

func (t *memoryTx) EnsureCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if _, ok := t.st.carts[userID]; !ok {
		now := nowUTC()
		t.st.carts[userID] = cartRecord{ID: uuid.New(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return t.LockCart(ctx, userID)
}

func (t *memoryTx) AddCartLine(_ context.Context, cartID uuid.UUID, line *domain.CartLine) error {
	t.st.cartLines[line.ID] = cartLineRecord{CartID: cartID, Line: *line}
	t.touchCart(cartID)
	return nil
}

func (t *memoryTx) UpdateCartLine(_ context.Context, cartID uuid.UUID, line *domain.CartLine) error {
	rec, ok := t.st.cartLines[line.ID]
	if !ok || rec.CartID != cartID {
		return ErrCartLineNotFound
	}
	rec.Line.Quantity = line.Quantity
	rec.Line.Personalization = line.Personalization
	rec.Line.CachedUnitPrice = line.CachedUnitPrice
	t.st.cartLines[line.ID] = rec
	t.touchCart(cartID)
	return nil
}

func (t *memoryTx) DeleteCartLine(_ context.Context, cartID, lineID uuid.UUID) error {
	rec, ok := t.st.cartLines[lineID]
	if !ok || rec.CartID != cartID {
		return ErrCartLineNotFound
	}
	delete(t.st.cartLines, lineID)
	t.touchCart(cartID)
	return nil
}

func (t *memoryTx) DeleteCartLines(_ context.Context, cartID uuid.UUID) error {
	for id, rec := range t.st.cartLines {
		if rec.CartID == cartID {
			delete(t.st.cartLines, id)
		}
	}
	t.touchCart(cartID)
	return nil
}

func (t *memoryTx) touchCart(cartID uuid.UUID) {
	for userID, rec := range t.st.carts {
		if rec.ID == cartID {
			rec.UpdatedAt = nowUTC()
			t.st.carts[userID] = rec
			return
		}
	}
}

func (t *memoryTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	id, ok := t.st.byIdempotency[key]
	if !ok {
		return nil, ErrIdempotencyKeyNotFound
	}
	return t.LockOrder(ctx, id)
}

func (t *memoryTx) LockOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o.Items = make([]domain.OrderItem, 0)
	for _, item := range t.st.orderItems {
		if item.OrderID == id {
			o.Items = append(o.Items, item)
		}
	}
	slices.SortFunc(o.Items, func(a, b domain.OrderItem) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return &o, nil
}

func (t *memoryTx) CreateOrder(_ context.Context, order *domain.Order) error {
	if _, exists := t.st.byIdempotency[order.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	if _, exists := t.st.byNumber[order.OrderNumber]; exists {
		return ErrDuplicateOrderNumber
	}

	stored := *order
	stored.Items = nil
	stored.UpdatedAt = order.CreatedAt
	t.st.orders[order.ID] = stored
	t.st.byIdempotency[order.IdempotencyKey] = order.ID
	t.st.byNumber[order.OrderNumber] = order.ID

	for _, item := range order.Items {
		item.OrderID = order.ID
		t.st.orderItems[item.ID] = item
	}
	return nil
}

func (t *memoryTx) UpdateOrderStatus(_ context.Context, u OrderStatusUpdate) error {
	o, ok := t.st.orders[u.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = u.Status
	o.PaymentStatus = u.PaymentStatus
	o.PaymentReference = u.PaymentReference
	o.PaidAt = u.PaidAt
	o.NeedsReconciliation = u.NeedsReconciliation
	o.UpdatedAt = nowUTC()
	t.st.orders[u.OrderID] = o
	return nil
}

func (t *memoryTx) SetItemStockCommitted(_ context.Context, itemID uuid.UUID, committed bool) error {
	item, ok := t.st.orderItems[itemID]
	if !ok {
		return ErrOrderNotFound
	}
	item.StockCommitted = committed
	t.st.orderItems[itemID] = item
	return nil
}

func (t *memoryTx) DecrementStock(_ context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if variantID != nil {
		v, ok := t.st.variants[*variantID]
		if !ok {
			return ErrVariantNotFound
		}
		if v.QuantityOverride != nil {
			if *v.QuantityOverride < qty {
				return ErrStockConflict
			}
			remaining := *v.QuantityOverride - qty
			v.QuantityOverride = &remaining
			t.st.variants[*variantID] = v
			return nil
		}
	}

	l, ok := t.st.listings[listingID]
	if !ok || l.BaseQuantity < qty {
		return ErrStockConflict
	}
	l.BaseQuantity -= qty
	l.UpdatedAt = nowUTC()
	t.st.listings[listingID] = l
	return nil
}

func (t *memoryTx) RestoreStock(_ context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if variantID != nil {
		if v, ok := t.st.variants[*variantID]; ok && v.QuantityOverride != nil {
			restored := *v.QuantityOverride + qty
			v.QuantityOverride = &restored
			t.st.variants[*variantID] = v
			return nil
		}
	}

	l, ok := t.st.listings[listingID]
	if !ok {
		return ErrListingNotFound
	}
	l.BaseQuantity += qty
	l.UpdatedAt = nowUTC()
	t.st.listings[listingID] = l
	return nil
}

func (t *memoryTx) InsertOutboxEvent(_ context.Context, aggregateID, eventType string, payload []byte) error {
	t.st.nextOutboxID++
	t.st.outbox = append(t.st.outbox, OutboxEvent{
		ID:          t.st.nextOutboxID,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     slices.Clone(payload),
		CreatedAt:   nowUTC(),
	})
	return nil
}

func (t *memoryTx) RecordWebhookEvent(_ context.Context, event WebhookEventRecord) (bool, error) {
	if _, seen := t.st.webhookEvents[event.EventID]; seen {
		return false, nil
	}
	t.st.webhookEvents[event.EventID] = event
	return true, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
