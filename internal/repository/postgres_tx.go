package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/checkout-engine/domain"
	"github.com/google/uuid"
)

const orderColumns = `id, order_number, idempotency_key, buyer_id, status, payment_status, currency,
	subtotal, shipping, tax, discount, grand_total, shipping_address, payment_reference, paid_at,
	needs_reconciliation, created_at, updated_at`

type pgTx struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) GetListing(ctx context.Context, id uuid.UUID) (*domain.Listing, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT id, shop_id, seller_id, title, listing_type, slug, status, restricted_to_user_id,
		        base_price, base_quantity, currency, processing_mode, processing_min_days,
		        processing_max_days, return_policy_type, return_window_days, personalization_fields, updated_at
		 FROM listings WHERE id = $1`, id)

	var (
		l            domain.Listing
		restricted   sql.NullString
		returnType   sql.NullString
		returnWindow sql.NullInt32
		fields       []byte
	)
	err := row.Scan(&l.ID, &l.ShopID, &l.SellerID, &l.Title, &l.ListingType, &l.Slug, &l.Status, &restricted,
		&l.BasePrice, &l.BaseQuantity, &l.Currency, &l.ProcessingMode, &l.ProcessingMinDays,
		&l.ProcessingMaxDays, &returnType, &returnWindow, &fields, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query listing %s: %w", id, err)
	}

	if restricted.Valid {
		l.RestrictedToUserID = &restricted.String
	}
	if returnType.Valid {
		rt := domain.ReturnPolicyType(returnType.String)
		l.ReturnPolicyType = &rt
	}
	if returnWindow.Valid {
		l.ReturnWindowDays = &returnWindow.Int32
	}
	if err := json.Unmarshal(fields, &l.PersonalizationRules); err != nil {
		return nil, fmt.Errorf("unmarshal personalization fields: %w", err)
	}
	return &l, nil
}

func (t *pgTx) GetVariant(ctx context.Context, id uuid.UUID) (*domain.Variant, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT id, listing_id, selections, price_override, quantity_override, active
		 FROM listing_variants WHERE id = $1`, id)

	var (
		v          domain.Variant
		selections []byte
		price      sql.NullInt64
		quantity   sql.NullInt32
	)
	err := row.Scan(&v.ID, &v.ListingID, &selections, &price, &quantity, &v.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVariantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query variant %s: %w", id, err)
	}
	if price.Valid {
		v.PriceOverride = &price.Int64
	}
	if quantity.Valid {
		v.QuantityOverride = &quantity.Int32
	}
	if err := json.Unmarshal(selections, &v.Selections); err != nil {
		return nil, fmt.Errorf("unmarshal variant selections: %w", err)
	}
	return &v, nil
}

func (t *pgTx) GetShop(ctx context.Context, id uuid.UUID) (*domain.Shop, error) {
	var s domain.Shop
	err := t.q.QueryRowContext(ctx,
		`SELECT id, owner_user_id, return_policy_type, return_window_days FROM shops WHERE id = $1`, id).
		Scan(&s.ID, &s.OwnerUserID, &s.ReturnPolicyType, &s.ReturnWindowDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query shop %s: %w", id, err)
	}
	return &s, nil
}

func (t *pgTx) LockCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return getCart(ctx, t.q, userID, true)
}

func (t *pgTx) EnsureCart(ctx context.Context, userID string) (*domain.Cart, error) {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (user_id) DO NOTHING`, uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("ensure cart: %w", err)
	}
	return getCart(ctx, t.q, userID, true)
}

func (t *pgTx) AddCartLine(ctx context.Context, cartID uuid.UUID, line *domain.CartLine) error {
	personalization, err := marshalNullable(line.Personalization)
	if err != nil {
		return fmt.Errorf("marshal personalization: %w", err)
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO cart_lines (id, cart_id, listing_id, variant_id, quantity, personalization, cached_unit_price, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		line.ID, cartID, line.ListingID, nullUUID(line.VariantID), line.Quantity, personalization,
		line.CachedUnitPrice, line.AddedAt)
	if err != nil {
		return fmt.Errorf("insert cart line: %w", err)
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) UpdateCartLine(ctx context.Context, cartID uuid.UUID, line *domain.CartLine) error {
	personalization, err := marshalNullable(line.Personalization)
	if err != nil {
		return fmt.Errorf("marshal personalization: %w", err)
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $3, personalization = $4, cached_unit_price = $5
		 WHERE id = $1 AND cart_id = $2`,
		line.ID, cartID, line.Quantity, personalization, line.CachedUnitPrice)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	if err := expectOneRow(res, ErrCartLineNotFound); err != nil {
		return err
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) DeleteCartLine(ctx context.Context, cartID, lineID uuid.UUID) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1 AND cart_id = $2`, lineID, cartID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	if err := expectOneRow(res, ErrCartLineNotFound); err != nil {
		return err
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) DeleteCartLines(ctx context.Context, cartID uuid.UUID) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}
	return t.touchCart(ctx, cartID)
}

func (t *pgTx) touchCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

func (t *pgTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	order, err := getOrder(ctx, t.q, "idempotency_key = $1", key, false)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, ErrIdempotencyKeyNotFound
	}
	return order, err
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.q, "id = $1", id, true)
}

func (t *pgTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	_, err = t.q.ExecContext(ctx,
		`INSERT INTO orders (id, order_number, idempotency_key, buyer_id, status, payment_status, currency,
		                     subtotal, shipping, tax, discount, grand_total, shipping_address,
		                     needs_reconciliation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, $14, $14)`,
		order.ID, order.OrderNumber, order.IdempotencyKey, order.BuyerID, order.Status, order.PaymentStatus,
		order.Currency, order.Totals.Subtotal, order.Totals.Shipping, order.Totals.Tax, order.Totals.Discount,
		order.Totals.GrandTotal, string(address), order.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err, "uq_orders_idempotency_key"):
			return ErrDuplicateIdempotencyKey
		case isUniqueViolation(err, "uq_orders_order_number"):
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		snapshot, err := json.Marshal(item.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		_, err = t.q.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, listing_id, variant_id, title, unit_price, quantity,
			                          line_total, snapshot, position, stock_committed, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			item.ID, order.ID, item.ListingID, nullUUID(item.VariantID), item.Title, item.UnitPrice,
			item.Quantity, item.LineTotal, string(snapshot), item.Position, item.StockCommitted, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, u OrderStatusUpdate) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, payment_reference = $4, paid_at = $5,
		                   needs_reconciliation = $6, updated_at = NOW()
		 WHERE id = $1`,
		u.OrderID, u.Status, u.PaymentStatus, u.PaymentReference, u.PaidAt, u.NeedsReconciliation)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOneRow(res, ErrOrderNotFound)
}

func (t *pgTx) SetItemStockCommitted(ctx context.Context, itemID uuid.UUID, committed bool) error {
	res, err := t.q.ExecContext(ctx, `UPDATE order_items SET stock_committed = $2 WHERE id = $1`, itemID, committed)
	if err != nil {
		return fmt.Errorf("update order item: %w", err)
	}
	return expectOneRow(res, ErrOrderNotFound)
}

func (t *pgTx) DecrementStock(ctx context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if variantID != nil {
		res, err := t.q.ExecContext(ctx,
			`UPDATE listing_variants SET quantity_override = quantity_override - $2
			 WHERE id = $1 AND quantity_override IS NOT NULL AND quantity_override >= $2`, *variantID, qty)
		if err != nil {
			return fmt.Errorf("decrement variant stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		inherits, err := t.variantInheritsQuantity(ctx, *variantID)
		if err != nil {
			return err
		}
		if !inherits {
			return ErrStockConflict
		}
	}

	res, err := t.q.ExecContext(ctx,
		`UPDATE listings SET base_quantity = base_quantity - $2, updated_at = NOW()
		 WHERE id = $1 AND base_quantity >= $2`, listingID, qty)
	if err != nil {
		return fmt.Errorf("decrement listing stock: %w", err)
	}
	return expectOneRow(res, ErrStockConflict)
}

func (t *pgTx) RestoreStock(ctx context.Context, listingID uuid.UUID, variantID *uuid.UUID, qty int32) error {
	if variantID != nil {
		res, err := t.q.ExecContext(ctx,
			`UPDATE listing_variants SET quantity_override = quantity_override + $2
			 WHERE id = $1 AND quantity_override IS NOT NULL`, *variantID, qty)
		if err != nil {
			return fmt.Errorf("restore variant stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}

	res, err := t.q.ExecContext(ctx,
		`UPDATE listings SET base_quantity = base_quantity + $2, updated_at = NOW() WHERE id = $1`, listingID, qty)
	if err != nil {
		return fmt.Errorf("restore listing stock: %w", err)
	}
	return expectOneRow(res, ErrListingNotFound)
}

func (t *pgTx) variantInheritsQuantity(ctx context.Context, variantID uuid.UUID) (bool, error) {
	var inherits bool
	err := t.q.QueryRowContext(ctx,
		`SELECT quantity_override IS NULL FROM listing_variants WHERE id = $1`, variantID).Scan(&inherits)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrVariantNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query variant override: %w", err)
	}
	return inherits, nil
}

func (t *pgTx) InsertOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at) VALUES ($1, $2, $3, NOW())`,
		aggregateID, eventType, string(payload))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (t *pgTx) RecordWebhookEvent(ctx context.Context, event WebhookEventRecord) (bool, error) {
	var orderID uuid.NullUUID
	if event.OrderID != nil {
		orderID = uuid.NullUUID{UUID: *event.OrderID, Valid: true}
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO payment_webhook_events (event_id, event_type, order_id, received_at)
		 VALUES ($1, $2, $3, NOW()) ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, orderID)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return n == 1, nil
}

func getCart(ctx context.Context, q querier, userID string, lock bool) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	err := q.QueryRowContext(ctx, query, userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, listing_id, variant_id, quantity, personalization, cached_unit_price, added_at
		 FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line            domain.CartLine
			variantID       uuid.NullUUID
			personalization []byte
		)
		if err := rows.Scan(&line.ID, &line.ListingID, &variantID, &line.Quantity, &personalization,
			&line.CachedUnitPrice, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if variantID.Valid {
			line.VariantID = &variantID.UUID
		}
		if len(personalization) > 0 {
			if err := json.Unmarshal(personalization, &line.Personalization); err != nil {
				return nil, fmt.Errorf("unmarshal personalization: %w", err)
			}
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &cart, nil
}

func getOrder(ctx context.Context, q querier, where string, arg any, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + where
	if lock {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if order.Items, err = getOrderItems(ctx, q, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		address   []byte
		reference sql.NullString
		paidAt    sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.IdempotencyKey, &o.BuyerID, &o.Status, &o.PaymentStatus, &o.Currency,
		&o.Totals.Subtotal, &o.Totals.Shipping, &o.Totals.Tax, &o.Totals.Discount, &o.Totals.GrandTotal,
		&address, &reference, &paidAt, &o.NeedsReconciliation, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if reference.Valid {
		o.PaymentReference = &reference.String
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	return &o, nil
}

func getOrderItems(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, listing_id, variant_id, title, unit_price, quantity, line_total, snapshot,
		        position, stock_committed, created_at
		 FROM order_items WHERE order_id = $1 ORDER BY position, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item      domain.OrderItem
			variantID uuid.NullUUID
			snapshot  []byte
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ListingID, &variantID, &item.Title, &item.UnitPrice,
			&item.Quantity, &item.LineTotal, &snapshot, &item.Position, &item.StockCommitted, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if variantID.Valid {
			item.VariantID = &variantID.UUID
		}
		if err := json.Unmarshal(snapshot, &item.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// marshalNullable encodes a JSONB parameter. lib/pq sends []byte as bytea, so JSON goes over as text.
func marshalNullable(m map[string]string) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
