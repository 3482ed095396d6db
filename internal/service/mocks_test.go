package service

import (
	"context"
	"errors"
	"sync"

	d "github.com/fjod/checkout-engine/domain"
	"github.com/fjod/checkout-engine/internal/cache"
	"github.com/fjod/checkout-engine/internal/payment"
	r "github.com/fjod/checkout-engine/internal/repository"
	"github.com/google/uuid"
)

// MockRepository implements r.RepoInterface for testing paths that never reach a transaction
type MockRepository struct {
	KeyOrder *d.Order
	KeyErr   error
	// KeyLookups, when set, answers successive key lookups in order; nil means not found
	KeyLookups []*d.Order
	KeyCalls   int
	TxErr      error
	TxCalls    int
}

func (m *MockRepository) Close() error {
	return nil
}

func (m *MockRepository) RunMigrations(*r.Credentials) error {
	return nil
}

func (m *MockRepository) WithTx(_ context.Context, _ func(tx r.Tx) error) error {
	m.TxCalls++
	return m.TxErr
}

func (m *MockRepository) GetCart(context.Context, string) (*d.Cart, error) {
	return nil, r.ErrCartNotFound
}

func (m *MockRepository) GetOrderByIdempotencyKey(context.Context, string) (*d.Order, error) {
	m.KeyCalls++
	if len(m.KeyLookups) > 0 {
		next := m.KeyLookups[0]
		m.KeyLookups = m.KeyLookups[1:]
		if next == nil {
			return nil, r.ErrIdempotencyKeyNotFound
		}
		return next, nil
	}
	return m.KeyOrder, m.KeyErr
}

func (m *MockRepository) GetOrderByID(context.Context, uuid.UUID) (*d.Order, error) {
	return nil, r.ErrOrderNotFound
}

func (m *MockRepository) GetOrderByNumber(context.Context, string) (*d.Order, error) {
	return nil, r.ErrOrderNotFound
}

func (m *MockRepository) ListOrdersByBuyer(context.Context, string) ([]*d.Order, error) {
	return nil, nil
}

func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	return nil, nil
}

func (m *MockRepository) MarkEventAsProcessed(context.Context, int64) error {
	return nil
}

// mockCache is an in-process CartCache that records invalidations
type mockCache struct {
	mu      sync.Mutex
	carts   map[string]*d.Cart
	deletes []string
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*d.Cart)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*d.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, userID string, cart *d.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = cart
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	m.deletes = append(m.deletes, userID)
	return nil
}

func (m *mockCache) deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

// mockProvider implements payment.Provider
type mockProvider struct {
	requests []payment.IntentRequest
	err      error
}

func (m *mockProvider) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Intent{ID: "pi_" + req.OrderNumber, AmountMinor: req.AmountMinor, Currency: req.Currency, Status: "requires_payment_method"}, nil
}

var errBoom = errors.New("boom")
