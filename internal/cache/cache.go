package cache

import (
	"context"
	"errors"

	d "github.com/fjod/checkout-engine/domain"
)

// CartCache is a read-through cache for carts. The database stays authoritative;
// every cart write deletes the cached entry.
type CartCache interface {
	Get(ctx context.Context, userID string) (*d.Cart, error)
	Set(ctx context.Context, userID string, cart *d.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache never stores anything. Used when no Redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*d.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, string, *d.Cart) error { return nil }
func (NopCache) Delete(context.Context, string) error { return nil }
