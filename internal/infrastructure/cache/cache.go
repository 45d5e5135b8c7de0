package cache

import (
	"context"
	"errors"

	"github.com/example/marketplace-orders/internal/domain/cart"
)

// CartCache holds priced cart views keyed by user
type CartCache interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	Set(ctx context.Context, userID string, c *cart.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop never stores anything. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (*cart.Cart, error) { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, string, *cart.Cart) error   { return nil }
func (Noop) Delete(context.Context, string) error            { return nil }
