package store

import (
	"context"
	"fmt"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/readmodel"
)

var ErrReadModelNotFound = fmt.Errorf("%w: read model not found", apperr.ErrNotFound)

// Page bounds a listing; a zero Limit means DefaultPageLimit.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	p.Limit = min(p.Limit, MaxPageLimit)
	p.Offset = max(p.Offset, 0)
	return p
}

// OrderReadStore keeps the order history projection. SaveOrder ignores a model
// whose version is not newer than the stored one, so replays are harmless.
type OrderReadStore interface {
	SaveOrder(ctx context.Context, o *readmodel.OrderReadModel) error
	GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, error)
	ListOrdersByUser(ctx context.Context, userID string, page Page) ([]readmodel.OrderReadModel, error)
	ListOrdersBySeller(ctx context.Context, sellerID string, page Page) ([]readmodel.OrderReadModel, error)
}
