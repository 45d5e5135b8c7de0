package query

import (
	"context"
	"errors"

	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/checkout"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/cache"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Handler struct {
	carts     *cart.Service
	orders    *order.Service
	products  *product.Service
	checkout  *checkout.Materializer
	cartCache cache.CartCache
	readStore store.OrderReadStore
	sfg       singleflight.Group
	logger    *zap.Logger
}

func NewHandler(
	carts *cart.Service,
	orders *order.Service,
	products *product.Service,
	materializer *checkout.Materializer,
	cartCache cache.CartCache,
	readStore store.OrderReadStore,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		carts:     carts,
		orders:    orders,
		products:  products,
		checkout:  materializer,
		cartCache: cartCache,
		readStore: readStore,
		logger:    logger.Named("query"),
	}
}

// Cart

// GetCart serves the priced cart from cache, loading it from the event store
// on a miss. Concurrent misses for one user share a single load.
func (h *Handler) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	v, err, _ := h.sfg.Do(userID, func() (any, error) {
		c, err := h.cartCache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		c, err = h.carts.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := h.cartCache.Set(ctx, userID, c); err != nil {
			h.logger.Warn("cart cache set failed", zap.String("user_id", userID), zap.Error(err))
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cart.Cart), nil
}

// CheckoutPreview reports whether the cart can be ordered right now
func (h *Handler) CheckoutPreview(ctx context.Context, userID string) (*checkout.Preview, error) {
	return h.checkout.Eligibility(ctx, userID)
}

// Products

// GetProduct returns a listing. Inactive or blocked listings are only visible
// to their seller and to admins; viewer may be nil for anonymous requests.
func (h *Handler) GetProduct(ctx context.Context, viewer *auth.Claims, productID string) (*product.Product, error) {
	p, err := h.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.IsActive && !p.IsBlocked {
		return p, nil
	}
	if viewer != nil && (viewer.IsAdmin() || (viewer.IsSeller() && viewer.UserID == p.SellerID)) {
		return p, nil
	}
	return nil, product.ErrProductNotFound
}

// Orders

// GetOrder returns the authoritative order. Buyers see their own orders,
// sellers the orders containing one of their products and admins every
// order; anything else is reported as not found.
func (h *Handler) GetOrder(ctx context.Context, viewer *auth.Claims, orderID string) (*order.Order, error) {
	o, err := h.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(viewer, o) {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func canView(viewer *auth.Claims, o *order.Order) bool {
	switch viewer.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleSeller:
		for _, l := range o.Items {
			if l.Seller.ID == viewer.UserID {
				return true
			}
		}
		return false
	default:
		return o.UserID == viewer.UserID
	}
}

// ListOrders returns the buyer's order history, newest first
func (h *Handler) ListOrders(ctx context.Context, userID string, page store.Page) ([]OrderReadModel, error) {
	orders, err := h.readStore.ListOrdersByUser(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return nonNil(orders), nil
}

// ListSellerOrders returns orders containing at least one of the seller's products
func (h *Handler) ListSellerOrders(ctx context.Context, sellerID string, page store.Page) ([]OrderReadModel, error) {
	orders, err := h.readStore.ListOrdersBySeller(ctx, sellerID, page)
	if err != nil {
		return nil, err
	}
	return nonNil(orders), nil
}

func nonNil(orders []OrderReadModel) []OrderReadModel {
	if orders == nil {
		return []OrderReadModel{}
	}
	return orders
}
