package command

import (
	"context"
	"fmt"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/checkout"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/cache"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"go.uber.org/zap"
)

type Handler struct {
	eventStore   store.EventStoreInterface
	productSvc   *product.Service
	cartSvc      *cart.Service
	orderSvc     *order.Service
	inventorySvc *inventory.Service
	checkout     *checkout.Materializer
	addresses    address.Book
	cartCache    cache.CartCache
	logger       *zap.Logger
}

func NewHandler(
	es store.EventStoreInterface,
	productSvc *product.Service,
	cartSvc *cart.Service,
	orderSvc *order.Service,
	inventorySvc *inventory.Service,
	materializer *checkout.Materializer,
	addresses address.Book,
	cartCache cache.CartCache,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		eventStore:   es,
		productSvc:   productSvc,
		cartSvc:      cartSvc,
		orderSvc:     orderSvc,
		inventorySvc: inventorySvc,
		checkout:     materializer,
		addresses:    addresses,
		cartCache:    cartCache,
		logger:       logger.Named("command"),
	}
}

// ============================================
// Cart
// ============================================

func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Cart, error) {
	c, err := h.cartSvc.AddVariant(ctx, cmd.UserID, cmd.ProductID, cmd.VariantID, cmd.Quantity)
	h.invalidateCart(ctx, cmd.UserID)
	return c, err
}

func (h *Handler) SetCartQuantity(ctx context.Context, cmd SetCartQuantity) (*cart.Cart, error) {
	c, err := h.cartSvc.SetVariantQuantity(ctx, cmd.UserID, cmd.ProductID, cmd.VariantID, cmd.Quantity)
	h.invalidateCart(ctx, cmd.UserID)
	return c, err
}

func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*cart.Cart, error) {
	c, err := h.cartSvc.RemoveVariant(ctx, cmd.UserID, cmd.ProductID, cmd.VariantID)
	h.invalidateCart(ctx, cmd.UserID)
	return c, err
}

func (h *Handler) SyncCart(ctx context.Context, cmd SyncCart) (*cart.Cart, error) {
	c, err := h.cartSvc.Sync(ctx, cmd.UserID)
	h.invalidateCart(ctx, cmd.UserID)
	return c, err
}

func (h *Handler) ClearCart(ctx context.Context, cmd ClearCart) (*cart.Cart, error) {
	c, err := h.cartSvc.Clear(ctx, cmd.UserID)
	h.invalidateCart(ctx, cmd.UserID)
	return c, err
}

// invalidateCart runs whatever the outcome of the mutation
func (h *Handler) invalidateCart(ctx context.Context, userID string) {
	if err := h.cartCache.Delete(ctx, userID); err != nil {
		h.logger.Warn("cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// ============================================
// Orders
// ============================================

// PlaceOrder materializes the buyer's cart into an order
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*order.Order, error) {
	o, err := h.checkout.CreateOrder(ctx, checkout.CreateOrderRequest{
		UserID:              cmd.UserID,
		AddressID:           cmd.AddressID,
		PaymentMethod:       cmd.PaymentMethod,
		ExpectedCartVersion: cmd.ExpectedCartVersion,
	})
	if err != nil {
		return nil, err
	}
	h.invalidateCart(ctx, cmd.UserID)
	return o, nil
}

// PayOrder retries the online charge of a pending order
func (h *Handler) PayOrder(ctx context.Context, cmd PayOrder) (*order.Order, error) {
	return h.checkout.Pay(ctx, cmd.OrderID, cmd.UserID)
}

// CancelOrder cancels the order and releases its stock reservations in the
// same batch. Buyers cancel their own orders, sellers orders they fulfil.
func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	o, err := h.orderSvc.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCancel(cmd.Actor, o); err != nil {
		return nil, err
	}

	now := h.orderSvc.Now()
	cancelled, err := o.Cancel(cmd.Reason, cmd.Actor.ID, now)
	if err != nil {
		return nil, err
	}
	ledgers, releases, err := h.settleReservations(ctx, o, func(inv *inventory.Inventory) (store.PendingEvent, bool) {
		return inv.Release(o.ID, now)
	})
	if err != nil {
		return nil, err
	}

	if err := h.commitOrder(ctx, o, ledgers, append([]store.PendingEvent{cancelled}, releases...)); err != nil {
		return nil, err
	}
	h.logger.Info("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor", cmd.Actor.ID),
		zap.Int("released", len(releases)))
	return o, nil
}

func (h *Handler) ReturnOrder(ctx context.Context, cmd ReturnOrder) (*order.Order, error) {
	return h.orderSvc.Return(ctx, cmd.OrderID, cmd.UserID, cmd.Reason)
}

func (h *Handler) StartProcessing(ctx context.Context, cmd StartProcessing) (*order.Order, error) {
	if err := h.authorizeFulfiller(ctx, cmd.Actor, cmd.OrderID); err != nil {
		return nil, err
	}
	return h.orderSvc.StartProcessing(ctx, cmd.OrderID, cmd.Actor.ID)
}

// ShipOrder marks the order shipped and turns its reservations into
// permanent stock deductions in the same batch.
func (h *Handler) ShipOrder(ctx context.Context, cmd ShipOrder) (*order.Order, error) {
	o, err := h.orderSvc.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkFulfiller(cmd.Actor, o); err != nil {
		return nil, err
	}

	now := h.orderSvc.Now()
	shipped, err := o.Ship(cmd.TrackingNumber, now)
	if err != nil {
		return nil, err
	}
	ledgers, deductions, err := h.settleReservations(ctx, o, func(inv *inventory.Inventory) (store.PendingEvent, bool) {
		return inv.Deduct(o.ID, now)
	})
	if err != nil {
		return nil, err
	}

	if err := h.commitOrder(ctx, o, ledgers, append([]store.PendingEvent{shipped}, deductions...)); err != nil {
		return nil, err
	}
	return o, nil
}

func (h *Handler) DeliverOrder(ctx context.Context, cmd DeliverOrder) (*order.Order, error) {
	if err := h.authorizeFulfiller(ctx, cmd.Actor, cmd.OrderID); err != nil {
		return nil, err
	}
	return h.orderSvc.Deliver(ctx, cmd.OrderID)
}

// settleReservations builds one inventory event per ordered variant that
// still holds a reservation for the order.
func (h *Handler) settleReservations(
	ctx context.Context,
	o *order.Order,
	settle func(inv *inventory.Inventory) (store.PendingEvent, bool),
) ([]*inventory.Inventory, []store.PendingEvent, error) {
	var ledgers []*inventory.Inventory
	var events []store.PendingEvent
	for _, key := range o.Keys() {
		inv, err := h.inventorySvc.Load(ctx, key.ProductID, key.VariantID)
		if err != nil {
			return nil, nil, err
		}
		pe, ok := settle(inv)
		if !ok {
			continue
		}
		ledgers = append(ledgers, inv)
		events = append(events, pe)
	}
	return ledgers, events, nil
}

func (h *Handler) commitOrder(ctx context.Context, o *order.Order, ledgers []*inventory.Inventory, batch []store.PendingEvent) error {
	stored, err := h.eventStore.AppendBatch(ctx, batch)
	if err != nil {
		return err
	}
	if err := h.orderSvc.AfterCommit(ctx, o, stored); err != nil {
		return err
	}
	return h.inventorySvc.AfterCommit(ctx, ledgers, stored)
}

func (h *Handler) authorizeFulfiller(ctx context.Context, actor Actor, orderID string) error {
	o, err := h.orderSvc.Get(ctx, orderID)
	if err != nil {
		return err
	}
	return checkFulfiller(actor, o)
}

// checkFulfiller lets admins act on any order and sellers on orders made up
// only of their products.
func checkFulfiller(actor Actor, o *order.Order) error {
	switch actor.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleSeller:
		if o.CanFulfill(actor.ID) {
			return nil
		}
	}
	return order.ErrNotFulfiller
}

func authorizeCancel(actor Actor, o *order.Order) error {
	if actor.Role == auth.RoleBuyer {
		if o.UserID != actor.ID {
			return order.ErrOrderNotFound
		}
		return nil
	}
	return checkFulfiller(actor, o)
}

// ============================================
// Products
// ============================================

// CreateProduct lists a product for the calling seller and stocks the
// variants that come with an initial quantity.
func (h *Handler) CreateProduct(ctx context.Context, cmd CreateProduct) (*product.Product, error) {
	specs := make([]product.VariantSpec, len(cmd.Variants))
	for i, v := range cmd.Variants {
		if v.InitialStock < 0 {
			return nil, fmt.Errorf("%w: initial_stock must not be negative", apperr.ErrValidation)
		}
		specs[i] = product.VariantSpec{VariantID: v.VariantID, Attributes: v.Attributes, BasePrice: v.BasePrice}
	}

	p, err := h.productSvc.Create(ctx, product.CreateParams{
		SellerID:     cmd.Actor.ID,
		SellerName:   cmd.SellerName,
		Name:         cmd.Name,
		Description:  cmd.Description,
		Image:        cmd.Image,
		Variants:     specs,
		BulkDiscount: cmd.BulkDiscount,
	})
	if err != nil {
		return nil, err
	}

	for i, v := range cmd.Variants {
		if v.InitialStock == 0 {
			continue
		}
		if _, err := h.inventorySvc.AddStock(ctx, p.ID, p.Variants[i].VariantID, v.InitialStock); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (h *Handler) UpdateProduct(ctx context.Context, cmd UpdateProduct) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	return h.productSvc.Update(ctx, cmd.ProductID, cmd.Name, cmd.Description, cmd.Image)
}

func (h *Handler) AddProductVariant(ctx context.Context, cmd AddProductVariant) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	if cmd.Variant.InitialStock < 0 {
		return nil, fmt.Errorf("%w: initial_stock must not be negative", apperr.ErrValidation)
	}
	p, err := h.productSvc.AddVariant(ctx, cmd.ProductID, product.VariantSpec{
		VariantID:  cmd.Variant.VariantID,
		Attributes: cmd.Variant.Attributes,
		BasePrice:  cmd.Variant.BasePrice,
	})
	if err != nil {
		return nil, err
	}
	if cmd.Variant.InitialStock > 0 {
		added := p.Variants[len(p.Variants)-1].VariantID
		if _, err := h.inventorySvc.AddStock(ctx, p.ID, added, cmd.Variant.InitialStock); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (h *Handler) ChangeVariantPrice(ctx context.Context, cmd ChangeVariantPrice) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	return h.productSvc.ChangeVariantPrice(ctx, cmd.ProductID, cmd.VariantID, cmd.BasePrice)
}

func (h *Handler) SetVariantInStock(ctx context.Context, cmd SetVariantInStock) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	return h.productSvc.SetVariantInStock(ctx, cmd.ProductID, cmd.VariantID, cmd.InStock)
}

func (h *Handler) SetBulkDiscount(ctx context.Context, cmd SetBulkDiscount) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	return h.productSvc.SetBulkDiscount(ctx, cmd.ProductID, cmd.Tiers)
}

func (h *Handler) SetProductActive(ctx context.Context, cmd SetProductActive) (*product.Product, error) {
	if err := h.checkOwner(ctx, cmd.Actor, cmd.ProductID); err != nil {
		return nil, err
	}
	return h.productSvc.SetActive(ctx, cmd.ProductID, cmd.Active)
}

func (h *Handler) BlockProduct(ctx context.Context, cmd BlockProduct) (*product.Product, error) {
	return h.productSvc.Block(ctx, cmd.ProductID, cmd.Reason)
}

func (h *Handler) UnblockProduct(ctx context.Context, cmd UnblockProduct) (*product.Product, error) {
	return h.productSvc.Unblock(ctx, cmd.ProductID)
}

func (h *Handler) AddStock(ctx context.Context, cmd AddStock) (*inventory.Inventory, error) {
	p, err := h.ownedProduct(ctx, cmd.Actor, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.Variant(cmd.VariantID); !ok {
		return nil, product.ErrVariantNotFound
	}
	return h.inventorySvc.AddStock(ctx, cmd.ProductID, cmd.VariantID, cmd.Quantity)
}

func (h *Handler) checkOwner(ctx context.Context, actor Actor, productID string) error {
	_, err := h.ownedProduct(ctx, actor, productID)
	return err
}

func (h *Handler) ownedProduct(ctx context.Context, actor Actor, productID string) (*product.Product, error) {
	p, err := h.productSvc.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleAdmin {
		return p, nil
	}
	if err := p.CheckOwner(actor.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// ============================================
// Addresses
// ============================================

func (h *Handler) SaveAddress(ctx context.Context, cmd SaveAddress) (*address.Address, error) {
	a := cmd.Address
	a.UserID = cmd.UserID
	return h.addresses.Save(ctx, &a)
}
