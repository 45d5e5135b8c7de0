package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/checkout"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/cache"
	"github.com/example/marketplace-orders/internal/infrastructure/store/mocks"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	buyer       = Actor{ID: "user-123", Role: auth.RoleBuyer}
	otherBuyer  = Actor{ID: "user-999", Role: auth.RoleBuyer}
	seller      = Actor{ID: "seller-1", Role: auth.RoleSeller}
	otherSeller = Actor{ID: "seller-2", Role: auth.RoleSeller}
	admin       = Actor{ID: "admin-1", Role: auth.RoleAdmin}
)

type fixture struct {
	handler    *Handler
	eventStore *mocks.MockEventStore
	inventory  *inventory.Service
	redis      *miniredis.Miniredis
	addressID  string
}

func newTestHandler(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{eventStore: mocks.NewMockEventStore(), redis: miniredis.RunT(t)}
	client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { client.Close() })

	productSvc := product.NewService(f.eventStore, logger)
	f.inventory = inventory.NewService(f.eventStore, logger)
	cat := catalog.NewService(productSvc, f.inventory)
	cartSvc := cart.NewService(f.eventStore, cat, pricing.DefaultPolicy(), logger)
	orderSvc := order.NewService(f.eventStore, order.DefaultReturnWindow, logger)
	book := address.NewMemoryBook()
	materializer := checkout.NewMaterializer(f.eventStore, cartSvc, orderSvc, f.inventory, cat, book,
		payment.NewSimulatedGateway(payment.ApproveAll{}), logger)

	f.handler = NewHandler(f.eventStore, productSvc, cartSvc, orderSvc, f.inventory, materializer, book,
		cache.NewRedisCache(client, time.Minute, 0), logger)

	a, err := f.handler.SaveAddress(context.Background(), SaveAddress{
		UserID: buyer.ID,
		Address: address.Address{
			FullName: "Jane Buyer", Phone: "555-0100", Line1: "1 Market St",
			City: "Springfield", State: "IL", PostalCode: "62701", Country: "US",
		},
	})
	require.NoError(t, err)
	f.addressID = a.ID
	return f
}

// listTShirt lists a seller-1 product with red and blue at 100, 10 units each
func (f *fixture) listTShirt(t *testing.T) *product.Product {
	t.Helper()
	p, err := f.handler.CreateProduct(context.Background(), CreateProduct{
		Actor:      seller,
		SellerName: "Acme",
		Name:       "T-Shirt",
		Variants: []VariantInput{
			{VariantID: "red", Attributes: "Red", BasePrice: decimal.NewFromInt(100), InitialStock: 10},
			{VariantID: "blue", Attributes: "Blue", BasePrice: decimal.NewFromInt(100), InitialStock: 10},
		},
		BulkDiscount: []pricing.Tier{{MinQty: 5, PriceDiscountPerUnit: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	return p
}

// placeOrder puts 3 red and 2 blue in the buyer's cart and checks out
func (f *fixture) placeOrder(t *testing.T, p *product.Product) *order.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.handler.AddToCart(ctx, AddToCart{UserID: buyer.ID, ProductID: p.ID, VariantID: "red", Quantity: 3})
	require.NoError(t, err)
	_, err = f.handler.AddToCart(ctx, AddToCart{UserID: buyer.ID, ProductID: p.ID, VariantID: "blue", Quantity: 2})
	require.NoError(t, err)
	_, err = f.handler.SyncCart(ctx, SyncCart{UserID: buyer.ID})
	require.NoError(t, err)

	o, err := f.handler.PlaceOrder(ctx, PlaceOrder{UserID: buyer.ID, AddressID: f.addressID, PaymentMethod: payment.MethodCOD})
	require.NoError(t, err)
	f.eventStore.ResetCalls()
	return o
}

func (f *fixture) ledger(t *testing.T, productID, variantID string) *inventory.Inventory {
	t.Helper()
	inv, err := f.inventory.Load(context.Background(), productID, variantID)
	require.NoError(t, err)
	return inv
}

func eventTypes(calls []mocks.AppendCall) []string {
	types := make([]string, len(calls))
	for i, c := range calls {
		types[i] = c.EventType
	}
	return types
}

// ============================================
// Product Tests
// ============================================

func TestHandler_CreateProduct_StocksVariants(t *testing.T) {
	f := newTestHandler(t)

	p, err := f.handler.CreateProduct(context.Background(), CreateProduct{
		Actor: seller,
		Name:  "Mug",
		Variants: []VariantInput{
			{VariantID: "white", BasePrice: decimal.NewFromInt(12), InitialStock: 4},
			{VariantID: "black", BasePrice: decimal.NewFromInt(12)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "seller-1", p.SellerID)
	assert.Equal(t,
		[]string{product.EventProductCreated, inventory.EventStockAdded},
		eventTypes(f.eventStore.AppendCalls))
	assert.Equal(t, 4, f.ledger(t, p.ID, "white").AvailableStock())
	assert.Equal(t, 0, f.ledger(t, p.ID, "black").AvailableStock())
}

func TestHandler_CreateProduct_NegativeStock(t *testing.T) {
	f := newTestHandler(t)

	_, err := f.handler.CreateProduct(context.Background(), CreateProduct{
		Actor:    seller,
		Name:     "Mug",
		Variants: []VariantInput{{VariantID: "white", BasePrice: decimal.NewFromInt(12), InitialStock: -1}},
	})

	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, f.eventStore.AppendCalls)
}

func TestHandler_ProductOwnership(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	ctx := context.Background()

	_, err := f.handler.ChangeVariantPrice(ctx, ChangeVariantPrice{
		Actor: otherSeller, ProductID: p.ID, VariantID: "red", BasePrice: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, product.ErrNotOwner)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	updated, err := f.handler.ChangeVariantPrice(ctx, ChangeVariantPrice{
		Actor: seller, ProductID: p.ID, VariantID: "red", BasePrice: decimal.NewFromInt(120),
	})
	require.NoError(t, err)
	red, _ := updated.Variant("red")
	assert.True(t, decimal.NewFromInt(120).Equal(red.BasePrice))

	updated, err = f.handler.UpdateProduct(ctx, UpdateProduct{Actor: admin, ProductID: p.ID, Name: "Tee"})
	require.NoError(t, err)
	assert.Equal(t, "Tee", updated.Name)
}

func TestHandler_AddProductVariant_WithStock(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)

	updated, err := f.handler.AddProductVariant(context.Background(), AddProductVariant{
		Actor:     seller,
		ProductID: p.ID,
		Variant:   VariantInput{VariantID: "green", BasePrice: decimal.NewFromInt(110), InitialStock: 6},
	})

	require.NoError(t, err)
	assert.Len(t, updated.Variants, 3)
	assert.Equal(t, 6, f.ledger(t, p.ID, "green").AvailableStock())
}

func TestHandler_AddStock(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	ctx := context.Background()

	inv, err := f.handler.AddStock(ctx, AddStock{Actor: seller, ProductID: p.ID, VariantID: "red", Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, inv.AvailableStock())

	_, err = f.handler.AddStock(ctx, AddStock{Actor: seller, ProductID: p.ID, VariantID: "purple", Quantity: 5})
	assert.ErrorIs(t, err, product.ErrVariantNotFound)

	_, err = f.handler.AddStock(ctx, AddStock{Actor: otherSeller, ProductID: p.ID, VariantID: "red", Quantity: 5})
	assert.ErrorIs(t, err, product.ErrNotOwner)
}

func TestHandler_BlockProduct(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	ctx := context.Background()

	blocked, err := f.handler.BlockProduct(ctx, BlockProduct{ProductID: p.ID, Reason: "counterfeit"})
	require.NoError(t, err)
	assert.True(t, blocked.IsBlocked)

	unblocked, err := f.handler.UnblockProduct(ctx, UnblockProduct{ProductID: p.ID})
	require.NoError(t, err)
	assert.False(t, unblocked.IsBlocked)
}

// ============================================
// Cart Tests
// ============================================

func TestHandler_CartMutationsInvalidateCache(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	ctx := context.Background()
	key := "cart:" + buyer.ID

	steps := []func() error{
		func() error {
			_, err := f.handler.AddToCart(ctx, AddToCart{UserID: buyer.ID, ProductID: p.ID, VariantID: "red", Quantity: 2})
			return err
		},
		func() error {
			_, err := f.handler.SetCartQuantity(ctx, SetCartQuantity{UserID: buyer.ID, ProductID: p.ID, VariantID: "red", Quantity: 4})
			return err
		},
		func() error {
			_, err := f.handler.SyncCart(ctx, SyncCart{UserID: buyer.ID})
			return err
		},
		func() error {
			_, err := f.handler.RemoveFromCart(ctx, RemoveFromCart{UserID: buyer.ID, ProductID: p.ID, VariantID: "red"})
			return err
		},
		func() error {
			_, err := f.handler.ClearCart(ctx, ClearCart{UserID: buyer.ID})
			return err
		},
	}

	for i, step := range steps {
		require.NoError(t, f.redis.Set(key, "{}"))
		require.NoError(t, step(), "step %d", i)
		assert.False(t, f.redis.Exists(key), "step %d left the cached cart", i)
	}
}

func TestHandler_AddToCart_FailureStillInvalidates(t *testing.T) {
	f := newTestHandler(t)
	key := "cart:" + buyer.ID
	require.NoError(t, f.redis.Set(key, "{}"))

	_, err := f.handler.AddToCart(context.Background(), AddToCart{UserID: buyer.ID, ProductID: "missing", VariantID: "x", Quantity: 1})

	assert.Error(t, err)
	assert.False(t, f.redis.Exists(key))
}

// ============================================
// Order Placement Tests
// ============================================

func TestHandler_PlaceOrder(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	require.NoError(t, f.redis.Set("cart:"+buyer.ID, "{}"))

	o := f.placeOrder(t, p)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.NewFromInt(560).Equal(o.Summary.CartTotal), "got %s", o.Summary.CartTotal)
	assert.False(t, f.redis.Exists("cart:"+buyer.ID))
	assert.Equal(t, 7, f.ledger(t, p.ID, "red").AvailableStock())
	assert.Equal(t, 8, f.ledger(t, p.ID, "blue").AvailableStock())
}

func TestHandler_PayOrder_RejectsCOD(t *testing.T) {
	f := newTestHandler(t)
	o := f.placeOrder(t, f.listTShirt(t))

	_, err := f.handler.PayOrder(context.Background(), PayOrder{UserID: buyer.ID, OrderID: o.ID})

	assert.ErrorIs(t, err, order.ErrNotOnlinePayment)
}

// ============================================
// Cancel Tests
// ============================================

func TestHandler_CancelOrder_ReleasesStockAtomically(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	o := f.placeOrder(t, p)

	cancelled, err := f.handler.CancelOrder(context.Background(), CancelOrder{Actor: buyer, OrderID: o.ID, Reason: "changed mind"})

	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed mind", cancelled.CancelReason)
	require.Len(t, f.eventStore.BatchCalls, 1)
	assert.Equal(t,
		[]string{order.EventOrderCancelled, inventory.EventStockReleased, inventory.EventStockReleased},
		eventTypes(f.eventStore.AppendCalls))
	assert.Equal(t, 10, f.ledger(t, p.ID, "red").AvailableStock())
	assert.Equal(t, 10, f.ledger(t, p.ID, "blue").AvailableStock())
}

func TestHandler_CancelOrder_Authorization(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		err   error
	}{
		{"other buyer", otherBuyer, order.ErrOrderNotFound},
		{"other seller", otherSeller, order.ErrNotFulfiller},
		{"fulfilling seller", seller, nil},
		{"admin", admin, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestHandler(t)
			o := f.placeOrder(t, f.listTShirt(t))

			_, err := f.handler.CancelOrder(context.Background(), CancelOrder{Actor: tt.actor, OrderID: o.ID})

			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, f.eventStore.AppendCalls)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHandler_CancelOrder_AfterShipment(t *testing.T) {
	f := newTestHandler(t)
	o := f.placeOrder(t, f.listTShirt(t))
	ctx := context.Background()
	_, err := f.handler.StartProcessing(ctx, StartProcessing{Actor: seller, OrderID: o.ID})
	require.NoError(t, err)
	_, err = f.handler.ShipOrder(ctx, ShipOrder{Actor: seller, OrderID: o.ID, TrackingNumber: "TRK"})
	require.NoError(t, err)
	f.eventStore.ResetCalls()

	_, err = f.handler.CancelOrder(ctx, CancelOrder{Actor: buyer, OrderID: o.ID})

	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Empty(t, f.eventStore.AppendCalls)
}

func TestHandler_CancelOrder_ConflictStoresNothing(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	o := f.placeOrder(t, p)
	storeDown := errors.New("store down")
	f.eventStore.AppendErr = storeDown

	_, err := f.handler.CancelOrder(context.Background(), CancelOrder{Actor: buyer, OrderID: o.ID})

	assert.ErrorIs(t, err, storeDown)
	f.eventStore.AppendErr = nil
	assert.Equal(t, 7, f.ledger(t, p.ID, "red").AvailableStock())
}

// ============================================
// Fulfilment Tests
// ============================================

func TestHandler_Fulfilment_ShipDeductsStock(t *testing.T) {
	f := newTestHandler(t)
	p := f.listTShirt(t)
	o := f.placeOrder(t, p)
	ctx := context.Background()

	_, err := f.handler.StartProcessing(ctx, StartProcessing{Actor: seller, OrderID: o.ID})
	require.NoError(t, err)
	f.eventStore.ResetCalls()

	shipped, err := f.handler.ShipOrder(ctx, ShipOrder{Actor: seller, OrderID: o.ID, TrackingNumber: " TRK-1 "})

	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, shipped.Status)
	assert.Equal(t, "TRK-1", shipped.TrackingNumber)
	require.Len(t, f.eventStore.BatchCalls, 1)
	assert.Equal(t,
		[]string{order.EventOrderShipped, inventory.EventStockDeducted, inventory.EventStockDeducted},
		eventTypes(f.eventStore.AppendCalls))

	red := f.ledger(t, p.ID, "red")
	assert.Equal(t, 7, red.TotalStock)
	assert.Equal(t, 0, red.ReservedStock)
	assert.NotContains(t, red.Reservations, o.ID)
	assert.Equal(t, 7, red.AvailableStock())
}

func TestHandler_Fulfilment_ThroughReturn(t *testing.T) {
	f := newTestHandler(t)
	o := f.placeOrder(t, f.listTShirt(t))
	ctx := context.Background()

	_, err := f.handler.StartProcessing(ctx, StartProcessing{Actor: admin, OrderID: o.ID})
	require.NoError(t, err)
	_, err = f.handler.ShipOrder(ctx, ShipOrder{Actor: seller, OrderID: o.ID})
	require.NoError(t, err)
	delivered, err := f.handler.DeliverOrder(ctx, DeliverOrder{Actor: seller, OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, delivered.Payment.Status)

	_, err = f.handler.ReturnOrder(ctx, ReturnOrder{UserID: otherBuyer.ID, OrderID: o.ID, Reason: "too small"})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	returned, err := f.handler.ReturnOrder(ctx, ReturnOrder{UserID: buyer.ID, OrderID: o.ID, Reason: "too small"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusReturned, returned.Status)
}

func TestHandler_Fulfilment_RejectsNonFulfillers(t *testing.T) {
	f := newTestHandler(t)
	o := f.placeOrder(t, f.listTShirt(t))
	ctx := context.Background()

	for _, actor := range []Actor{buyer, otherSeller} {
		_, err := f.handler.StartProcessing(ctx, StartProcessing{Actor: actor, OrderID: o.ID})
		assert.ErrorIs(t, err, order.ErrNotFulfiller)
		_, err = f.handler.ShipOrder(ctx, ShipOrder{Actor: actor, OrderID: o.ID})
		assert.ErrorIs(t, err, order.ErrNotFulfiller)
		_, err = f.handler.DeliverOrder(ctx, DeliverOrder{Actor: actor, OrderID: o.ID})
		assert.ErrorIs(t, err, order.ErrNotFulfiller)
	}
	assert.Empty(t, f.eventStore.AppendCalls)
}

// ============================================
// Address Tests
// ============================================

func TestHandler_SaveAddress_UsesCaller(t *testing.T) {
	f := newTestHandler(t)

	a, err := f.handler.SaveAddress(context.Background(), SaveAddress{
		UserID:  "user-777",
		Address: address.Address{UserID: "someone-else", FullName: "Kim", Phone: "1", Line1: "x", City: "y", State: "z", PostalCode: "1", Country: "US"},
	})

	require.NoError(t, err)
	assert.Equal(t, "user-777", a.UserID)
	assert.NotEmpty(t, a.ID)
}
