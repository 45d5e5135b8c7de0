package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/checkout"
	"github.com/example/marketplace-orders/internal/command"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/infrastructure/cache"
	"github.com/example/marketplace-orders/internal/infrastructure/store/mocks"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/example/marketplace-orders/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	t          *testing.T
	router     http.Handler
	jwt        *auth.JWTService
	eventStore *mocks.MockEventStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	es := mocks.NewMockEventStore()

	products := product.NewService(es, logger)
	inv := inventory.NewService(es, logger)
	cat := catalog.NewService(products, inv)
	carts := cart.NewService(es, cat, pricing.DefaultPolicy(), logger)
	orders := order.NewService(es, order.DefaultReturnWindow, logger)
	book := address.NewMemoryBook()
	materializer := checkout.NewMaterializer(es, carts, orders, inv, cat, book,
		payment.NewSimulatedGateway(payment.ApproveAll{}), logger)

	cmdHandler := command.NewHandler(es, products, carts, orders, inv, materializer, book, cache.Noop{}, logger)
	queryHandler := query.NewHandler(carts, orders, products, materializer, cache.Noop{}, mocks.NewMockReadStore(), logger)
	jwtService := auth.NewJWTService("test-secret-key", "marketplace", time.Hour)

	return &testServer{
		t: t,
		router: NewRouter(RouterConfig{
			Handlers:       NewHandlers(cmdHandler, queryHandler, book, logger),
			JWTService:     jwtService,
			AllowedOrigins: []string{"https://shop.example.com"},
			Logger:         logger,
		}),
		jwt:        jwtService,
		eventStore: es,
	}
}

func (s *testServer) token(userID string, role auth.Role) string {
	s.t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(userID, userID+"@example.com", role)
	require.NoError(s.t, err)
	return token
}

// do sends body as JSON with a bearer token for the user, if any
func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// createLamp lists a lamp with one variant of the given stock as seller-1
func (s *testServer) createLamp(stock int) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/seller/products", s.token("seller-1", auth.RoleSeller), map[string]any{
		"seller_name": "Lumen",
		"name":        "Desk Lamp",
		"variants": []map[string]any{
			{"variant_id": "brass", "attributes": "Brass", "base_price": "40", "initial_stock": stock},
		},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[product.Product](s.t, rec).ID
}

func (s *testServer) saveAddress(buyerToken string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/addresses", buyerToken, map[string]any{
		"full_name": "Jane Buyer", "phone": "555-0100", "line1": "1 Market St",
		"city": "Springfield", "state": "IL", "postal_code": "62701", "country": "US",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[address.Address](s.t, rec).ID
}

// placeOrder buys two lamps cash on delivery
func (s *testServer) placeOrder(buyerToken, productID string) order.Order {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 2,
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/v1/cart/sync", buyerToken, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/orders", buyerToken, map[string]any{
		"address_id": s.saveAddress(buyerToken), "payment_method": "cod",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[order.Order](s.t, rec)
}

// ============================================
// Routing and Auth Tests
// ============================================

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouter_Authorization(t *testing.T) {
	s := newTestServer(t)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	sellerToken := s.token("seller-1", auth.RoleSeller)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"cart without token", http.MethodGet, "/api/v1/cart", "", http.StatusUnauthorized},
		{"cart with garbage token", http.MethodGet, "/api/v1/cart", "not-a-jwt", http.StatusUnauthorized},
		{"cart as seller", http.MethodGet, "/api/v1/cart", sellerToken, http.StatusForbidden},
		{"create product as buyer", http.MethodPost, "/api/v1/seller/products", buyerToken, http.StatusForbidden},
		{"block as seller", http.MethodPost, "/api/v1/admin/products/p/block", sellerToken, http.StatusForbidden},
		{"ship as buyer", http.MethodPost, "/api/v1/orders/o/ship", buyerToken, http.StatusForbidden},
		{"cart as buyer", http.MethodGet, "/api/v1/cart", buyerToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/cart/items", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://shop.example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouter_CORSSimpleRequest(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

// ============================================
// Cart and Checkout Tests
// ============================================

func TestHandlers_AddToCart_StockConflict(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	item := map[string]any{"product_id": productID, "variant_id": "brass", "quantity": 5}

	rec := s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, item)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	item["quantity"] = 1
	rec = s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, item)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	require.NotNil(t, body.Available)
	assert.Equal(t, 5, *body.Available)
	assert.Equal(t, 6, *body.Requested)
	assert.Equal(t, "brass", body.VariantID)
}

func TestHandlers_AddToCart_BadRequests(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)

	rec := s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, map[string]any{
		"product_id": productID, "variant_id": "chrome", "quantity": 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_CartLifecycle(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)

	rec := s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/cart/items/"+productID+"/brass", buyerToken, map[string]any{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decodeBody[cart.Cart](t, rec)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].TotalQuantity)

	rec = s.do(http.MethodGet, "/api/v1/cart", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[cart.Cart](t, rec).PendingChanges)

	rec = s.do(http.MethodDelete, "/api/v1/cart/items/"+productID+"/brass", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[cart.Cart](t, rec).Items)

	rec = s.do(http.MethodDelete, "/api/v1/cart", buyerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_CheckoutPreviewAndGate(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	addressID := s.saveAddress(buyerToken)

	rec := s.do(http.MethodPost, "/api/v1/cart/items", buyerToken, map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/checkout/preview", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[checkout.Preview](t, rec)
	assert.False(t, preview.Eligibility.Eligible)
	assert.True(t, preview.Eligibility.Has(checkout.ReasonUnsyncedChanges))

	rec = s.do(http.MethodPost, "/api/v1/orders", buyerToken, map[string]any{
		"address_id": addressID, "payment_method": "COD",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorResponse](t, rec)
	assert.Contains(t, body.Reasons, checkout.ReasonUnsyncedChanges)
	assert.NotEmpty(t, body.Issues)
}

func TestHandlers_PlaceOrder_InvalidPaymentMethod(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/v1/orders", s.token("user-123", auth.RoleBuyer), map[string]any{
		"address_id": "addr-1", "payment_method": "barter",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// Order Tests
// ============================================

func TestHandlers_OrderLifecycle(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	sellerToken := s.token("seller-1", auth.RoleSeller)

	placed := s.placeOrder(buyerToken, productID)
	assert.Equal(t, order.StatusPending, placed.Status)
	assert.Equal(t, payment.MethodCOD, placed.Payment.Method)
	orderPath := "/api/v1/orders/" + placed.ID

	rec := s.do(http.MethodGet, orderPath, buyerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, orderPath, sellerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, orderPath, s.token("user-999", auth.RoleBuyer), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, orderPath+"/ship", sellerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "ship before processing")

	for _, step := range []struct {
		path string
		want order.Status
	}{
		{"/process", order.StatusProcessing},
		{"/ship", order.StatusShipped},
		{"/deliver", order.StatusDelivered},
	} {
		rec = s.do(http.MethodPost, orderPath+step.path, sellerToken, map[string]any{"tracking_number": "TRK-9"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, step.want, decodeBody[order.Order](t, rec).Status)
	}

	rec = s.do(http.MethodPost, orderPath+"/cancel", buyerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, orderPath+"/return", buyerToken, map[string]any{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, orderPath+"/return", buyerToken, map[string]any{"reason": "flickers"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	returned := decodeBody[order.Order](t, rec)
	assert.Equal(t, order.StatusReturned, returned.Status)
	assert.Equal(t, payment.StatusCompleted, returned.Payment.Status)
}

func TestHandlers_CancelOrder(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	placed := s.placeOrder(buyerToken, productID)

	rec := s.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/cancel", s.token("seller-2", auth.RoleSeller), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/cancel", buyerToken, map[string]any{"reason": "found cheaper"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeBody[order.Order](t, rec)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)
	assert.Equal(t, "found cheaper", cancelled.CancelReason)
}

func TestHandlers_PayOrder_COD(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	buyerToken := s.token("user-123", auth.RoleBuyer)
	placed := s.placeOrder(buyerToken, productID)

	rec := s.do(http.MethodPost, "/api/v1/orders/"+placed.ID+"/pay", buyerToken, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlers_ListOrders_EmptyArray(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/orders?limit=5", s.token("user-123", auth.RoleBuyer), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// ============================================
// Product Tests
// ============================================

func TestHandlers_ProductManagement(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	sellerToken := s.token("seller-1", auth.RoleSeller)
	base := "/api/v1/seller/products/" + productID

	rec := s.do(http.MethodPut, base+"/variants/brass/price", s.token("seller-2", auth.RoleSeller), map[string]any{"base_price": "45"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPut, base+"/variants/brass/price", sellerToken, map[string]any{"base_price": "45"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, base+"/variants", sellerToken, map[string]any{
		"variant_id": "chrome", "base_price": "50", "initial_stock": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[product.Product](t, rec).Variants, 2)

	rec = s.do(http.MethodPost, base+"/variants/chrome/stock", sellerToken, map[string]any{"quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stock := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 5, stock["available_stock"])

	rec = s.do(http.MethodPut, base+"/active", sellerToken, map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[product.Product](t, rec).IsActive)

	rec = s.do(http.MethodGet, "/api/v1/products/"+productID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Desk Lamp", decodeBody[product.Product](t, rec).Name)

	rec = s.do(http.MethodGet, "/api/v1/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_AdminBlock(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	adminToken := s.token("admin-1", auth.RoleAdmin)

	rec := s.do(http.MethodPost, "/api/v1/admin/products/"+productID+"/block", adminToken, map[string]any{"reason": "recalled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[product.Product](t, rec).IsBlocked)

	rec = s.do(http.MethodPost, "/api/v1/cart/items", s.token("user-123", auth.RoleBuyer), map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/products/"+productID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(http.MethodGet, "/api/v1/products/"+productID, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/admin/products/"+productID+"/unblock", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[product.Product](t, rec).IsBlocked)
}

// ============================================
// Error Mapping Tests
// ============================================

func TestHandlers_InfrastructureErrorIsHidden(t *testing.T) {
	s := newTestServer(t)
	productID := s.createLamp(5)
	s.eventStore.AppendErr = errors.New("connection reset by peer")

	rec := s.do(http.MethodPost, "/api/v1/cart/items", s.token("user-123", auth.RoleBuyer), map[string]any{
		"product_id": productID, "variant_id": "brass", "quantity": 1,
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestHandlers_Addresses(t *testing.T) {
	s := newTestServer(t)
	buyerToken := s.token("user-123", auth.RoleBuyer)

	rec := s.do(http.MethodGet, "/api/v1/addresses", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/addresses", buyerToken, map[string]any{"full_name": "No Street"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.saveAddress(buyerToken)
	rec = s.do(http.MethodGet, "/api/v1/addresses", buyerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]address.Address](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "user-123", list[0].UserID)
}
