package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/marketplace-orders/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret-key"

func newTestAuthenticator() (*Authenticator, *auth.JWTService) {
	jwtService := auth.NewJWTService(testSecret, "marketplace", 15*time.Minute)
	return NewAuthenticator(jwtService, zap.NewNop()), jwtService
}

func mustToken(t *testing.T, jwtService *auth.JWTService, userID string, role auth.Role) string {
	t.Helper()
	token, _, err := jwtService.GenerateAccessToken(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return token
}

// recordingHandler answers 200 and keeps the claims it saw
type recordingHandler struct {
	called bool
	claims *auth.Claims
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.claims, _ = ClaimsFrom(r.Context())
	w.WriteHeader(http.StatusOK)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

// ============================================
// Authenticator.Require Tests
// ============================================

func TestAuthenticator_Require_BearerHeader(t *testing.T) {
	authn, jwtService := newTestAuthenticator()

	for _, role := range []auth.Role{auth.RoleBuyer, auth.RoleSeller, auth.RoleAdmin} {
		t.Run(string(role), func(t *testing.T) {
			next := &recordingHandler{}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1", nil)
			req.Header.Set("Authorization", "Bearer "+mustToken(t, jwtService, string(role)+"-1", role))

			rec := serve(authn.Require(next), req)

			assert.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, next.claims)
			assert.Equal(t, string(role)+"-1", next.claims.UserID)
			assert.Equal(t, role, next.claims.Role)
		})
	}
}

func TestAuthenticator_Require_SchemeIsCaseInsensitive(t *testing.T) {
	authn, jwtService := newTestAuthenticator()
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "bearer "+mustToken(t, jwtService, "buyer-1", auth.RoleBuyer))

	rec := serve(authn.Require(next), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer-1", next.claims.UserID)
}

func TestAuthenticator_Require_SessionCookie(t *testing.T) {
	authn, jwtService := newTestAuthenticator()
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: mustToken(t, jwtService, "buyer-1", auth.RoleBuyer)})

	rec := serve(authn.Require(next), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer-1", next.claims.UserID)
}

func TestAuthenticator_Require_HeaderBeatsCookie(t *testing.T) {
	authn, jwtService := newTestAuthenticator()
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-1/ship", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, jwtService, "seller-1", auth.RoleSeller))
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: mustToken(t, jwtService, "buyer-1", auth.RoleBuyer)})

	serve(authn.Require(next), req)

	require.NotNil(t, next.claims)
	assert.Equal(t, auth.RoleSeller, next.claims.Role)
}

func TestAuthenticator_Require_Rejections(t *testing.T) {
	authn, _ := newTestAuthenticator()
	expired := auth.NewJWTService(testSecret, "marketplace", -time.Minute)
	foreign := auth.NewJWTService("another-secret", "marketplace", 15*time.Minute)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"no token", "", "authentication required"},
		{"basic scheme", "Basic YnV5ZXI6cGFzcw==", "invalid token"},
		{"empty bearer", "Bearer ", "invalid token"},
		{"garbage", "Bearer not-a-jwt", "invalid token"},
		{"foreign signature", "Bearer " + mustToken(t, foreign, "buyer-1", auth.RoleBuyer), "invalid token"},
		{"expired", "Bearer " + mustToken(t, expired, "buyer-1", auth.RoleBuyer), "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recordingHandler{}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := serve(authn.Require(next), req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, next.called)
			assert.Equal(t, tt.message, errorMessage(t, rec))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
		})
	}
}

// ============================================
// Authenticator.Identify Tests
// ============================================

func TestAuthenticator_Identify_Anonymous(t *testing.T) {
	authn, _ := newTestAuthenticator()
	next := &recordingHandler{}

	rec := serve(authn.Identify(next), httptest.NewRequest(http.MethodGet, "/api/v1/products/p-1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, next.called)
	assert.Nil(t, next.claims)
}

func TestAuthenticator_Identify_AttachesSellerClaims(t *testing.T) {
	authn, jwtService := newTestAuthenticator()
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/p-1", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, jwtService, "seller-1", auth.RoleSeller))

	rec := serve(authn.Identify(next), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, next.claims)
	assert.True(t, next.claims.IsSeller())
}

func TestAuthenticator_Identify_RejectsStaleToken(t *testing.T) {
	authn, _ := newTestAuthenticator()
	expired := auth.NewJWTService(testSecret, "marketplace", -time.Minute)
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/p-1", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: mustToken(t, expired, "seller-1", auth.RoleSeller)})

	rec := serve(authn.Identify(next), req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, next.called)
	assert.Equal(t, "token expired", errorMessage(t, rec))
}

// ============================================
// RequireRole Tests
// ============================================

func TestRequireRole_MarketplaceGates(t *testing.T) {
	buyerGate := RequireRole(auth.RoleBuyer)
	fulfilmentGate := RequireRole(auth.RoleSeller, auth.RoleAdmin)
	adminGate := RequireRole(auth.RoleAdmin)

	tests := []struct {
		name string
		gate func(http.Handler) http.Handler
		role auth.Role
		want int
	}{
		{"buyer places order", buyerGate, auth.RoleBuyer, http.StatusOK},
		{"seller cannot shop", buyerGate, auth.RoleSeller, http.StatusForbidden},
		{"admin cannot shop", buyerGate, auth.RoleAdmin, http.StatusForbidden},
		{"seller ships", fulfilmentGate, auth.RoleSeller, http.StatusOK},
		{"admin ships", fulfilmentGate, auth.RoleAdmin, http.StatusOK},
		{"buyer cannot ship", fulfilmentGate, auth.RoleBuyer, http.StatusForbidden},
		{"admin blocks product", adminGate, auth.RoleAdmin, http.StatusOK},
		{"seller cannot block product", adminGate, auth.RoleSeller, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recordingHandler{}
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(WithClaims(req.Context(), &auth.Claims{UserID: "u-1", Role: tt.role}))

			rec := serve(tt.gate(next), req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.want == http.StatusOK, next.called)
		})
	}
}

func TestRequireRole_ForbiddenNamesRoles(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/o-1/ship", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.Claims{UserID: "buyer-1", Role: auth.RoleBuyer}))

	rec := serve(RequireRole(auth.RoleSeller, auth.RoleAdmin)(&recordingHandler{}), req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "requires role seller or admin", errorMessage(t, rec))
}

func TestRequireRole_WithoutAuthentication(t *testing.T) {
	next := &recordingHandler{}

	rec := serve(RequireRole(auth.RoleBuyer)(next), httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, next.called)
}

func TestRequireRole_AfterRequire(t *testing.T) {
	authn, jwtService := newTestAuthenticator()
	chain := authn.Require(RequireRole(auth.RoleAdmin)(&recordingHandler{}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/products/p-1/block", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, jwtService, "admin-1", auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, serve(chain, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/products/p-1/block", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, jwtService, "seller-1", auth.RoleSeller))
	assert.Equal(t, http.StatusForbidden, serve(chain, req).Code)
}

// ============================================
// Context Tests
// ============================================

func TestClaimsFrom(t *testing.T) {
	_, ok := ClaimsFrom(context.Background())
	assert.False(t, ok)

	_, ok = ClaimsFrom(WithClaims(context.Background(), nil))
	assert.False(t, ok)

	claims, ok := ClaimsFrom(WithClaims(context.Background(), &auth.Claims{UserID: "buyer-1", Role: auth.RoleBuyer}))
	require.True(t, ok)
	assert.Equal(t, "buyer-1", claims.UserID)
}
