// Package middleware authenticates marketplace callers and gates routes by
// their role.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/marketplace-orders/internal/auth"
	"go.uber.org/zap"
)

// SessionCookie carries the access token for browser clients
const SessionCookie = "access_token"

var errNoToken = errors.New("no token")

type claimsKey struct{}

// WithClaims attaches the caller's claims to ctx
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the claims attached by Authenticator, if any
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok && claims != nil
}

// Authenticator resolves the access token of a request into claims
type Authenticator struct {
	jwt    *auth.JWTService
	logger *zap.Logger
}

func NewAuthenticator(jwtService *auth.JWTService, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{jwt: jwtService, logger: logger.Named("auth")}
}

// Require rejects requests that carry no valid token
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Identify lets anonymous requests through and attaches claims when a token
// is presented. A presented token that does not validate is still rejected.
func (a *Authenticator) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		switch {
		case errors.Is(err, errNoToken):
			next.ServeHTTP(w, r)
		case err != nil:
			a.reject(w, r, err)
		default:
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		}
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*auth.Claims, error) {
	token, presented := tokenFrom(r)
	if !presented {
		return nil, errNoToken
	}
	if token == "" {
		return nil, auth.ErrInvalidToken
	}
	return a.jwt.ValidateAccessToken(token)
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	message := "invalid token"
	switch {
	case errors.Is(err, errNoToken):
		message = "authentication required"
	case errors.Is(err, auth.ErrExpiredToken):
		message = "token expired"
	}
	a.logger.Debug("request rejected",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("reason", message))
	w.Header().Set("WWW-Authenticate", `Bearer realm="marketplace"`)
	writeError(w, http.StatusUnauthorized, message)
}

// tokenFrom reads a bearer Authorization header, falling back to the session
// cookie. presented is true when either was sent, even if malformed.
func tokenFrom(r *http.Request) (token string, presented bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", true
		}
		return strings.TrimSpace(value), true
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value, true
	}
	return "", false
}

// RequireRole lets through callers holding any of roles. It must run after
// Authenticator.Require.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	forbidden := "requires role " + strings.Join(names, " or ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, forbidden)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
