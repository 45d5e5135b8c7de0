package command

import (
	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/auth"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/shopspring/decimal"
)

// Actor is the authenticated caller a command runs as
type Actor struct {
	ID   string
	Role auth.Role
}

func ActorFromClaims(c *auth.Claims) Actor {
	return Actor{ID: c.UserID, Role: c.Role}
}

// Cart Commands
type AddToCart struct {
	UserID    string `json:"-"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type SetCartQuantity struct {
	UserID    string `json:"-"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type RemoveFromCart struct {
	UserID    string `json:"-"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
}

type SyncCart struct {
	UserID string `json:"-"`
}

type ClearCart struct {
	UserID string `json:"-"`
}

// Order Commands
type PlaceOrder struct {
	UserID              string         `json:"-"`
	AddressID           string         `json:"address_id"`
	PaymentMethod       payment.Method `json:"payment_method"`
	ExpectedCartVersion *int           `json:"expected_cart_version,omitempty"`
}

type PayOrder struct {
	UserID  string `json:"-"`
	OrderID string `json:"-"`
}

type CancelOrder struct {
	Actor   Actor  `json:"-"`
	OrderID string `json:"-"`
	Reason  string `json:"reason"`
}

type ReturnOrder struct {
	UserID  string `json:"-"`
	OrderID string `json:"-"`
	Reason  string `json:"reason"`
}

type StartProcessing struct {
	Actor   Actor  `json:"-"`
	OrderID string `json:"-"`
}

type ShipOrder struct {
	Actor          Actor  `json:"-"`
	OrderID        string `json:"-"`
	TrackingNumber string `json:"tracking_number"`
}

type DeliverOrder struct {
	Actor   Actor  `json:"-"`
	OrderID string `json:"-"`
}

// Product Commands
type VariantInput struct {
	VariantID    string          `json:"variant_id"`
	Attributes   string          `json:"attributes"`
	BasePrice    decimal.Decimal `json:"base_price"`
	InitialStock int             `json:"initial_stock"`
}

type CreateProduct struct {
	Actor        Actor          `json:"-"`
	SellerName   string         `json:"seller_name"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Image        string         `json:"image"`
	Variants     []VariantInput `json:"variants"`
	BulkDiscount []pricing.Tier `json:"bulk_discount"`
}

type UpdateProduct struct {
	Actor       Actor  `json:"-"`
	ProductID   string `json:"-"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

type AddProductVariant struct {
	Actor     Actor        `json:"-"`
	ProductID string       `json:"-"`
	Variant   VariantInput `json:"variant"`
}

type ChangeVariantPrice struct {
	Actor     Actor           `json:"-"`
	ProductID string          `json:"-"`
	VariantID string          `json:"-"`
	BasePrice decimal.Decimal `json:"base_price"`
}

type SetVariantInStock struct {
	Actor     Actor  `json:"-"`
	ProductID string `json:"-"`
	VariantID string `json:"-"`
	InStock   bool   `json:"in_stock"`
}

type SetBulkDiscount struct {
	Actor     Actor          `json:"-"`
	ProductID string         `json:"-"`
	Tiers     []pricing.Tier `json:"tiers"`
}

type SetProductActive struct {
	Actor     Actor  `json:"-"`
	ProductID string `json:"-"`
	Active    bool   `json:"active"`
}

// BlockProduct is an admin action
type BlockProduct struct {
	ProductID string `json:"-"`
	Reason    string `json:"reason"`
}

type UnblockProduct struct {
	ProductID string `json:"-"`
}

type AddStock struct {
	Actor     Actor  `json:"-"`
	ProductID string `json:"-"`
	VariantID string `json:"-"`
	Quantity  int    `json:"quantity"`
}

// Address Commands
type SaveAddress struct {
	UserID  string          `json:"-"`
	Address address.Address `json:"address"`
}
