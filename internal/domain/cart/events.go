package cart

import (
	"time"

	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

const (
	EventVariantAdded       = "VariantAddedToCart"
	EventVariantQuantitySet = "VariantQuantitySet"
	EventVariantRemoved     = "VariantRemovedFromCart"
	EventCartSynced         = "CartSynced"
	EventCartCleared        = "CartCleared"
)

// VariantAddedToCart carries the live catalog data read at add time and the
// resulting quantity of the variant.
type VariantAddedToCart struct {
	CartID       string          `json:"cart_id"`
	UserID       string          `json:"user_id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Image        string          `json:"image"`
	Seller       catalog.Seller  `json:"seller"`
	BulkDiscount []pricing.Tier  `json:"bulk_discount"`
	IsActive     bool            `json:"is_active"`
	IsBlocked    bool            `json:"is_blocked"`
	VariantID    string          `json:"variant_id"`
	Attributes   string          `json:"attributes"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Stock        int             `json:"stock"`
	InStock      bool            `json:"in_stock"`
	Quantity     int             `json:"quantity"`
	AddedAt      time.Time       `json:"added_at"`
}

type VariantQuantitySet struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	Stock     int       `json:"stock"`
	InStock   bool      `json:"in_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

type VariantRemovedFromCart struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	RemovedAt time.Time `json:"removed_at"`
}

// CartSynced replaces the lines with their state re-read from the catalog.
type CartSynced struct {
	CartID   string    `json:"cart_id"`
	UserID   string    `json:"user_id"`
	Items    []Line    `json:"items"`
	SyncedAt time.Time `json:"synced_at"`
}

type CartCleared struct {
	CartID    string    `json:"cart_id"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id,omitempty"`
	ClearedAt time.Time `json:"cleared_at"`
}
