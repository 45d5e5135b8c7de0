package product

import (
	"time"

	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

const (
	EventProductCreated         = "ProductCreated"
	EventProductUpdated         = "ProductUpdated"
	EventVariantAdded           = "VariantAdded"
	EventVariantPriceChanged    = "VariantPriceChanged"
	EventVariantAvailabilitySet = "VariantAvailabilitySet"
	EventBulkDiscountSet        = "BulkDiscountSet"
	EventProductActivated       = "ProductActivated"
	EventProductDeactivated     = "ProductDeactivated"
	EventProductBlocked         = "ProductBlocked"
	EventProductUnblocked       = "ProductUnblocked"
)

type ProductCreated struct {
	ProductID    string         `json:"product_id"`
	SellerID     string         `json:"seller_id"`
	SellerName   string         `json:"seller_name"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Image        string         `json:"image"`
	Variants     []Variant      `json:"variants"`
	BulkDiscount []pricing.Tier `json:"bulk_discount"`
	CreatedAt    time.Time      `json:"created_at"`
}

type ProductUpdated struct {
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type VariantAdded struct {
	ProductID string    `json:"product_id"`
	Variant   Variant   `json:"variant"`
	AddedAt   time.Time `json:"added_at"`
}

type VariantPriceChanged struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	BasePrice decimal.Decimal `json:"base_price"`
	ChangedAt time.Time       `json:"changed_at"`
}

// VariantAvailabilitySet records the seller's in-stock override
type VariantAvailabilitySet struct {
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	InStock   bool      `json:"in_stock"`
	SetAt     time.Time `json:"set_at"`
}

type BulkDiscountSet struct {
	ProductID string         `json:"product_id"`
	Tiers     []pricing.Tier `json:"tiers"`
	SetAt     time.Time      `json:"set_at"`
}

type ProductActivated struct {
	ProductID   string    `json:"product_id"`
	ActivatedAt time.Time `json:"activated_at"`
}

type ProductDeactivated struct {
	ProductID     string    `json:"product_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

// ProductBlocked is emitted when an admin takes a listing down
type ProductBlocked struct {
	ProductID string    `json:"product_id"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
}

type ProductUnblocked struct {
	ProductID   string    `json:"product_id"`
	UnblockedAt time.Time `json:"unblocked_at"`
}
