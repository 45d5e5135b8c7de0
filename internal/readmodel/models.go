package readmodel

import (
	"time"

	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// OrderItemReadModel is one ordered variant, flattened for listing
type OrderItemReadModel struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	SellerID        string          `json:"seller_id"`
	VariantID       string          `json:"variant_id"`
	Attributes      string          `json:"attributes"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountedTotal decimal.Decimal `json:"discounted_total"`
}

// OrderReadModel is the order history row shown to buyers and sellers
type OrderReadModel struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	SellerIDs      []string             `json:"seller_ids"`
	Items          []OrderItemReadModel `json:"items"`
	Summary        pricing.Summary      `json:"summary"`
	Status         string               `json:"status"`
	PaymentMethod  string               `json:"payment_method"`
	PaymentStatus  string               `json:"payment_status"`
	CartTotal      decimal.Decimal      `json:"cart_total"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
	CancelReason   string               `json:"cancel_reason,omitempty"`
	ReturnReason   string               `json:"return_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Version        int                  `json:"version"`
}

// HasSeller reports whether sellerID sells any item of the order
func (o *OrderReadModel) HasSeller(sellerID string) bool {
	for _, id := range o.SellerIDs {
		if id == sellerID {
			return true
		}
	}
	return false
}
