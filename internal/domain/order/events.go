package order

import (
	"time"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced            = "OrderPlaced"
	EventOrderPaid              = "OrderPaid"
	EventPaymentFailed          = "PaymentFailed"
	EventOrderProcessingStarted = "OrderProcessingStarted"
	EventOrderShipped           = "OrderShipped"
	EventOrderDelivered         = "OrderDelivered"
	EventOrderCancelled         = "OrderCancelled"
	EventOrderReturned          = "OrderReturned"
)

type OrderPlaced struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Items           []cart.Line     `json:"items"`
	ShippingAddress address.Address `json:"shipping_address"`
	PaymentMethod   payment.Method  `json:"payment_method"`
	Summary         pricing.Summary `json:"summary"`
	PlacedAt        time.Time       `json:"placed_at"`
}

type OrderPaid struct {
	OrderID       string          `json:"order_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
}

type PaymentFailed struct {
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type OrderProcessingStarted struct {
	OrderID   string    `json:"order_id"`
	StartedBy string    `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
}

type OrderShipped struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledBy string    `json:"cancelled_by"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type OrderReturned struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	ReturnedAt time.Time `json:"returned_at"`
}
