package pricing

import (
	"github.com/shopspring/decimal"
)

// Policy holds the order-level fees.
type Policy struct {
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	PlatformFee           decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		FreeShippingThreshold: decimal.NewFromInt(5000),
		ShippingFee:           decimal.NewFromInt(100),
		PlatformFee:           decimal.NewFromInt(10),
	}
}

// ShippingCharge is a step function of the pre-discount subtotal.
func (p Policy) ShippingCharge(subtotalBeforeDiscount decimal.Decimal) decimal.Decimal {
	if subtotalBeforeDiscount.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

// Summary is the cart-level (and order-level) price breakdown.
type Summary struct {
	SubtotalBeforeDiscount decimal.Decimal `json:"subtotal_before_discount"`
	TotalDiscount          decimal.Decimal `json:"total_discount"`
	SubtotalAfterDiscount  decimal.Decimal `json:"subtotal_after_discount"`
	ShippingCharge         decimal.Decimal `json:"shipping_charge"`
	PlatformFee            decimal.Decimal `json:"platform_fee"`
	CartTotal              decimal.Decimal `json:"cart_total"`
}

// LineAmounts is the per-product input to Summarize.
type LineAmounts struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
}

// Summarize re-sums every line from scratch. An empty cart has a zero summary:
// fees only apply once there is something to ship.
func Summarize(lines []LineAmounts, policy Policy) Summary {
	if len(lines) == 0 {
		return Summary{}
	}

	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
		discount = discount.Add(l.Discount)
	}

	after := subtotal.Sub(discount)
	shipping := policy.ShippingCharge(subtotal)

	return Summary{
		SubtotalBeforeDiscount: subtotal,
		TotalDiscount:          discount,
		SubtotalAfterDiscount:  after,
		ShippingCharge:         shipping,
		PlatformFee:            policy.PlatformFee,
		CartTotal:              after.Add(shipping).Add(policy.PlatformFee),
	}
}
