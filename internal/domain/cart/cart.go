package cart

import (
	"time"

	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/shopspring/decimal"
)

// Variant is one SKU in a cart line. Stock, InStock and BasePrice are the values
// the catalog reported when the cart last read it.
type Variant struct {
	VariantID       string          `json:"variant_id"`
	Attributes      string          `json:"attributes"`
	BasePrice       decimal.Decimal `json:"base_price"`
	Stock           int             `json:"stock"`
	InStock         bool            `json:"in_stock"`
	Quantity        int             `json:"quantity"`
	VariantTotal    decimal.Decimal `json:"variant_total"`
	DiscountedTotal decimal.Decimal `json:"discounted_total"`
}

// Line groups the variants of one product. All derived fields are rebuilt by
// Recompute; a line always holds at least one variant.
type Line struct {
	ProductID          string          `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Image              string          `json:"image"`
	Seller             catalog.Seller  `json:"seller"`
	Variants           []Variant       `json:"variants"`
	BulkDiscount       []pricing.Tier  `json:"bulk_discount"`
	TotalQuantity      int             `json:"total_quantity"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	ProductSubtotal    decimal.Decimal `json:"product_subtotal"`
	ProductDiscount    decimal.Decimal `json:"product_discount"`
	ProductTotal       decimal.Decimal `json:"product_total"`
	IsActive           bool            `json:"is_active"`
	IsBlocked          bool            `json:"is_blocked"`
}

// Recompute rebuilds every derived field of the line from its variants. The
// tier is resolved on the product's total quantity and shared by all variants.
func (l *Line) Recompute() {
	total := 0
	subtotal := decimal.Zero
	for i := range l.Variants {
		v := &l.Variants[i]
		v.VariantTotal = v.BasePrice.Mul(decimal.NewFromInt(int64(v.Quantity)))
		total += v.Quantity
		subtotal = subtotal.Add(v.VariantTotal)
	}

	pct := pricing.DiscountPercentage(l.BulkDiscount, total)
	for i := range l.Variants {
		l.Variants[i].DiscountedTotal = pricing.DiscountedTotal(l.Variants[i].VariantTotal, pct)
	}

	l.TotalQuantity = total
	l.DiscountPercentage = pct
	l.ProductSubtotal = subtotal
	l.ProductDiscount = pricing.ApplyPercentage(subtotal, pct)
	l.ProductTotal = subtotal.Sub(l.ProductDiscount)
}

func (l *Line) variantIndex(variantID string) int {
	for i := range l.Variants {
		if l.Variants[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// Summarize folds the lines into a summary by full re-summation.
func Summarize(items []Line, policy pricing.Policy) pricing.Summary {
	amounts := make([]pricing.LineAmounts, len(items))
	for i, l := range items {
		amounts[i] = pricing.LineAmounts{Subtotal: l.ProductSubtotal, Discount: l.ProductDiscount}
	}
	return pricing.Summarize(amounts, policy)
}

// CloneLines deep-copies lines so an order snapshot never aliases cart state.
func CloneLines(items []Line) []Line {
	if items == nil {
		return nil
	}
	out := make([]Line, len(items))
	for i, l := range items {
		out[i] = l
		out[i].Variants = append([]Variant(nil), l.Variants...)
		out[i].BulkDiscount = append([]pricing.Tier(nil), l.BulkDiscount...)
	}
	return out
}

// Cart is a buyer's single source of truth. PendingChanges is set by every
// edit and cleared once the cart has been re-read against the live catalog.
type Cart struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Items          []Line          `json:"items"`
	Summary        pricing.Summary `json:"summary"`
	PendingChanges bool            `json:"pending_changes"`
	Version        int             `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (c *Cart) GetID() string   { return c.ID }
func (c *Cart) GetVersion() int { return c.Version }

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c *Cart) lineIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Variant returns the cart's copy of a variant
func (c *Cart) Variant(productID, variantID string) (Variant, bool) {
	li := c.lineIndex(productID)
	if li < 0 {
		return Variant{}, false
	}
	vi := c.Items[li].variantIndex(variantID)
	if vi < 0 {
		return Variant{}, false
	}
	return c.Items[li].Variants[vi], true
}

// Keys lists every variant in the cart, in line order
func (c *Cart) Keys() []catalog.Key {
	var keys []catalog.Key
	for _, l := range c.Items {
		for _, v := range l.Variants {
			keys = append(keys, catalog.Key{ProductID: l.ProductID, VariantID: v.VariantID})
		}
	}
	return keys
}

// removeVariant drops a variant and, with it, a line left without variants.
func (c *Cart) removeVariant(productID, variantID string) {
	li := c.lineIndex(productID)
	if li < 0 {
		return
	}
	line := &c.Items[li]
	vi := line.variantIndex(variantID)
	if vi < 0 {
		return
	}
	line.Variants = append(line.Variants[:vi], line.Variants[vi+1:]...)
	if len(line.Variants) == 0 {
		c.Items = append(c.Items[:li], c.Items[li+1:]...)
		return
	}
	line.Recompute()
}

// purchasable is the quantity the catalog allows right now. The seller's
// in-stock override wins over the ledger.
func purchasable(info *catalog.VariantInfo) int {
	if !info.InStock {
		return 0
	}
	return max(info.Stock, 0)
}

// lineFromInfo builds the product-level part of a line from live data.
func lineFromInfo(info *catalog.VariantInfo) Line {
	return Line{
		ProductID:    info.ProductID,
		ProductName:  info.ProductName,
		Image:        info.Image,
		Seller:       info.Seller,
		BulkDiscount: append([]pricing.Tier(nil), info.BulkDiscount...),
		IsActive:     info.IsActive,
		IsBlocked:    info.IsBlocked,
	}
}

func variantFromInfo(info *catalog.VariantInfo, quantity int) Variant {
	return Variant{
		VariantID:  info.VariantID,
		Attributes: info.Attributes,
		BasePrice:  info.BasePrice,
		Stock:      info.Stock,
		InStock:    info.InStock,
		Quantity:   quantity,
	}
}

// sameLines reports whether two line sets hold the same inputs. Derived fields
// are ignored since Recompute rebuilds them.
func sameLines(a, b []Line) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		la, lb := a[i], b[i]
		if la.ProductID != lb.ProductID || la.ProductName != lb.ProductName || la.Image != lb.Image ||
			la.Seller != lb.Seller || la.IsActive != lb.IsActive || la.IsBlocked != lb.IsBlocked ||
			!sameTiers(la.BulkDiscount, lb.BulkDiscount) || len(la.Variants) != len(lb.Variants) {
			return false
		}
		for j := range la.Variants {
			va, vb := la.Variants[j], lb.Variants[j]
			if va.VariantID != vb.VariantID || va.Attributes != vb.Attributes || !va.BasePrice.Equal(vb.BasePrice) ||
				va.Stock != vb.Stock || va.InStock != vb.InStock || va.Quantity != vb.Quantity {
				return false
			}
		}
	}
	return true
}

func sameTiers(a, b []pricing.Tier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].MinQty != b[i].MinQty || !a[i].PriceDiscountPerUnit.Equal(b[i].PriceDiscountPerUnit) {
			return false
		}
	}
	return true
}
