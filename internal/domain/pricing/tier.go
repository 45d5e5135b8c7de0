// Package pricing resolves bulk-discount tiers and folds priced cart lines into a
// cart summary. Everything here is pure: no I/O, no clocks.
package pricing

import (
	"fmt"
	"sort"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

var (
	ErrInvalidTierQuantity = fmt.Errorf("%w: tier min_qty must be at least 1", apperr.ErrValidation)
	ErrInvalidTierDiscount = fmt.Errorf("%w: tier discount must be between 0 and 100", apperr.ErrValidation)
	ErrDuplicateTier       = fmt.Errorf("%w: duplicate tier min_qty", apperr.ErrValidation)
)

// Tier is a bulk-discount bracket. PriceDiscountPerUnit is a percentage applied
// to every unit once the product's total quantity reaches MinQty.
type Tier struct {
	MinQty               int             `json:"min_qty"`
	PriceDiscountPerUnit decimal.Decimal `json:"price_discount_per_unit"`
}

func (t Tier) Validate() error {
	if t.MinQty < 1 {
		return ErrInvalidTierQuantity
	}
	if t.PriceDiscountPerUnit.IsNegative() || t.PriceDiscountPerUnit.GreaterThan(hundred) {
		return ErrInvalidTierDiscount
	}
	return nil
}

// ValidateTiers checks every tier and rejects repeated thresholds, which would
// make tier selection ambiguous.
func ValidateTiers(tiers []Tier) error {
	seen := make(map[int]struct{}, len(tiers))
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.MinQty]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateTier, t.MinQty)
		}
		seen[t.MinQty] = struct{}{}
	}
	return nil
}

// SortTiers returns a copy of tiers ordered by ascending MinQty.
func SortTiers(tiers []Tier) []Tier {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinQty < sorted[j].MinQty })
	return sorted
}

// ResolveTier returns the qualifying tier with the highest MinQty. Tiers are not
// cumulative: quantity 100 against {5: 5%, 10: 10%} yields the 10% tier only.
func ResolveTier(tiers []Tier, totalQuantity int) (Tier, bool) {
	var best Tier
	found := false
	for _, t := range tiers {
		if totalQuantity < t.MinQty {
			continue
		}
		if !found || t.MinQty > best.MinQty {
			best = t
			found = true
		}
	}
	return best, found
}

// DiscountPercentage is the percentage shared by every variant of a product.
func DiscountPercentage(tiers []Tier, totalQuantity int) decimal.Decimal {
	tier, ok := ResolveTier(tiers, totalQuantity)
	if !ok {
		return decimal.Zero
	}
	return tier.PriceDiscountPerUnit
}

// ApplyPercentage returns amount*pct/100 rounded to two places.
func ApplyPercentage(amount, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(pct).Div(hundred).Round(2)
}

// ProductDiscount is the absolute discount for a whole product line.
func ProductDiscount(subtotal decimal.Decimal, tiers []Tier, totalQuantity int) decimal.Decimal {
	return ApplyPercentage(subtotal, DiscountPercentage(tiers, totalQuantity))
}

// DiscountedTotal is amount with pct taken off, used for per-variant display totals.
func DiscountedTotal(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Sub(ApplyPercentage(amount, pct))
}
