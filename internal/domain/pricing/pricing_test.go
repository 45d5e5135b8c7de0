package pricing

import (
	"testing"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

// ============================================
// Tier Resolution Tests
// ============================================

func TestDiscountPercentage_HighestQualifyingTier(t *testing.T) {
	tiers := []Tier{
		{MinQty: 5, PriceDiscountPerUnit: dec("5")},
		{MinQty: 10, PriceDiscountPerUnit: dec("10")},
	}

	tests := []struct {
		quantity int
		expected string
	}{
		{0, "0"},
		{4, "0"},
		{5, "5"},
		{9, "5"},
		{10, "10"},
		{100, "10"},
	}

	for _, tt := range tests {
		assertDecimal(t, tt.expected, DiscountPercentage(tiers, tt.quantity))
	}
}

func TestResolveTier_OrderIndependent(t *testing.T) {
	tiers := []Tier{
		{MinQty: 20, PriceDiscountPerUnit: dec("15")},
		{MinQty: 5, PriceDiscountPerUnit: dec("5")},
		{MinQty: 10, PriceDiscountPerUnit: dec("10")},
	}

	tier, ok := ResolveTier(tiers, 12)

	require.True(t, ok)
	assert.Equal(t, 10, tier.MinQty)
}

func TestResolveTier_NoTiers(t *testing.T) {
	_, ok := ResolveTier(nil, 50)
	assert.False(t, ok)
	assertDecimal(t, "0", DiscountPercentage(nil, 50))
}

func TestProductDiscount_Percentage(t *testing.T) {
	tiers := []Tier{{MinQty: 5, PriceDiscountPerUnit: dec("10")}}

	assertDecimal(t, "50", ProductDiscount(dec("500"), tiers, 5))
	assertDecimal(t, "0", ProductDiscount(dec("400"), tiers, 4))
	assertDecimal(t, "12.35", ProductDiscount(dec("123.45"), tiers, 7))
}

func TestDiscountedTotal(t *testing.T) {
	assertDecimal(t, "270", DiscountedTotal(dec("300"), dec("10")))
	assertDecimal(t, "300", DiscountedTotal(dec("300"), decimal.Zero))
}

// ============================================
// Tier Validation Tests
// ============================================

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
		err   error
	}{
		{"valid", []Tier{{MinQty: 1, PriceDiscountPerUnit: dec("0")}, {MinQty: 3, PriceDiscountPerUnit: dec("100")}}, nil},
		{"zero min qty", []Tier{{MinQty: 0, PriceDiscountPerUnit: dec("5")}}, ErrInvalidTierQuantity},
		{"negative discount", []Tier{{MinQty: 2, PriceDiscountPerUnit: dec("-1")}}, ErrInvalidTierDiscount},
		{"discount over 100", []Tier{{MinQty: 2, PriceDiscountPerUnit: dec("100.5")}}, ErrInvalidTierDiscount},
		{"duplicate threshold", []Tier{{MinQty: 2, PriceDiscountPerUnit: dec("5")}, {MinQty: 2, PriceDiscountPerUnit: dec("7")}}, ErrDuplicateTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.tiers)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestSortTiers_DoesNotMutateInput(t *testing.T) {
	tiers := []Tier{{MinQty: 10}, {MinQty: 2}, {MinQty: 5}}

	sorted := SortTiers(tiers)

	assert.Equal(t, []int{2, 5, 10}, []int{sorted[0].MinQty, sorted[1].MinQty, sorted[2].MinQty})
	assert.Equal(t, 10, tiers[0].MinQty)
}

// ============================================
// Summary Tests
// ============================================

func TestSummarize_BelowFreeShipping(t *testing.T) {
	policy := DefaultPolicy()
	lines := []LineAmounts{
		{Subtotal: dec("500"), Discount: dec("50")},
		{Subtotal: dec("250.50"), Discount: decimal.Zero},
	}

	s := Summarize(lines, policy)

	assertDecimal(t, "750.50", s.SubtotalBeforeDiscount)
	assertDecimal(t, "50", s.TotalDiscount)
	assertDecimal(t, "700.50", s.SubtotalAfterDiscount)
	assertDecimal(t, "100", s.ShippingCharge)
	assertDecimal(t, "10", s.PlatformFee)
	assertDecimal(t, "810.50", s.CartTotal)
}

func TestSummarize_FreeShippingUsesPreDiscountSubtotal(t *testing.T) {
	policy := DefaultPolicy()
	// after discount the subtotal drops below the threshold; shipping stays free
	lines := []LineAmounts{{Subtotal: dec("5000"), Discount: dec("500")}}

	s := Summarize(lines, policy)

	assertDecimal(t, "0", s.ShippingCharge)
	assertDecimal(t, "4510", s.CartTotal)
}

func TestSummarize_ThresholdBoundary(t *testing.T) {
	policy := DefaultPolicy()

	assertDecimal(t, "100", Summarize([]LineAmounts{{Subtotal: dec("4999.99")}}, policy).ShippingCharge)
	assertDecimal(t, "0", Summarize([]LineAmounts{{Subtotal: dec("5000")}}, policy).ShippingCharge)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, DefaultPolicy())

	assertDecimal(t, "0", s.CartTotal)
	assertDecimal(t, "0", s.ShippingCharge)
	assertDecimal(t, "0", s.PlatformFee)
}

func TestSummarize_Identities(t *testing.T) {
	policy := Policy{
		FreeShippingThreshold: dec("1000"),
		ShippingFee:           dec("40"),
		PlatformFee:           dec("5"),
	}
	lines := []LineAmounts{
		{Subtotal: dec("199.99"), Discount: dec("20")},
		{Subtotal: dec("10"), Discount: dec("0.5")},
		{Subtotal: dec("799"), Discount: dec("79.9")},
	}

	s := Summarize(lines, policy)

	assert.True(t, s.SubtotalAfterDiscount.Equal(s.SubtotalBeforeDiscount.Sub(s.TotalDiscount)))
	assert.True(t, s.CartTotal.Equal(s.SubtotalAfterDiscount.Add(s.ShippingCharge).Add(s.PlatformFee)))
	assertDecimal(t, "0", s.ShippingCharge)
}
