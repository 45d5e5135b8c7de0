// Package checkout decides whether a cart may become an order and turns it
// into one.
package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/cart"
)

type Reason string

const (
	ReasonEmptyCart          Reason = "EMPTY_CART"
	ReasonUnsyncedChanges    Reason = "UNSYNCED_CHANGES"
	ReasonProductBlocked     Reason = "PRODUCT_BLOCKED"
	ReasonProductInactive    Reason = "PRODUCT_INACTIVE"
	ReasonVariantOutOfStock  Reason = "VARIANT_OUT_OF_STOCK"
	ReasonVariantUnavailable Reason = "VARIANT_UNAVAILABLE"
	ReasonPriceChanged       Reason = "PRICE_CHANGED"
	ReasonInsufficientStock  Reason = "INSUFFICIENT_STOCK"
)

// Issue is one reason a cart cannot be checked out
type Issue struct {
	Reason    Reason `json:"reason"`
	ProductID string `json:"product_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	Message   string `json:"message"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

type Eligibility struct {
	Eligible bool    `json:"eligible"`
	Issues   []Issue `json:"issues,omitempty"`
}

// Reasons lists the distinct reasons in the order they were found
func (e Eligibility) Reasons() []Reason {
	var out []Reason
	seen := make(map[Reason]bool)
	for _, is := range e.Issues {
		if !seen[is.Reason] {
			seen[is.Reason] = true
			out = append(out, is.Reason)
		}
	}
	return out
}

// Has reports whether any issue has reason r
func (e Eligibility) Has(r Reason) bool {
	for _, is := range e.Issues {
		if is.Reason == r {
			return true
		}
	}
	return false
}

// Evaluate checks the cart against its own flags and, when live is not nil,
// against the catalog's current state. Every problem is reported; nothing is
// mutated.
func Evaluate(c *cart.Cart, live catalog.Snapshot) Eligibility {
	var issues []Issue
	seen := make(map[Issue]bool)
	add := func(is Issue) {
		key := Issue{Reason: is.Reason, ProductID: is.ProductID, VariantID: is.VariantID}
		if seen[key] {
			return
		}
		seen[key] = true
		issues = append(issues, is)
	}

	if c.IsEmpty() {
		add(Issue{Reason: ReasonEmptyCart, Message: "cart is empty"})
	}
	if c.PendingChanges {
		add(Issue{Reason: ReasonUnsyncedChanges, Message: "cart has changes that were not synced with the catalog"})
	}

	for _, l := range c.Items {
		blocked, inactive := l.IsBlocked, !l.IsActive
		for _, v := range l.Variants {
			if !v.InStock {
				add(outOfStock(l, v.VariantID))
			}
			if live == nil {
				continue
			}

			info, ok := live[catalog.Key{ProductID: l.ProductID, VariantID: v.VariantID}]
			if !ok {
				add(Issue{
					Reason:    ReasonVariantUnavailable,
					ProductID: l.ProductID,
					VariantID: v.VariantID,
					Message:   fmt.Sprintf("%s (%s) is no longer sold", l.ProductName, v.VariantID),
				})
				continue
			}
			blocked = blocked || info.IsBlocked
			inactive = inactive || !info.IsActive
			if !info.InStock {
				add(outOfStock(l, v.VariantID))
			}
			if !info.BasePrice.Equal(v.BasePrice) {
				add(Issue{
					Reason:    ReasonPriceChanged,
					ProductID: l.ProductID,
					VariantID: v.VariantID,
					Message:   fmt.Sprintf("price of %s (%s) changed from %s to %s", l.ProductName, v.VariantID, v.BasePrice, info.BasePrice),
				})
			}
			if info.InStock && v.Quantity > info.Stock {
				available := max(info.Stock, 0)
				add(Issue{
					Reason:    ReasonInsufficientStock,
					ProductID: l.ProductID,
					VariantID: v.VariantID,
					Message:   fmt.Sprintf("only %d of %s (%s) left", available, l.ProductName, v.VariantID),
					Requested: v.Quantity,
					Available: &available,
				})
			}
		}
		if blocked {
			add(Issue{Reason: ReasonProductBlocked, ProductID: l.ProductID, Message: l.ProductName + " is blocked"})
		}
		if inactive {
			add(Issue{Reason: ReasonProductInactive, ProductID: l.ProductID, Message: l.ProductName + " is not currently sold"})
		}
	}

	return Eligibility{Eligible: len(issues) == 0, Issues: issues}
}

func outOfStock(l cart.Line, variantID string) Issue {
	return Issue{
		Reason:    ReasonVariantOutOfStock,
		ProductID: l.ProductID,
		VariantID: variantID,
		Message:   fmt.Sprintf("%s (%s) is out of stock", l.ProductName, variantID),
	}
}

// ErrCartIneligible is matched by every IneligibleError
var ErrCartIneligible = errors.New("cart is not eligible for checkout")

// IneligibleError carries the gate's findings. It is a stock conflict when
// stock is the only problem and a validation error otherwise.
type IneligibleError struct {
	Eligibility Eligibility
}

func (e *IneligibleError) Error() string {
	reasons := e.Eligibility.Reasons()
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return fmt.Sprintf("%v: %s", ErrCartIneligible, strings.Join(parts, ", "))
}

func (e *IneligibleError) Unwrap() []error {
	if conflict := e.stockConflict(); conflict != nil {
		return []error{ErrCartIneligible, conflict}
	}
	return []error{ErrCartIneligible, apperr.ErrValidation}
}

func (e *IneligibleError) stockConflict() *apperr.StockConflictError {
	var first *Issue
	for i := range e.Eligibility.Issues {
		is := &e.Eligibility.Issues[i]
		if is.Reason != ReasonInsufficientStock {
			return nil
		}
		if first == nil {
			first = is
		}
	}
	if first == nil {
		return nil
	}
	conflict := &apperr.StockConflictError{
		ProductID: first.ProductID,
		VariantID: first.VariantID,
		Requested: first.Requested,
	}
	if first.Available != nil {
		conflict.Available = *first.Available
	}
	return conflict
}
