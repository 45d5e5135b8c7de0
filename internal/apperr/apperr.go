// Package apperr defines the error kinds shared by the cart, checkout and order
// packages. Domain packages declare their own sentinels wrapping one of these
// kinds so callers can branch on either the specific error or its kind.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected request that mutated nothing.
	ErrValidation = errors.New("validation error")
	// ErrStockConflict marks a quantity that exceeds live stock.
	ErrStockConflict = errors.New("stock conflict")
	// ErrStateConflict marks an illegal state transition or a stale write.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound marks an unknown product, variant, address, cart or order.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an actor touching a resource it does not own.
	ErrForbidden = errors.New("forbidden")
)

// StockConflictError carries the authoritative stock so the caller can clamp and retry.
type StockConflictError struct {
	ProductID string
	VariantID string
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict: product %s variant %s requested %d, available %d",
		e.ProductID, e.VariantID, e.Requested, e.Available)
}

func (e *StockConflictError) Unwrap() error { return ErrStockConflict }

// Kind returns the kind sentinel err belongs to, or nil for infrastructure errors.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrStockConflict, ErrStateConflict, ErrNotFound, ErrForbidden} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
