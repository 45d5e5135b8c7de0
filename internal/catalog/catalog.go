// Package catalog answers the live questions the cart and checkout ask about a
// variant: its price, stock and the flags that make it purchasable.
package catalog

import (
	"context"
	"errors"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentLookups bounds the fan-out of LoadSnapshot.
const maxConcurrentLookups = 8

type Seller struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VariantInfo is the live state of one variant
type VariantInfo struct {
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	Image        string          `json:"image"`
	Seller       Seller          `json:"seller"`
	VariantID    string          `json:"variant_id"`
	Attributes   string          `json:"attributes"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Stock        int             `json:"stock"`
	InStock      bool            `json:"in_stock"`
	IsActive     bool            `json:"is_active"`
	IsBlocked    bool            `json:"is_blocked"`
	BulkDiscount []pricing.Tier  `json:"bulk_discount"`
}

// Catalog resolves a variant to its live state. Unknown products or variants
// fail with an error of kind apperr.ErrNotFound.
type Catalog interface {
	GetVariant(ctx context.Context, productID, variantID string) (*VariantInfo, error)
}

// Service combines the product listing with the variant's inventory ledger.
type Service struct {
	products  *product.Service
	inventory *inventory.Service
}

func NewService(products *product.Service, inv *inventory.Service) *Service {
	return &Service{products: products, inventory: inv}
}

func (s *Service) GetVariant(ctx context.Context, productID, variantID string) (*VariantInfo, error) {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	v, ok := p.Variant(variantID)
	if !ok {
		return nil, product.ErrVariantNotFound
	}
	stock, err := s.inventory.AvailableStock(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	return &VariantInfo{
		ProductID:    p.ID,
		ProductName:  p.Name,
		Image:        p.Image,
		Seller:       Seller{ID: p.SellerID, Name: p.SellerName},
		VariantID:    v.VariantID,
		Attributes:   v.Attributes,
		BasePrice:    v.BasePrice,
		Stock:        stock,
		InStock:      v.InStock,
		IsActive:     p.IsActive,
		IsBlocked:    p.IsBlocked,
		BulkDiscount: p.BulkDiscount,
	}, nil
}

// Key identifies a variant in a Snapshot
type Key struct {
	ProductID string
	VariantID string
}

// Snapshot is the live state of a set of variants read at one point in time.
// Variants the catalog no longer knows are absent.
type Snapshot map[Key]*VariantInfo

// LoadSnapshot reads every key from cat. Not-found variants are left out of the
// snapshot; any other error aborts the load.
func LoadSnapshot(ctx context.Context, cat Catalog, keys []Key) (Snapshot, error) {
	infos := make([]*VariantInfo, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, key := range keys {
		g.Go(func() error {
			info, err := cat.GetVariant(gctx, key.ProductID, key.VariantID)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, len(keys))
	for i, key := range keys {
		if infos[i] != nil {
			snapshot[key] = infos[i]
		}
	}
	return snapshot, nil
}
