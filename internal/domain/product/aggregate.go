package product

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/domain/aggregate"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const AggregateType = "Product"

var (
	ErrProductNotFound  = fmt.Errorf("%w: product not found", apperr.ErrNotFound)
	ErrVariantNotFound  = fmt.Errorf("%w: variant not found", apperr.ErrNotFound)
	ErrInvalidPrice     = fmt.Errorf("%w: price must be positive", apperr.ErrValidation)
	ErrInvalidName      = fmt.Errorf("%w: name is required", apperr.ErrValidation)
	ErrNoVariants       = fmt.Errorf("%w: a product needs at least one variant", apperr.ErrValidation)
	ErrDuplicateVariant = fmt.Errorf("%w: duplicate variant id", apperr.ErrValidation)
	ErrSellerRequired   = fmt.Errorf("%w: seller_id is required", apperr.ErrValidation)
	ErrNotOwner         = fmt.Errorf("%w: product belongs to another seller", apperr.ErrForbidden)
)

// Variant is a purchasable SKU. Stock lives in the inventory ledger; InStock is
// the seller's override and is authoritative on its own.
type Variant struct {
	VariantID  string          `json:"variant_id"`
	Attributes string          `json:"attributes"`
	BasePrice  decimal.Decimal `json:"base_price"`
	InStock    bool            `json:"in_stock"`
}

type Product struct {
	ID           string         `json:"id"`
	SellerID     string         `json:"seller_id"`
	SellerName   string         `json:"seller_name"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Image        string         `json:"image"`
	Variants     []Variant      `json:"variants"`
	BulkDiscount []pricing.Tier `json:"bulk_discount"`
	IsActive     bool           `json:"is_active"`
	IsBlocked    bool           `json:"is_blocked"`
	BlockReason  string         `json:"block_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Version      int            `json:"version"`
}

func (p *Product) GetID() string   { return p.ID }
func (p *Product) GetVersion() int { return p.Version }

// Variant returns the variant with the given id
func (p *Product) Variant(variantID string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return Variant{}, false
}

// CheckOwner rejects sellers other than the listing's owner
func (p *Product) CheckOwner(sellerID string) error {
	if p.SellerID != sellerID {
		return ErrNotOwner
	}
	return nil
}

func (p *Product) updateVariant(variantID string, fn func(v *Variant)) {
	for i := range p.Variants {
		if p.Variants[i].VariantID == variantID {
			fn(&p.Variants[i])
			return
		}
	}
}

// ApplyEvent applies a single event to the product state
func (p *Product) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventProductCreated:
		var data ProductCreated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.ID = data.ProductID
		p.SellerID = data.SellerID
		p.SellerName = data.SellerName
		p.Name = data.Name
		p.Description = data.Description
		p.Image = data.Image
		p.Variants = data.Variants
		p.BulkDiscount = data.BulkDiscount
		p.IsActive = true
		p.CreatedAt = data.CreatedAt
		p.UpdatedAt = data.CreatedAt
	case EventProductUpdated:
		var data ProductUpdated
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.Name = data.Name
		p.Description = data.Description
		p.Image = data.Image
		p.UpdatedAt = data.UpdatedAt
	case EventVariantAdded:
		var data VariantAdded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.Variants = append(p.Variants, data.Variant)
		p.UpdatedAt = data.AddedAt
	case EventVariantPriceChanged:
		var data VariantPriceChanged
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.updateVariant(data.VariantID, func(v *Variant) { v.BasePrice = data.BasePrice })
		p.UpdatedAt = data.ChangedAt
	case EventVariantAvailabilitySet:
		var data VariantAvailabilitySet
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.updateVariant(data.VariantID, func(v *Variant) { v.InStock = data.InStock })
		p.UpdatedAt = data.SetAt
	case EventBulkDiscountSet:
		var data BulkDiscountSet
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.BulkDiscount = data.Tiers
		p.UpdatedAt = data.SetAt
	case EventProductActivated:
		p.IsActive = true
	case EventProductDeactivated:
		p.IsActive = false
	case EventProductBlocked:
		var data ProductBlocked
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		p.IsBlocked = true
		p.BlockReason = data.Reason
	case EventProductUnblocked:
		p.IsBlocked = false
		p.BlockReason = ""
	}
	p.Version = event.Version
	return nil
}

// VariantSpec is the seller input for a new variant
type VariantSpec struct {
	VariantID  string
	Attributes string
	BasePrice  decimal.Decimal
}

func (v VariantSpec) toVariant() (Variant, error) {
	if !v.BasePrice.IsPositive() {
		return Variant{}, ErrInvalidPrice
	}
	id := strings.TrimSpace(v.VariantID)
	if id == "" {
		id = uuid.New().String()
	}
	return Variant{VariantID: id, Attributes: v.Attributes, BasePrice: v.BasePrice, InStock: true}, nil
}

type CreateParams struct {
	SellerID     string
	SellerName   string
	Name         string
	Description  string
	Image        string
	Variants     []VariantSpec
	BulkDiscount []pricing.Tier
}

type Service struct {
	eventStore store.EventStoreInterface
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, logger *zap.Logger) *Service {
	return &Service{eventStore: es, logger: logger.Named("product")}
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*Product, error) {
	if params.SellerID == "" {
		return nil, ErrSellerRequired
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, ErrInvalidName
	}
	if len(params.Variants) == 0 {
		return nil, ErrNoVariants
	}
	if err := pricing.ValidateTiers(params.BulkDiscount); err != nil {
		return nil, err
	}

	variants := make([]Variant, 0, len(params.Variants))
	seen := make(map[string]struct{}, len(params.Variants))
	for _, spec := range params.Variants {
		v, err := spec.toVariant()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[v.VariantID]; dup {
			return nil, ErrDuplicateVariant
		}
		seen[v.VariantID] = struct{}{}
		variants = append(variants, v)
	}

	productID := uuid.New().String()
	p := &Product{ID: productID}
	event := ProductCreated{
		ProductID:    productID,
		SellerID:     params.SellerID,
		SellerName:   params.SellerName,
		Name:         strings.TrimSpace(params.Name),
		Description:  params.Description,
		Image:        params.Image,
		Variants:     variants,
		BulkDiscount: pricing.SortTiers(params.BulkDiscount),
		CreatedAt:    time.Now(),
	}
	if err := s.commit(ctx, p, EventProductCreated, event); err != nil {
		return nil, err
	}

	s.logger.Info("product created",
		zap.String("product_id", productID),
		zap.String("seller_id", params.SellerID),
		zap.Int("variants", len(variants)))
	return p, nil
}

// Get loads a product, failing with ErrProductNotFound when nothing is stored
func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	p, found, err := aggregate.LoadAggregate(ctx, s.eventStore, productID, func() *Product {
		return &Product{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, productID, name, description, image string) (*Product, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidName
	}
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		return EventProductUpdated, ProductUpdated{
			ProductID:   productID,
			Name:        strings.TrimSpace(name),
			Description: description,
			Image:       image,
			UpdatedAt:   time.Now(),
		}, nil
	})
}

func (s *Service) AddVariant(ctx context.Context, productID string, spec VariantSpec) (*Product, error) {
	v, err := spec.toVariant()
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if _, exists := p.Variant(v.VariantID); exists {
			return "", nil, ErrDuplicateVariant
		}
		return EventVariantAdded, VariantAdded{ProductID: productID, Variant: v, AddedAt: time.Now()}, nil
	})
}

func (s *Service) ChangeVariantPrice(ctx context.Context, productID, variantID string, price decimal.Decimal) (*Product, error) {
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if _, ok := p.Variant(variantID); !ok {
			return "", nil, ErrVariantNotFound
		}
		return EventVariantPriceChanged, VariantPriceChanged{
			ProductID: productID,
			VariantID: variantID,
			BasePrice: price,
			ChangedAt: time.Now(),
		}, nil
	})
}

// SetVariantInStock sets the seller's availability override for a variant
func (s *Service) SetVariantInStock(ctx context.Context, productID, variantID string, inStock bool) (*Product, error) {
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if _, ok := p.Variant(variantID); !ok {
			return "", nil, ErrVariantNotFound
		}
		return EventVariantAvailabilitySet, VariantAvailabilitySet{
			ProductID: productID,
			VariantID: variantID,
			InStock:   inStock,
			SetAt:     time.Now(),
		}, nil
	})
}

func (s *Service) SetBulkDiscount(ctx context.Context, productID string, tiers []pricing.Tier) (*Product, error) {
	if err := pricing.ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		return EventBulkDiscountSet, BulkDiscountSet{
			ProductID: productID,
			Tiers:     pricing.SortTiers(tiers),
			SetAt:     time.Now(),
		}, nil
	})
}

func (s *Service) SetActive(ctx context.Context, productID string, active bool) (*Product, error) {
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if p.IsActive == active {
			return "", nil, nil
		}
		if active {
			return EventProductActivated, ProductActivated{ProductID: productID, ActivatedAt: time.Now()}, nil
		}
		return EventProductDeactivated, ProductDeactivated{ProductID: productID, DeactivatedAt: time.Now()}, nil
	})
}

func (s *Service) Block(ctx context.Context, productID, reason string) (*Product, error) {
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if p.IsBlocked {
			return "", nil, nil
		}
		return EventProductBlocked, ProductBlocked{ProductID: productID, Reason: reason, BlockedAt: time.Now()}, nil
	})
}

func (s *Service) Unblock(ctx context.Context, productID string) (*Product, error) {
	return s.mutate(ctx, productID, func(p *Product) (string, any, error) {
		if !p.IsBlocked {
			return "", nil, nil
		}
		return EventProductUnblocked, ProductUnblocked{ProductID: productID, UnblockedAt: time.Now()}, nil
	})
}

// mutate loads the product, lets decide pick the event and appends it against
// the loaded version. An empty event type means nothing changes.
func (s *Service) mutate(ctx context.Context, productID string, decide func(p *Product) (string, any, error)) (*Product, error) {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	eventType, data, err := decide(p)
	if err != nil {
		return nil, err
	}
	if eventType == "" {
		return p, nil
	}
	if err := s.commit(ctx, p, eventType, data); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) commit(ctx context.Context, p *Product, eventType string, data any) error {
	stored, err := s.eventStore.AppendBatch(ctx, []store.PendingEvent{{
		AggregateID:     p.ID,
		AggregateType:   AggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: p.Version,
	}})
	if err != nil {
		return err
	}
	if err := aggregate.ApplyStored(p, stored); err != nil {
		return err
	}
	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, p, AggregateType); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("product_id", p.ID), zap.Error(err))
	}
	return nil
}
