package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/aggregate"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"go.uber.org/zap"
)

const AggregateType = "Cart"

var (
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be at least 1", apperr.ErrValidation)
	ErrInvalidProduct     = fmt.Errorf("%w: product_id and variant_id are required", apperr.ErrValidation)
	ErrProductUnavailable = fmt.Errorf("%w: product is blocked or inactive", apperr.ErrValidation)
	ErrVariantNotInCart   = fmt.Errorf("%w: variant is not in the cart", apperr.ErrNotFound)
)

// GetCartID returns the cart ID for a user; each user owns exactly one cart
func GetCartID(userID string) string {
	return "cart-" + userID
}

func newCart(userID string) *Cart {
	return &Cart{ID: GetCartID(userID), UserID: userID}
}

// ApplyEvent applies a single event to the cart state
func (c *Cart) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventVariantAdded:
		var data VariantAddedToCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.UserID = data.UserID
		info := &catalog.VariantInfo{
			ProductID:    data.ProductID,
			ProductName:  data.ProductName,
			Image:        data.Image,
			Seller:       data.Seller,
			VariantID:    data.VariantID,
			Attributes:   data.Attributes,
			BasePrice:    data.BasePrice,
			Stock:        data.Stock,
			InStock:      data.InStock,
			IsActive:     data.IsActive,
			IsBlocked:    data.IsBlocked,
			BulkDiscount: data.BulkDiscount,
		}
		li := c.lineIndex(data.ProductID)
		if li < 0 {
			c.Items = append(c.Items, lineFromInfo(info))
			li = len(c.Items) - 1
		} else {
			variants := c.Items[li].Variants
			c.Items[li] = lineFromInfo(info)
			c.Items[li].Variants = variants
		}
		line := &c.Items[li]
		if vi := line.variantIndex(data.VariantID); vi >= 0 {
			line.Variants[vi] = variantFromInfo(info, data.Quantity)
		} else {
			line.Variants = append(line.Variants, variantFromInfo(info, data.Quantity))
		}
		line.Recompute()
		c.PendingChanges = true
		c.UpdatedAt = data.AddedAt
	case EventVariantQuantitySet:
		var data VariantQuantitySet
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		if li := c.lineIndex(data.ProductID); li >= 0 {
			line := &c.Items[li]
			if vi := line.variantIndex(data.VariantID); vi >= 0 {
				line.Variants[vi].Quantity = data.Quantity
				line.Variants[vi].Stock = data.Stock
				line.Variants[vi].InStock = data.InStock
				line.Recompute()
			}
		}
		c.PendingChanges = true
		c.UpdatedAt = data.UpdatedAt
	case EventVariantRemoved:
		var data VariantRemovedFromCart
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.removeVariant(data.ProductID, data.VariantID)
		c.PendingChanges = true
		c.UpdatedAt = data.RemovedAt
	case EventCartSynced:
		var data CartSynced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.Items = data.Items
		for i := range c.Items {
			c.Items[i].Recompute()
		}
		c.PendingChanges = false
		c.UpdatedAt = data.SyncedAt
	case EventCartCleared:
		var data CartCleared
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		c.Items = nil
		c.PendingChanges = false
		c.UpdatedAt = data.ClearedAt
	}
	c.ID = event.AggregateID
	c.Version = event.Version
	return nil
}

// ClearedEvent builds the CartCleared event for c, bound to the version the
// caller loaded. Checkout appends it in the same batch as the order.
func ClearedEvent(c *Cart, orderID string, now time.Time) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:   c.ID,
		AggregateType: AggregateType,
		EventType:     EventCartCleared,
		Data: CartCleared{
			CartID:    c.ID,
			UserID:    c.UserID,
			OrderID:   orderID,
			ClearedAt: now,
		},
		ExpectedVersion: c.Version,
	}
}

type Service struct {
	eventStore store.EventStoreInterface
	catalog    catalog.Catalog
	policy     pricing.Policy
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, cat catalog.Catalog, policy pricing.Policy, logger *zap.Logger) *Service {
	return &Service{
		eventStore: es,
		catalog:    cat,
		policy:     policy,
		logger:     logger.Named("cart"),
	}
}

func (s *Service) Policy() pricing.Policy { return s.policy }

// Get loads the user's cart; a user without events has an empty cart.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, _, err := aggregate.LoadAggregate(ctx, s.eventStore, GetCartID(userID), func() *Cart {
		return newCart(userID)
	})
	if err != nil {
		return nil, err
	}
	c.Summary = Summarize(c.Items, s.policy)
	return c, nil
}

// AddVariant puts a variant in the cart, or adds to its quantity, using the
// catalog's live data. The resulting quantity is clamped to live stock.
func (s *Service) AddVariant(ctx context.Context, userID, productID, variantID string, quantity int) (*Cart, error) {
	if productID == "" || variantID == "" {
		return nil, ErrInvalidProduct
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	info, err := s.catalog.GetVariant(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	if info.IsBlocked || !info.IsActive {
		return nil, ErrProductUnavailable
	}

	existing := 0
	if v, ok := c.Variant(productID, variantID); ok {
		existing = v.Quantity
	}
	available := purchasable(info)
	if available <= existing {
		return nil, &apperr.StockConflictError{
			ProductID: productID,
			VariantID: variantID,
			Requested: existing + quantity,
			Available: available,
		}
	}
	final := min(existing+quantity, available)

	event := VariantAddedToCart{
		CartID:       c.ID,
		UserID:       userID,
		ProductID:    info.ProductID,
		ProductName:  info.ProductName,
		Image:        info.Image,
		Seller:       info.Seller,
		BulkDiscount: info.BulkDiscount,
		IsActive:     info.IsActive,
		IsBlocked:    info.IsBlocked,
		VariantID:    info.VariantID,
		Attributes:   info.Attributes,
		BasePrice:    info.BasePrice,
		Stock:        info.Stock,
		InStock:      info.InStock,
		Quantity:     final,
		AddedAt:      time.Now(),
	}
	if err := s.commit(ctx, c, EventVariantAdded, event); err != nil {
		return nil, err
	}

	s.logger.Info("variant added",
		zap.String("cart_id", c.ID),
		zap.String("product_id", productID),
		zap.String("variant_id", variantID),
		zap.Int("quantity", final))
	return c, nil
}

// SetVariantQuantity sets a variant's quantity after re-reading live stock.
// Quantities above stock are clamped; setting the current state again is a no-op.
func (s *Service) SetVariantQuantity(ctx context.Context, userID, productID, variantID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, ok := c.Variant(productID, variantID)
	if !ok {
		return nil, ErrVariantNotInCart
	}

	info, err := s.catalog.GetVariant(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}
	available := purchasable(info)
	if available < 1 {
		return nil, &apperr.StockConflictError{
			ProductID: productID,
			VariantID: variantID,
			Requested: quantity,
			Available: 0,
		}
	}
	clamped := min(quantity, available)

	if clamped == current.Quantity && info.Stock == current.Stock && info.InStock == current.InStock {
		return c, nil
	}

	event := VariantQuantitySet{
		CartID:    c.ID,
		UserID:    userID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  clamped,
		Stock:     info.Stock,
		InStock:   info.InStock,
		UpdatedAt: time.Now(),
	}
	if err := s.commit(ctx, c, EventVariantQuantitySet, event); err != nil {
		return nil, err
	}

	if clamped < quantity {
		s.logger.Info("quantity clamped to stock",
			zap.String("cart_id", c.ID),
			zap.String("variant_id", variantID),
			zap.Int("requested", quantity),
			zap.Int("stock", available))
	}
	return c, nil
}

// RemoveVariant drops a variant; the product line goes with its last variant.
// Removing a variant that is not in the cart changes nothing.
func (s *Service) RemoveVariant(ctx context.Context, userID, productID, variantID string) (*Cart, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := c.Variant(productID, variantID); !ok {
		return c, nil
	}

	event := VariantRemovedFromCart{
		CartID:    c.ID,
		UserID:    userID,
		ProductID: productID,
		VariantID: variantID,
		RemovedAt: time.Now(),
	}
	if err := s.commit(ctx, c, EventVariantRemoved, event); err != nil {
		return nil, err
	}
	return c, nil
}

// Sync re-reads every variant from the catalog, refreshes prices and flags,
// clamps quantities to stock and drops variants that are sold out or that the
// catalog no longer has.
// A synced cart has no pending changes.
func (s *Service) Sync(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() && !c.PendingChanges {
		return c, nil
	}

	live, err := catalog.LoadSnapshot(ctx, s.catalog, c.Keys())
	if err != nil {
		return nil, err
	}

	items := make([]Line, 0, len(c.Items))
	for _, l := range c.Items {
		var line *Line
		for _, v := range l.Variants {
			info, ok := live[catalog.Key{ProductID: l.ProductID, VariantID: v.VariantID}]
			if !ok || info.Stock < 1 {
				reason := "sold out"
				if !ok {
					reason = "not in catalog"
				}
				s.logger.Info("variant dropped on sync",
					zap.String("cart_id", c.ID),
					zap.String("product_id", l.ProductID),
					zap.String("variant_id", v.VariantID),
					zap.String("reason", reason))
				continue
			}
			if line == nil {
				fresh := lineFromInfo(info)
				line = &fresh
			}
			// InStock=false keeps the variant so the gate can report it;
			// the quantity still never exceeds the ledger.
			line.Variants = append(line.Variants, variantFromInfo(info, min(v.Quantity, info.Stock)))
		}
		if line != nil {
			line.Recompute()
			items = append(items, *line)
		}
	}

	if !c.PendingChanges && sameLines(c.Items, items) {
		return c, nil
	}

	event := CartSynced{
		CartID:   c.ID,
		UserID:   userID,
		Items:    items,
		SyncedAt: time.Now(),
	}
	if err := s.commit(ctx, c, EventCartSynced, event); err != nil {
		return nil, err
	}
	return c, nil
}

// Clear empties the cart. An already empty, synced cart is left alone.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() && !c.PendingChanges {
		return c, nil
	}

	pe := ClearedEvent(c, "", time.Now())
	if err := s.commit(ctx, c, pe.EventType, pe.Data); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) commit(ctx context.Context, c *Cart, eventType string, data any) error {
	stored, err := s.eventStore.AppendBatch(ctx, []store.PendingEvent{{
		AggregateID:     c.ID,
		AggregateType:   AggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: c.Version,
	}})
	if err != nil {
		return err
	}
	return s.AfterCommit(ctx, c, stored)
}

// AfterCommit folds stored events into c, refreshes its summary and snapshots it.
// An event that cannot be applied leaves c stale, so the caller must not use it.
func (s *Service) AfterCommit(ctx context.Context, c *Cart, stored []store.Event) error {
	if err := aggregate.ApplyStored(c, stored); err != nil {
		return fmt.Errorf("cart %s: events stored but not applied: %w", c.ID, err)
	}
	c.Summary = Summarize(c.Items, s.policy)
	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, c, AggregateType); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("cart_id", c.ID), zap.Error(err))
	}
	return nil
}
