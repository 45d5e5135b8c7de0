package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/domain/aggregate"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"go.uber.org/zap"
)

const AggregateType = "Inventory"

var ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)

// Inventory is the stock ledger of a single variant. Reservations are held per
// order so a cancel or shipment settles exactly what the order took.
type Inventory struct {
	ID            string         `json:"id"`
	ProductID     string         `json:"product_id"`
	VariantID     string         `json:"variant_id"`
	TotalStock    int            `json:"total_stock"`
	ReservedStock int            `json:"reserved_stock"`
	Reservations  map[string]int `json:"reservations"`
	Version       int            `json:"version"`
}

// ID returns the aggregate id of a variant's ledger
func ID(productID, variantID string) string {
	return "inventory-" + productID + ":" + variantID
}

func newInventory(productID, variantID string) *Inventory {
	return &Inventory{
		ID:           ID(productID, variantID),
		ProductID:    productID,
		VariantID:    variantID,
		Reservations: make(map[string]int),
	}
}

func (i *Inventory) GetID() string   { return i.ID }
func (i *Inventory) GetVersion() int { return i.Version }

// AvailableStock is the live stock a buyer may still put in an order.
func (i *Inventory) AvailableStock() int {
	return i.TotalStock - i.ReservedStock
}

// ApplyEvent applies a single event to the inventory state
func (i *Inventory) ApplyEvent(event store.Event) error {
	if i.Reservations == nil {
		i.Reservations = make(map[string]int)
	}
	switch event.EventType {
	case EventStockAdded:
		var data StockAdded
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		i.ProductID = data.ProductID
		i.VariantID = data.VariantID
		i.TotalStock += data.Quantity
	case EventStockReserved:
		var data StockReserved
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		i.ReservedStock += data.Quantity
		i.Reservations[data.OrderID] += data.Quantity
	case EventStockReleased:
		var data StockReleased
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		i.ReservedStock = max(i.ReservedStock-data.Quantity, 0)
		delete(i.Reservations, data.OrderID)
	case EventStockDeducted:
		var data StockDeducted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		i.TotalStock = max(i.TotalStock-data.Quantity, 0)
		i.ReservedStock = max(i.ReservedStock-data.Quantity, 0)
		delete(i.Reservations, data.OrderID)
	}
	i.ID = event.AggregateID
	i.Version = event.Version
	return nil
}

func (i *Inventory) pending(eventType string, data any) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     i.ID,
		AggregateType:   AggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: i.Version,
	}
}

// Reserve builds the reservation for an order. It fails with a stock conflict
// carrying the available stock when the ledger cannot cover quantity.
func (i *Inventory) Reserve(orderID string, quantity int, now time.Time) (store.PendingEvent, error) {
	if quantity < 1 {
		return store.PendingEvent{}, ErrInvalidQuantity
	}
	if available := i.AvailableStock(); available < quantity {
		return store.PendingEvent{}, &apperr.StockConflictError{
			ProductID: i.ProductID,
			VariantID: i.VariantID,
			Requested: quantity,
			Available: max(available, 0),
		}
	}
	return i.pending(EventStockReserved, StockReserved{
		ProductID:  i.ProductID,
		VariantID:  i.VariantID,
		OrderID:    orderID,
		Quantity:   quantity,
		ReservedAt: now,
	}), nil
}

// Release returns an order's reservation to available stock. ok is false when
// the order holds nothing on this ledger.
func (i *Inventory) Release(orderID string, now time.Time) (store.PendingEvent, bool) {
	qty, ok := i.Reservations[orderID]
	if !ok || qty == 0 {
		return store.PendingEvent{}, false
	}
	return i.pending(EventStockReleased, StockReleased{
		ProductID:  i.ProductID,
		VariantID:  i.VariantID,
		OrderID:    orderID,
		Quantity:   qty,
		ReleasedAt: now,
	}), true
}

// Deduct turns an order's reservation into a permanent stock reduction.
func (i *Inventory) Deduct(orderID string, now time.Time) (store.PendingEvent, bool) {
	qty, ok := i.Reservations[orderID]
	if !ok || qty == 0 {
		return store.PendingEvent{}, false
	}
	return i.pending(EventStockDeducted, StockDeducted{
		ProductID:  i.ProductID,
		VariantID:  i.VariantID,
		OrderID:    orderID,
		Quantity:   qty,
		DeductedAt: now,
	}), true
}

type Service struct {
	eventStore store.EventStoreInterface
	logger     *zap.Logger
}

func NewService(es store.EventStoreInterface, logger *zap.Logger) *Service {
	return &Service{eventStore: es, logger: logger.Named("inventory")}
}

// Load returns the variant's ledger; a variant never stocked has an empty one.
func (s *Service) Load(ctx context.Context, productID, variantID string) (*Inventory, error) {
	inv, _, err := aggregate.LoadAggregate(ctx, s.eventStore, ID(productID, variantID), func() *Inventory {
		return newInventory(productID, variantID)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// AvailableStock re-reads the ledger and returns what can still be ordered.
func (s *Service) AvailableStock(ctx context.Context, productID, variantID string) (int, error) {
	inv, err := s.Load(ctx, productID, variantID)
	if err != nil {
		return 0, err
	}
	return max(inv.AvailableStock(), 0), nil
}

func (s *Service) AddStock(ctx context.Context, productID, variantID string, quantity int) (*Inventory, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	inv, err := s.Load(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	event := inv.pending(EventStockAdded, StockAdded{
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		AddedAt:   time.Now(),
	})
	if err := s.Commit(ctx, []*Inventory{inv}, []store.PendingEvent{event}); err != nil {
		return nil, err
	}

	s.logger.Info("stock added",
		zap.String("product_id", productID),
		zap.String("variant_id", variantID),
		zap.Int("quantity", quantity),
		zap.Int("available", inv.AvailableStock()))
	return inv, nil
}

// Commit appends a batch of inventory events and folds them into the given ledgers.
func (s *Service) Commit(ctx context.Context, ledgers []*Inventory, batch []store.PendingEvent) error {
	stored, err := s.eventStore.AppendBatch(ctx, batch)
	if err != nil {
		return err
	}
	return s.AfterCommit(ctx, ledgers, stored)
}

// AfterCommit applies stored events to in-memory ledgers and snapshots them.
// Used by flows that commit inventory events inside a larger batch.
func (s *Service) AfterCommit(ctx context.Context, ledgers []*Inventory, stored []store.Event) error {
	for _, inv := range ledgers {
		if err := aggregate.ApplyStored(inv, stored); err != nil {
			return fmt.Errorf("inventory %s: events stored but not applied: %w", inv.ID, err)
		}
		if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, inv, AggregateType); err != nil {
			s.logger.Warn("failed to create snapshot", zap.String("inventory_id", inv.ID), zap.Error(err))
		}
	}
	return nil
}
