package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/example/marketplace-orders/internal/readmodel"
	"go.uber.org/zap"
)

// Projector keeps the order history read model in step with order events.
// Events at or below the stored version are skipped, so redelivery is safe.
type Projector struct {
	readStore store.OrderReadStore
	logger    *zap.Logger
}

func NewProjector(readStore store.OrderReadStore, logger *zap.Logger) *Projector {
	return &Projector{readStore: readStore, logger: logger.Named("projector")}
}

// HandleEvent decodes a published event and projects it. Events of other
// aggregates are ignored.
func (p *Projector) HandleEvent(ctx context.Context, key, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	return p.Project(ctx, event)
}

// Publish projects committed events in-process, for deployments that run
// without a broker.
func (p *Projector) Publish(ctx context.Context, _ string, event any) error {
	e, ok := event.(store.Event)
	if !ok {
		return fmt.Errorf("projector cannot publish %T", event)
	}
	return p.Project(ctx, e)
}

func (p *Projector) Project(ctx context.Context, event store.Event) error {
	if event.AggregateType != order.AggregateType {
		return nil
	}

	p.logger.Debug("received event",
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.AggregateID),
		zap.Int("version", event.Version))

	if event.EventType == order.EventOrderPlaced {
		return p.handleOrderPlaced(ctx, event)
	}

	current, err := p.readStore.GetOrder(ctx, event.AggregateID)
	if errors.Is(err, store.ErrReadModelNotFound) {
		p.logger.Warn("order not projected yet",
			zap.String("order_id", event.AggregateID),
			zap.String("event_type", event.EventType))
		return nil
	}
	if err != nil {
		return err
	}
	if event.Version <= current.Version {
		return nil
	}

	if err := applyOrderEvent(current, event); err != nil {
		return err
	}
	current.Version = event.Version
	return p.readStore.SaveOrder(ctx, current)
}

func (p *Projector) handleOrderPlaced(ctx context.Context, event store.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}

	var items []readmodel.OrderItemReadModel
	var sellers []string
	seen := make(map[string]bool)
	for _, l := range e.Items {
		if !seen[l.Seller.ID] {
			seen[l.Seller.ID] = true
			sellers = append(sellers, l.Seller.ID)
		}
		for _, v := range l.Variants {
			items = append(items, readmodel.OrderItemReadModel{
				ProductID:       l.ProductID,
				ProductName:     l.ProductName,
				SellerID:        l.Seller.ID,
				VariantID:       v.VariantID,
				Attributes:      v.Attributes,
				Quantity:        v.Quantity,
				UnitPrice:       v.BasePrice,
				DiscountedTotal: v.DiscountedTotal,
			})
		}
	}

	return p.readStore.SaveOrder(ctx, &readmodel.OrderReadModel{
		ID:            event.AggregateID,
		UserID:        e.UserID,
		SellerIDs:     sellers,
		Items:         items,
		Summary:       e.Summary,
		Status:        string(order.StatusPending),
		PaymentMethod: string(e.PaymentMethod),
		PaymentStatus: string(payment.StatusPending),
		CartTotal:     e.Summary.CartTotal,
		CreatedAt:     e.PlacedAt,
		UpdatedAt:     e.PlacedAt,
		Version:       event.Version,
	})
}

func applyOrderEvent(o *readmodel.OrderReadModel, event store.Event) error {
	switch event.EventType {
	case order.EventOrderPaid:
		var e order.OrderPaid
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.PaymentStatus = string(payment.StatusCompleted)
		o.UpdatedAt = e.PaidAt

	case order.EventPaymentFailed:
		var e order.PaymentFailed
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.PaymentStatus = string(payment.StatusFailed)
		o.UpdatedAt = e.FailedAt

	case order.EventOrderProcessingStarted:
		var e order.OrderProcessingStarted
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.Status = string(order.StatusProcessing)
		o.UpdatedAt = e.StartedAt

	case order.EventOrderShipped:
		var e order.OrderShipped
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.Status = string(order.StatusShipped)
		o.TrackingNumber = e.TrackingNumber
		o.UpdatedAt = e.ShippedAt

	case order.EventOrderDelivered:
		var e order.OrderDelivered
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.Status = string(order.StatusDelivered)
		if o.PaymentMethod == string(payment.MethodCOD) {
			o.PaymentStatus = string(payment.StatusCompleted)
		}
		o.UpdatedAt = e.DeliveredAt

	case order.EventOrderCancelled:
		var e order.OrderCancelled
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.Status = string(order.StatusCancelled)
		o.CancelReason = e.Reason
		o.UpdatedAt = e.CancelledAt

	case order.EventOrderReturned:
		var e order.OrderReturned
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return err
		}
		o.Status = string(order.StatusReturned)
		o.ReturnReason = e.Reason
		o.UpdatedAt = e.ReturnedAt
	}
	return nil
}

// Rebuild replays every stored event into the read store
func (p *Projector) Rebuild(ctx context.Context, es store.EventStoreInterface) error {
	events, err := es.GetAllEvents(ctx)
	if err != nil {
		return err
	}
	projected := 0
	for _, event := range events {
		if err := p.Project(ctx, event); err != nil {
			return fmt.Errorf("failed to project event %s: %w", event.ID, err)
		}
		if event.AggregateType == order.AggregateType {
			projected++
		}
	}
	p.logger.Info("read model rebuilt", zap.Int("order_events", projected))
	return nil
}
