package order

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/aggregate"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/pricing"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const AggregateType = "Order"

// DefaultReturnWindow is how long after delivery a return is accepted
const DefaultReturnWindow = 7 * 24 * time.Hour

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
)

var (
	ErrOrderNotFound        = fmt.Errorf("%w: order not found", apperr.ErrNotFound)
	ErrEmptyOrder           = fmt.Errorf("%w: order must have at least one item", apperr.ErrValidation)
	ErrReturnReasonRequired = fmt.Errorf("%w: a return reason is required", apperr.ErrValidation)
	ErrMissingTransaction   = fmt.Errorf("%w: a completed payment needs a transaction id", apperr.ErrValidation)
	ErrInvalidTransition    = fmt.Errorf("%w: invalid order status transition", apperr.ErrStateConflict)
	ErrOrderCancelled       = fmt.Errorf("%w: order is already cancelled", apperr.ErrStateConflict)
	ErrOrderReturned        = fmt.Errorf("%w: order is already returned", apperr.ErrStateConflict)
	ErrCannotCancel         = fmt.Errorf("%w: order has shipped and can no longer be cancelled", apperr.ErrStateConflict)
	ErrNotDelivered         = fmt.Errorf("%w: only delivered orders can be returned", apperr.ErrStateConflict)
	ErrReturnWindowClosed   = fmt.Errorf("%w: return window has closed", apperr.ErrStateConflict)
	ErrPaymentRequired      = fmt.Errorf("%w: online payment must complete before processing", apperr.ErrStateConflict)
	ErrAlreadyPaid          = fmt.Errorf("%w: order is already paid", apperr.ErrStateConflict)
	ErrNotOnlinePayment     = fmt.Errorf("%w: order is not paid online", apperr.ErrStateConflict)
	ErrNotFulfiller         = fmt.Errorf("%w: seller does not sell every item in the order", apperr.ErrForbidden)
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusReturned},
	StatusCancelled:  {}, // terminal state
	StatusReturned:   {}, // terminal state
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	return slices.Contains(validTransitions[o.Status], target)
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status == StatusReturned:
		return ErrOrderReturned
	case target == StatusCancelled:
		return ErrCannotCancel
	case target == StatusReturned:
		return ErrNotDelivered
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, target)
	}
}

type Payment struct {
	Method        payment.Method  `json:"method"`
	Status        payment.Status  `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

// Order is a priced snapshot of a cart. Items and Summary never change after
// placement; only status and payment move.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Items           []cart.Line     `json:"items"`
	ShippingAddress address.Address `json:"shipping_address"`
	Payment         Payment         `json:"payment"`
	Summary         pricing.Summary `json:"summary"`
	Status          Status          `json:"status"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	ProcessingAt    *time.Time      `json:"processing_at,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	ReturnedAt      *time.Time      `json:"returned_at,omitempty"`
	ReturnReason    string          `json:"return_reason,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
}

// Aggregate interface implementation
func (o *Order) GetID() string   { return o.ID }
func (o *Order) GetVersion() int { return o.Version }

// Keys lists every ordered variant
func (o *Order) Keys() []catalog.Key {
	var keys []catalog.Key
	for _, l := range o.Items {
		for _, v := range l.Variants {
			keys = append(keys, catalog.Key{ProductID: l.ProductID, VariantID: v.VariantID})
		}
	}
	return keys
}

// CanFulfill reports whether sellerID sells every line of the order
func (o *Order) CanFulfill(sellerID string) bool {
	for _, l := range o.Items {
		if l.Seller.ID != sellerID {
			return false
		}
	}
	return len(o.Items) > 0
}

// ApplyEvent applies a single event to the order state (implements aggregate.Aggregate)
func (o *Order) ApplyEvent(event store.Event) error {
	switch event.EventType {
	case EventOrderPlaced:
		var data OrderPlaced
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.UserID = data.UserID
		o.Items = data.Items
		o.ShippingAddress = data.ShippingAddress
		o.Payment = Payment{Method: data.PaymentMethod, Status: payment.StatusPending, Amount: data.Summary.CartTotal}
		o.Summary = data.Summary
		o.Status = StatusPending
		o.CreatedAt = data.PlacedAt
		o.UpdatedAt = data.PlacedAt
	case EventOrderPaid:
		var data OrderPaid
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Payment.Status = payment.StatusCompleted
		o.Payment.TransactionID = data.TransactionID
		o.Payment.FailureReason = ""
		o.PaidAt = &data.PaidAt
		o.UpdatedAt = data.PaidAt
	case EventPaymentFailed:
		var data PaymentFailed
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Payment.Status = payment.StatusFailed
		o.Payment.FailureReason = data.Reason
		o.UpdatedAt = data.FailedAt
	case EventOrderProcessingStarted:
		var data OrderProcessingStarted
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusProcessing
		o.ProcessingAt = &data.StartedAt
		o.UpdatedAt = data.StartedAt
	case EventOrderShipped:
		var data OrderShipped
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusShipped
		o.TrackingNumber = data.TrackingNumber
		o.ShippedAt = &data.ShippedAt
		o.UpdatedAt = data.ShippedAt
	case EventOrderDelivered:
		var data OrderDelivered
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusDelivered
		o.DeliveredAt = &data.DeliveredAt
		o.UpdatedAt = data.DeliveredAt
		// cash is collected on delivery
		if o.Payment.Method == payment.MethodCOD {
			o.Payment.Status = payment.StatusCompleted
			o.PaidAt = &data.DeliveredAt
		}
	case EventOrderCancelled:
		var data OrderCancelled
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.CancelReason = data.Reason
		o.CancelledAt = &data.CancelledAt
		o.UpdatedAt = data.CancelledAt
	case EventOrderReturned:
		var data OrderReturned
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return err
		}
		o.Status = StatusReturned
		o.ReturnReason = data.Reason
		o.ReturnedAt = &data.ReturnedAt
		o.UpdatedAt = data.ReturnedAt
	}
	o.ID = event.AggregateID
	o.Version = event.Version
	return nil
}

func (o *Order) pending(eventType string, data any) store.PendingEvent {
	return store.PendingEvent{
		AggregateID:     o.ID,
		AggregateType:   AggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: o.Version,
	}
}

type PlaceParams struct {
	OrderID         string
	UserID          string
	Items           []cart.Line
	ShippingAddress address.Address
	PaymentMethod   payment.Method
	Summary         pricing.Summary
	PlacedAt        time.Time
}

// NewPlacedEvent builds the OrderPlaced event of a new order. The items are
// deep-copied so later cart edits cannot reach the order.
func NewPlacedEvent(p PlaceParams) (store.PendingEvent, error) {
	if len(p.Items) == 0 {
		return store.PendingEvent{}, ErrEmptyOrder
	}
	if _, err := payment.ParseMethod(string(p.PaymentMethod)); err != nil {
		return store.PendingEvent{}, err
	}
	if p.OrderID == "" {
		p.OrderID = uuid.New().String()
	}

	return store.PendingEvent{
		AggregateID:   p.OrderID,
		AggregateType: AggregateType,
		EventType:     EventOrderPlaced,
		Data: OrderPlaced{
			OrderID:         p.OrderID,
			UserID:          p.UserID,
			Items:           cart.CloneLines(p.Items),
			ShippingAddress: p.ShippingAddress,
			PaymentMethod:   p.PaymentMethod,
			Summary:         p.Summary,
			PlacedAt:        p.PlacedAt,
		},
		ExpectedVersion: 0,
	}, nil
}

// RecordPayment marks an online payment completed
func (o *Order) RecordPayment(transactionID string, now time.Time) (store.PendingEvent, error) {
	if err := o.CheckPaymentOpen(); err != nil {
		return store.PendingEvent{}, err
	}
	if transactionID == "" {
		return store.PendingEvent{}, ErrMissingTransaction
	}
	return o.pending(EventOrderPaid, OrderPaid{
		OrderID:       o.ID,
		TransactionID: transactionID,
		Amount:        o.Summary.CartTotal,
		PaidAt:        now,
	}), nil
}

// RecordPaymentFailure marks a charge attempt failed; the order stays pending.
func (o *Order) RecordPaymentFailure(reason string, now time.Time) (store.PendingEvent, error) {
	if err := o.CheckPaymentOpen(); err != nil {
		return store.PendingEvent{}, err
	}
	return o.pending(EventPaymentFailed, PaymentFailed{
		OrderID:  o.ID,
		Reason:   reason,
		FailedAt: now,
	}), nil
}

// CheckPaymentOpen returns why an online payment can not be recorded, or nil
func (o *Order) CheckPaymentOpen() error {
	switch {
	case o.Payment.Method != payment.MethodOnline:
		return ErrNotOnlinePayment
	case o.Payment.Status == payment.StatusCompleted:
		return ErrAlreadyPaid
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status != StatusPending:
		return fmt.Errorf("%w: cannot record payment on a %s order", ErrInvalidTransition, o.Status)
	}
	return nil
}

// NeedsCharge reports whether an online charge is still outstanding
func (o *Order) NeedsCharge() bool {
	return o.CheckPaymentOpen() == nil
}

func (o *Order) StartProcessing(actorID string, now time.Time) (store.PendingEvent, error) {
	if !o.CanTransitionTo(StatusProcessing) {
		return store.PendingEvent{}, o.transitionError(StatusProcessing)
	}
	if o.Payment.Method == payment.MethodOnline && o.Payment.Status != payment.StatusCompleted {
		return store.PendingEvent{}, ErrPaymentRequired
	}
	return o.pending(EventOrderProcessingStarted, OrderProcessingStarted{
		OrderID:   o.ID,
		StartedBy: actorID,
		StartedAt: now,
	}), nil
}

func (o *Order) Ship(trackingNumber string, now time.Time) (store.PendingEvent, error) {
	if !o.CanTransitionTo(StatusShipped) {
		return store.PendingEvent{}, o.transitionError(StatusShipped)
	}
	return o.pending(EventOrderShipped, OrderShipped{
		OrderID:        o.ID,
		TrackingNumber: strings.TrimSpace(trackingNumber),
		ShippedAt:      now,
	}), nil
}

func (o *Order) Deliver(now time.Time) (store.PendingEvent, error) {
	if !o.CanTransitionTo(StatusDelivered) {
		return store.PendingEvent{}, o.transitionError(StatusDelivered)
	}
	return o.pending(EventOrderDelivered, OrderDelivered{
		OrderID:     o.ID,
		DeliveredAt: now,
	}), nil
}

// Cancel is allowed while the order is pending or processing. The reason is optional.
func (o *Order) Cancel(reason, actorID string, now time.Time) (store.PendingEvent, error) {
	if !o.CanTransitionTo(StatusCancelled) {
		return store.PendingEvent{}, o.transitionError(StatusCancelled)
	}
	return o.pending(EventOrderCancelled, OrderCancelled{
		OrderID:     o.ID,
		Reason:      strings.TrimSpace(reason),
		CancelledBy: actorID,
		CancelledAt: now,
	}), nil
}

// Return is allowed on a delivered order within window of its delivery
func (o *Order) Return(reason string, now time.Time, window time.Duration) (store.PendingEvent, error) {
	if !o.CanTransitionTo(StatusReturned) {
		return store.PendingEvent{}, o.transitionError(StatusReturned)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return store.PendingEvent{}, ErrReturnReasonRequired
	}
	if window > 0 && o.DeliveredAt != nil && now.Sub(*o.DeliveredAt) > window {
		return store.PendingEvent{}, ErrReturnWindowClosed
	}
	return o.pending(EventOrderReturned, OrderReturned{
		OrderID:    o.ID,
		Reason:     reason,
		ReturnedAt: now,
	}), nil
}

type Service struct {
	eventStore   store.EventStoreInterface
	returnWindow time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewService(es store.EventStoreInterface, returnWindow time.Duration, logger *zap.Logger) *Service {
	return &Service{
		eventStore:   es,
		returnWindow: returnWindow,
		now:          time.Now,
		logger:       logger.Named("order"),
	}
}

// Now is the clock every order timestamp is taken from
func (s *Service) Now() time.Time { return s.now().UTC() }

// Get loads an order by replaying events, using snapshot if available
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, found, err := aggregate.LoadAggregate(ctx, s.eventStore, orderID, func() *Order {
		return &Order{}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// GetForUser loads an order the user placed; other users' orders are not found.
func (s *Service) GetForUser(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) RecordPayment(ctx context.Context, orderID, transactionID string) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order, now time.Time) (store.PendingEvent, error) {
		return o.RecordPayment(transactionID, now)
	})
}

func (s *Service) RecordPaymentFailure(ctx context.Context, orderID, reason string) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order, now time.Time) (store.PendingEvent, error) {
		return o.RecordPaymentFailure(reason, now)
	})
}

func (s *Service) StartProcessing(ctx context.Context, orderID, actorID string) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order, now time.Time) (store.PendingEvent, error) {
		return o.StartProcessing(actorID, now)
	})
}

func (s *Service) Deliver(ctx context.Context, orderID string) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order, now time.Time) (store.PendingEvent, error) {
		return o.Deliver(now)
	})
}

// Return moves a delivered order of userID to RETURNED. Returned goods are
// not restocked.
func (s *Service) Return(ctx context.Context, orderID, userID, reason string) (*Order, error) {
	o, err := s.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	pe, err := o.Return(reason, s.Now(), s.returnWindow)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, o, []store.PendingEvent{pe}); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) transition(ctx context.Context, orderID string, build func(o *Order, now time.Time) (store.PendingEvent, error)) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	pe, err := build(o, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, o, []store.PendingEvent{pe}); err != nil {
		return nil, err
	}
	return o, nil
}

// Commit appends batch atomically and folds the order's events into o. The
// batch may carry events of other aggregates.
func (s *Service) Commit(ctx context.Context, o *Order, batch []store.PendingEvent) error {
	stored, err := s.eventStore.AppendBatch(ctx, batch)
	if err != nil {
		return err
	}
	return s.AfterCommit(ctx, o, stored)
}

// AfterCommit applies stored events to o and snapshots it when due
func (s *Service) AfterCommit(ctx context.Context, o *Order, stored []store.Event) error {
	if o.ID == "" {
		for _, e := range stored {
			if e.AggregateType == AggregateType {
				o.ID = e.AggregateID
				break
			}
		}
	}
	if err := aggregate.ApplyStored(o, stored); err != nil {
		return fmt.Errorf("order %s: events stored but not applied: %w", o.ID, err)
	}
	if err := aggregate.MaybeCreateSnapshot(ctx, s.eventStore, o, AggregateType); err != nil {
		s.logger.Warn("failed to create snapshot", zap.String("order_id", o.ID), zap.Error(err))
	}
	s.logger.Info("order updated",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("payment_status", string(o.Payment.Status)),
		zap.Int("version", o.Version))
	return nil
}
