package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/marketplace-orders/internal/address"
	"github.com/example/marketplace-orders/internal/apperr"
	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/cart"
	"github.com/example/marketplace-orders/internal/domain/inventory"
	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/payment"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrCartChanged = fmt.Errorf("%w: cart changed since it was reviewed", apperr.ErrStateConflict)

type CreateOrderRequest struct {
	UserID        string
	AddressID     string
	PaymentMethod payment.Method
	// ExpectedCartVersion, when set, must match the cart version the buyer reviewed
	ExpectedCartVersion *int
}

// Preview is what the buyer sees before placing an order
type Preview struct {
	Cart        *cart.Cart  `json:"cart"`
	Eligibility Eligibility `json:"eligibility"`
}

// Materializer turns a cart into an order. The order, its stock reservations
// and the cart clear are appended as one batch, so either all of them are
// stored or none.
type Materializer struct {
	eventStore store.EventStoreInterface
	carts      *cart.Service
	orders     *order.Service
	inventory  *inventory.Service
	catalog    catalog.Catalog
	addresses  address.Book
	gateway    payment.Gateway
	logger     *zap.Logger
}

func NewMaterializer(
	es store.EventStoreInterface,
	carts *cart.Service,
	orders *order.Service,
	inv *inventory.Service,
	cat catalog.Catalog,
	addresses address.Book,
	gateway payment.Gateway,
	logger *zap.Logger,
) *Materializer {
	return &Materializer{
		eventStore: es,
		carts:      carts,
		orders:     orders,
		inventory:  inv,
		catalog:    cat,
		addresses:  addresses,
		gateway:    gateway,
		logger:     logger.Named("checkout"),
	}
}

// Eligibility evaluates the user's cart against the live catalog
func (m *Materializer) Eligibility(ctx context.Context, userID string) (*Preview, error) {
	c, err := m.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	live, err := catalog.LoadSnapshot(ctx, m.catalog, c.Keys())
	if err != nil {
		return nil, err
	}
	return &Preview{Cart: c, Eligibility: Evaluate(c, live)}, nil
}

func (m *Materializer) CreateOrder(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	method, err := payment.ParseMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}

	preview, err := m.Eligibility(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	c := preview.Cart
	if req.ExpectedCartVersion != nil && *req.ExpectedCartVersion != c.Version {
		return nil, fmt.Errorf("%w: reviewed version %d, current version %d", ErrCartChanged, *req.ExpectedCartVersion, c.Version)
	}
	if !preview.Eligibility.Eligible {
		m.logger.Info("checkout rejected",
			zap.String("cart_id", c.ID),
			zap.Any("reasons", preview.Eligibility.Reasons()))
		return nil, &IneligibleError{Eligibility: preview.Eligibility}
	}

	addr, err := m.addresses.GetAddress(ctx, req.AddressID, req.UserID)
	if err != nil {
		return nil, err
	}

	// the summary is always recomputed from line data
	items := cart.CloneLines(c.Items)
	for i := range items {
		items[i].Recompute()
	}
	summary := cart.Summarize(items, m.carts.Policy())

	now := m.orders.Now()
	orderID := uuid.New().String()
	placed, err := order.NewPlacedEvent(order.PlaceParams{
		OrderID:         orderID,
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: *addr,
		PaymentMethod:   method,
		Summary:         summary,
		PlacedAt:        now,
	})
	if err != nil {
		return nil, err
	}

	batch := []store.PendingEvent{placed}
	var ledgers []*inventory.Inventory
	for _, l := range items {
		for _, v := range l.Variants {
			inv, err := m.inventory.Load(ctx, l.ProductID, v.VariantID)
			if err != nil {
				return nil, err
			}
			reserve, err := inv.Reserve(orderID, v.Quantity, now)
			if err != nil {
				return nil, err
			}
			ledgers = append(ledgers, inv)
			batch = append(batch, reserve)
		}
	}
	batch = append(batch, cart.ClearedEvent(c, orderID, now))

	stored, err := m.eventStore.AppendBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	o := &order.Order{ID: orderID}
	if err := m.orders.AfterCommit(ctx, o, stored); err != nil {
		return nil, err
	}
	if err := m.inventory.AfterCommit(ctx, ledgers, stored); err != nil {
		return nil, err
	}
	if err := m.carts.AfterCommit(ctx, c, stored); err != nil {
		return nil, err
	}

	m.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", req.UserID),
		zap.String("payment_method", string(method)),
		zap.String("total", summary.CartTotal.String()))

	if method == payment.MethodOnline {
		return m.charge(ctx, o)
	}
	return o, nil
}

// Pay retries the online charge of a pending order the user owns
func (m *Materializer) Pay(ctx context.Context, orderID, userID string) (*order.Order, error) {
	o, err := m.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := o.CheckPaymentOpen(); err != nil {
		return nil, err
	}
	return m.charge(ctx, o)
}

// maxRecordAttempts bounds how often a captured charge is re-recorded
// against a reloaded order after a version conflict.
const maxRecordAttempts = 3

// UnrecordedChargeError reports money captured by the gateway that the order
// stream does not show. The transaction needs a refund or a manual record.
type UnrecordedChargeError struct {
	OrderID       string
	TransactionID string
	Err           error
}

func (e *UnrecordedChargeError) Error() string {
	return fmt.Sprintf("order %s: charge %s captured but not recorded: %v", e.OrderID, e.TransactionID, e.Err)
}

func (e *UnrecordedChargeError) Unwrap() error { return e.Err }

// charge asks the gateway for the order total and records the outcome. A
// declined or failed charge leaves the order pending with payment FAILED.
// The order ID is the idempotency key, so a retried charge never captures
// twice.
func (m *Materializer) charge(ctx context.Context, o *order.Order) (*order.Order, error) {
	res, err := m.gateway.Charge(ctx, payment.ChargeRequest{
		OrderID:        o.ID,
		IdempotencyKey: o.ID,
		Amount:         o.Summary.CartTotal,
		Method:         o.Payment.Method,
	})
	if err == nil && res.Completed() {
		return m.recordCharge(ctx, o, res.TransactionID)
	}

	reason := ""
	if err != nil {
		m.logger.Warn("payment gateway error", zap.String("order_id", o.ID), zap.Error(err))
		reason = err.Error()
	} else {
		reason = res.Reason
	}
	pe, err := o.RecordPaymentFailure(reason, m.orders.Now())
	if err != nil {
		m.logger.Error("failed to build payment event", zap.String("order_id", o.ID), zap.Error(err))
		return o, nil
	}
	// no money moved, so a lost failure record only costs the buyer a retry
	if err := m.orders.Commit(ctx, o, []store.PendingEvent{pe}); err != nil {
		m.logger.Error("failed to record payment outcome",
			zap.String("order_id", o.ID),
			zap.String("event", pe.EventType),
			zap.Error(err))
	}
	return o, nil
}

// recordCharge appends OrderPaid for a captured transaction. On a version
// conflict it reloads the order and tries again.
func (m *Materializer) recordCharge(ctx context.Context, o *order.Order, transactionID string) (*order.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := m.orders.Get(ctx, o.ID)
			if err != nil {
				lastErr = err
				break
			}
			o = fresh
			if o.Payment.Status == payment.StatusCompleted && o.Payment.TransactionID == transactionID {
				return o, nil
			}
		}

		pe, err := o.RecordPayment(transactionID, m.orders.Now())
		if err != nil {
			lastErr = err
			break
		}
		err = m.orders.Commit(ctx, o, []store.PendingEvent{pe})
		if err == nil {
			return o, nil
		}
		lastErr = err
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			break
		}
		m.logger.Warn("payment record conflicted, reloading order",
			zap.String("order_id", o.ID),
			zap.Int("attempt", attempt+1))
	}

	m.logger.Error("charge captured but not recorded",
		zap.String("order_id", o.ID),
		zap.String("transaction_id", transactionID),
		zap.Error(lastErr))
	return nil, &UnrecordedChargeError{OrderID: o.ID, TransactionID: transactionID, Err: lastErr}
}
