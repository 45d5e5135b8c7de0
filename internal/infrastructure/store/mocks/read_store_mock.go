package mocks

import (
	"context"
	"sync"

	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/example/marketplace-orders/internal/readmodel"
)

// MockReadStore is a mock implementation of OrderReadStore for testing
type MockReadStore struct {
	mu    sync.Mutex
	inner *store.ReadStore

	// For tracking calls in tests
	SaveCalls []readmodel.OrderReadModel
	GetCalls  []string
	ListCalls []ListCall
	SaveErr   error
	GetErr    error
}

// ListCall records parameters passed to a List method
type ListCall struct {
	UserID   string
	SellerID string
	Page     store.Page
}

// NewMockReadStore creates a new MockReadStore
func NewMockReadStore() *MockReadStore {
	return &MockReadStore{inner: store.NewReadStore()}
}

func (m *MockReadStore) SaveOrder(ctx context.Context, o *readmodel.OrderReadModel) error {
	m.mu.Lock()
	m.SaveCalls = append(m.SaveCalls, *o)
	err := m.SaveErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.inner.SaveOrder(ctx, o)
}

func (m *MockReadStore) GetOrder(ctx context.Context, id string) (*readmodel.OrderReadModel, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, id)
	err := m.GetErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.GetOrder(ctx, id)
}

func (m *MockReadStore) ListOrdersByUser(ctx context.Context, userID string, page store.Page) ([]readmodel.OrderReadModel, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, ListCall{UserID: userID, Page: page})
	m.mu.Unlock()
	return m.inner.ListOrdersByUser(ctx, userID, page)
}

func (m *MockReadStore) ListOrdersBySeller(ctx context.Context, sellerID string, page store.Page) ([]readmodel.OrderReadModel, error) {
	m.mu.Lock()
	m.ListCalls = append(m.ListCalls, ListCall{SellerID: sellerID, Page: page})
	m.mu.Unlock()
	return m.inner.ListOrdersBySeller(ctx, sellerID, page)
}

// Seed stores a read model without recording a call
func (m *MockReadStore) Seed(o readmodel.OrderReadModel) {
	_ = m.inner.SaveOrder(context.Background(), &o)
}
