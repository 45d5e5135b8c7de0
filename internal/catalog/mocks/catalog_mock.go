package mocks

import (
	"context"
	"sync"

	"github.com/example/marketplace-orders/internal/catalog"
	"github.com/example/marketplace-orders/internal/domain/product"
)

// MockCatalog serves variants from memory for testing
type MockCatalog struct {
	mu       sync.RWMutex
	variants map[catalog.Key]catalog.VariantInfo

	GetCalls []catalog.Key
	GetErr   error
}

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{variants: make(map[catalog.Key]catalog.VariantInfo)}
}

// Put stores or replaces a variant
func (m *MockCatalog) Put(info catalog.VariantInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[catalog.Key{ProductID: info.ProductID, VariantID: info.VariantID}] = info
}

// Update changes a stored variant in place
func (m *MockCatalog) Update(productID, variantID string, fn func(info *catalog.VariantInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := catalog.Key{ProductID: productID, VariantID: variantID}
	info, ok := m.variants[key]
	if !ok {
		return
	}
	fn(&info)
	m.variants[key] = info
}

func (m *MockCatalog) Delete(productID, variantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.variants, catalog.Key{ProductID: productID, VariantID: variantID})
}

func (m *MockCatalog) GetVariant(_ context.Context, productID, variantID string) (*catalog.VariantInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := catalog.Key{ProductID: productID, VariantID: variantID}
	m.GetCalls = append(m.GetCalls, key)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	info, ok := m.variants[key]
	if !ok {
		return nil, product.ErrVariantNotFound
	}
	info.BulkDiscount = append(info.BulkDiscount[:0:0], info.BulkDiscount...)
	return &info, nil
}
