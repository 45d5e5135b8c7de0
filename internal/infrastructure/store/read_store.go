package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/marketplace-orders/internal/readmodel"
)

// ReadStore is an in-memory order read store
type ReadStore struct {
	mu     sync.RWMutex
	orders map[string]readmodel.OrderReadModel
}

func NewReadStore() *ReadStore {
	return &ReadStore{orders: make(map[string]readmodel.OrderReadModel)}
}

func (rs *ReadStore) SaveOrder(_ context.Context, o *readmodel.OrderReadModel) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if current, ok := rs.orders[o.ID]; ok && current.Version >= o.Version {
		return nil
	}
	rs.orders[o.ID] = *o
	return nil
}

func (rs *ReadStore) GetOrder(_ context.Context, id string) (*readmodel.OrderReadModel, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	o, ok := rs.orders[id]
	if !ok {
		return nil, ErrReadModelNotFound
	}
	return &o, nil
}

func (rs *ReadStore) ListOrdersByUser(_ context.Context, userID string, page Page) ([]readmodel.OrderReadModel, error) {
	return rs.list(page, func(o *readmodel.OrderReadModel) bool { return o.UserID == userID }), nil
}

func (rs *ReadStore) ListOrdersBySeller(_ context.Context, sellerID string, page Page) ([]readmodel.OrderReadModel, error) {
	return rs.list(page, func(o *readmodel.OrderReadModel) bool { return o.HasSeller(sellerID) }), nil
}

// list returns matching orders newest first
func (rs *ReadStore) list(page Page, match func(o *readmodel.OrderReadModel) bool) []readmodel.OrderReadModel {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var out []readmodel.OrderReadModel
	for _, o := range rs.orders {
		if match(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	page = page.Normalize()
	if page.Offset >= len(out) {
		return nil
	}
	return out[page.Offset:min(page.Offset+page.Limit, len(out))]
}
