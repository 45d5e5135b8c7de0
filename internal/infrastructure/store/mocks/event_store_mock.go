package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/example/marketplace-orders/internal/infrastructure/store"
	"github.com/google/uuid"
)

// MockEventStore is a mock implementation of EventStoreInterface for testing
type MockEventStore struct {
	mu        sync.RWMutex
	events    map[string][]store.Event
	order     []store.Event
	snapshots map[string]*store.Snapshot

	// For tracking calls in tests
	AppendCalls []AppendCall
	BatchCalls  [][]store.PendingEvent
	AppendErr   error
	// AppendCallback runs before a batch is stored; a non-nil error aborts the batch.
	AppendCallback func(ctx context.Context, batch []store.PendingEvent) error
	SnapshotCalls  []*store.Snapshot
}

// AppendCall records one event passed to Append or AppendBatch
type AppendCall struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	Data            any
	ExpectedVersion int
}

// NewMockEventStore creates a new MockEventStore
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		events:      make(map[string][]store.Event),
		snapshots:   make(map[string]*store.Snapshot),
		AppendCalls: make([]AppendCall, 0),
	}
}

func (m *MockEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*store.Event, error) {
	stored, err := m.AppendBatch(ctx, []store.PendingEvent{{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: store.AnyVersion,
	}})
	if err != nil {
		return nil, err
	}
	return &stored[0], nil
}

// AppendBatch records the call, then stores the batch all-or-nothing with the
// same version checks as the real stores.
func (m *MockEventStore) AppendBatch(ctx context.Context, batch []store.PendingEvent) ([]store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BatchCalls = append(m.BatchCalls, batch)
	for _, pe := range batch {
		m.AppendCalls = append(m.AppendCalls, AppendCall{
			AggregateID:     pe.AggregateID,
			AggregateType:   pe.AggregateType,
			EventType:       pe.EventType,
			Data:            pe.Data,
			ExpectedVersion: pe.ExpectedVersion,
		})
	}

	if m.AppendCallback != nil {
		if err := m.AppendCallback(ctx, batch); err != nil {
			return nil, err
		}
	}
	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	running := make(map[string]int)
	stored := make([]store.Event, len(batch))
	for i, pe := range batch {
		v, ok := running[pe.AggregateID]
		if !ok {
			v = len(m.events[pe.AggregateID])
		}
		if pe.ExpectedVersion != store.AnyVersion && pe.ExpectedVersion != v {
			return nil, fmt.Errorf("%w: %s expected version %d, found %d",
				store.ErrConcurrencyConflict, pe.AggregateID, pe.ExpectedVersion, v)
		}
		running[pe.AggregateID] = v + 1

		jsonData, err := json.Marshal(pe.Data)
		if err != nil {
			return nil, err
		}
		stored[i] = store.Event{
			ID:            uuid.New().String(),
			AggregateID:   pe.AggregateID,
			AggregateType: pe.AggregateType,
			EventType:     pe.EventType,
			Data:          jsonData,
			Timestamp:     time.Now(),
			Version:       v + 1,
		}
	}

	for _, e := range stored {
		m.events[e.AggregateID] = append(m.events[e.AggregateID], e)
		m.order = append(m.order, e)
	}
	return stored, nil
}

// GetEvents returns events for an aggregate
func (m *MockEventStore) GetEvents(ctx context.Context, aggregateID string) ([]store.Event, error) {
	return m.GetEventsFromVersion(ctx, aggregateID, 0)
}

func (m *MockEventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []store.Event
	for _, e := range m.events[aggregateID] {
		if e.Version > fromVersion {
			events = append(events, e)
		}
	}
	return events, nil
}

// GetAllEvents returns all events in append order
func (m *MockEventStore) GetAllEvents(_ context.Context) ([]store.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]store.Event, len(m.order))
	copy(all, m.order)
	return all, nil
}

func (m *MockEventStore) SaveSnapshot(_ context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotCalls = append(m.SnapshotCalls, snapshot)
	m.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (m *MockEventStore) GetSnapshot(_ context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[aggregateID], nil
}

// EventsOfType returns the recorded calls with the given event type
func (m *MockEventStore) EventsOfType(eventType string) []AppendCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var calls []AppendCall
	for _, c := range m.AppendCalls {
		if c.EventType == eventType {
			calls = append(calls, c)
		}
	}
	return calls
}

// ResetCalls forgets recorded calls but keeps stored events, so tests can seed
// state through services and then assert on what a single operation appended.
func (m *MockEventStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls = make([]AppendCall, 0)
	m.BatchCalls = nil
	m.SnapshotCalls = nil
}

// Reset clears all events and recorded calls
func (m *MockEventStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]store.Event)
	m.order = nil
	m.snapshots = make(map[string]*store.Snapshot)
	m.AppendCalls = make([]AppendCall, 0)
	m.BatchCalls = nil
	m.SnapshotCalls = nil
	m.AppendErr = nil
	m.AppendCallback = nil
}

// AddEvent adds a single event for testing without recording a call
func (m *MockEventStore) AddEvent(aggregateID, aggregateType, eventType string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	event := store.Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Timestamp:     time.Now(),
		Version:       len(m.events[aggregateID]) + 1,
	}

	m.events[aggregateID] = append(m.events[aggregateID], event)
	m.order = append(m.order, event)
	return nil
}
