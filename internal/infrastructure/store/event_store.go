package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
}

// EventStore keeps events in memory and publishes them once stored.
// Used for local runs and tests.
type EventStore struct {
	mu        sync.RWMutex
	events    map[string][]Event // aggregateID -> events
	order     []Event
	snapshots map[string]*Snapshot
	publisher Publisher
	logger    *zap.Logger
}

func NewEventStore(publisher Publisher, logger *zap.Logger) *EventStore {
	return &EventStore{
		events:    make(map[string][]Event),
		snapshots: make(map[string]*Snapshot),
		publisher: publisher,
		logger:    logger.Named("event-store"),
	}
}

// Append stores a single event without a version check
func (es *EventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	stored, err := es.AppendBatch(ctx, []PendingEvent{{
		AggregateID:     aggregateID,
		AggregateType:   aggregateType,
		EventType:       eventType,
		Data:            data,
		ExpectedVersion: AnyVersion,
	}})
	if err != nil {
		return nil, err
	}
	return &stored[0], nil
}

// AppendBatch validates all expected versions under one lock, then stores the batch.
func (es *EventStore) AppendBatch(ctx context.Context, batch []PendingEvent) ([]Event, error) {
	payloads := make([][]byte, len(batch))
	for i, pe := range batch {
		data, err := json.Marshal(pe.Data)
		if err != nil {
			return nil, err
		}
		payloads[i] = data
	}

	es.mu.Lock()
	versions, err := checkBatchVersions(batch, func(id string) (int, error) {
		return len(es.events[id]), nil
	})
	if err != nil {
		es.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	stored := make([]Event, len(batch))
	for i, pe := range batch {
		event := Event{
			ID:            uuid.New().String(),
			AggregateID:   pe.AggregateID,
			AggregateType: pe.AggregateType,
			EventType:     pe.EventType,
			Data:          payloads[i],
			Timestamp:     now,
			Version:       versions[i],
		}
		es.events[pe.AggregateID] = append(es.events[pe.AggregateID], event)
		es.order = append(es.order, event)
		stored[i] = event
	}
	es.mu.Unlock()

	publishAll(ctx, es.publisher, es.logger, stored)
	return stored, nil
}

// GetEvents returns all events for an aggregate
func (es *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.GetEventsFromVersion(ctx, aggregateID, 0)
}

// GetEventsFromVersion returns events with a version greater than fromVersion
func (es *EventStore) GetEventsFromVersion(_ context.Context, aggregateID string, fromVersion int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var events []Event
	for _, e := range es.events[aggregateID] {
		if e.Version > fromVersion {
			events = append(events, e)
		}
	}
	return events, nil
}

// GetAllEvents returns all events in append order
func (es *EventStore) GetAllEvents(_ context.Context) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	all := make([]Event, len(es.order))
	copy(all, es.order)
	return all, nil
}

func (es *EventStore) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (es *EventStore) GetSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.snapshots[aggregateID], nil
}

// publishAll forwards committed events. The events are already durable, so a
// failed publish is logged and the projector catches up on replay.
func publishAll(ctx context.Context, publisher Publisher, logger *zap.Logger, events []Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(ctx, event.AggregateID, event); err != nil {
			logger.Error("failed to publish event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}
}
