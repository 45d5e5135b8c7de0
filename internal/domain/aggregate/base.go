package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	ApplyEvent(store.Event) error
}

// LoadAggregate rebuilds an aggregate from its latest snapshot plus the events after it.
// The boolean reports whether anything was stored for id.
func LoadAggregate[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	snapshot, err := eventStore.GetSnapshot(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get snapshot: %w", err)
	}

	fromVersion := 0
	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			return zero, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		fromVersion = snapshot.Version
	}

	events, err := eventStore.GetEventsFromVersion(ctx, id, fromVersion)
	if err != nil {
		return zero, false, fmt.Errorf("failed to load events: %w", err)
	}

	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply %s: %w", event.EventType, err)
		}
	}

	return agg, snapshot != nil || len(events) > 0, nil
}

// ApplyStored applies freshly appended events to the in-memory aggregate so the
// caller does not have to reload it.
func ApplyStored(agg Aggregate, events []store.Event) error {
	for _, event := range events {
		if event.AggregateID != agg.GetID() {
			continue
		}
		if err := agg.ApplyEvent(event); err != nil {
			return fmt.Errorf("failed to apply %s: %w", event.EventType, err)
		}
	}
	return nil
}

// MaybeCreateSnapshot saves a snapshot when the aggregate version lands on the threshold
func MaybeCreateSnapshot(
	ctx context.Context,
	eventStore store.EventStoreInterface,
	agg Aggregate,
	aggregateType string,
) error {
	if !store.ShouldSnapshot(agg.GetVersion()) {
		return nil
	}

	snapshot, err := store.NewSnapshot(agg.GetID(), aggregateType, agg.GetVersion(), agg)
	if err != nil {
		return err
	}
	if err := eventStore.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
