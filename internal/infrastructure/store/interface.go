package store

import (
	"context"
	"fmt"

	"github.com/example/marketplace-orders/internal/apperr"
)

// AnyVersion disables the optimistic version check for a pending event.
const AnyVersion = -1

// ErrConcurrencyConflict is returned when an aggregate moved past the version a
// writer loaded. Nothing from the batch is persisted.
var ErrConcurrencyConflict = fmt.Errorf("%w: aggregate was modified concurrently", apperr.ErrStateConflict)

// PendingEvent is an event waiting to be appended as part of a batch.
// ExpectedVersion is the aggregate version the writer based its decision on;
// 0 means the aggregate must not exist yet.
type PendingEvent struct {
	AggregateID     string
	AggregateType   string
	EventType       string
	Data            any
	ExpectedVersion int
}

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	// AppendBatch persists every event or none of them.
	AppendBatch(ctx context.Context, batch []PendingEvent) ([]Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetEventsFromVersion(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// Publisher receives committed events, typically a Kafka producer.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// checkBatchVersions walks the batch in order and validates every expected
// version against the running version of its aggregate.
func checkBatchVersions(batch []PendingEvent, current func(aggregateID string) (int, error)) ([]int, error) {
	running := make(map[string]int)
	versions := make([]int, len(batch))
	for i, pe := range batch {
		v, seen := running[pe.AggregateID]
		if !seen {
			cur, err := current(pe.AggregateID)
			if err != nil {
				return nil, err
			}
			v = cur
		}
		if pe.ExpectedVersion != AnyVersion && pe.ExpectedVersion != v {
			return nil, fmt.Errorf("%w: %s expected version %d, found %d",
				ErrConcurrencyConflict, pe.AggregateID, pe.ExpectedVersion, v)
		}
		running[pe.AggregateID] = v + 1
		versions[i] = v + 1
	}
	return versions, nil
}
