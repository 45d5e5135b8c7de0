package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotThreshold is the number of events between two snapshots of an aggregate
const SnapshotThreshold = 10

// Snapshot is the serialized state of an aggregate at Version
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewSnapshot serializes state taken at version
func NewSnapshot(aggregateID, aggregateType string, version int, state any) (*Snapshot, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s snapshot: %w", aggregateType, err)
	}
	return &Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		State:         data,
		CreatedAt:     time.Now(),
	}, nil
}

// ShouldSnapshot reports whether version lands on a snapshot boundary
func ShouldSnapshot(version int) bool {
	return version > 0 && version%SnapshotThreshold == 0
}
