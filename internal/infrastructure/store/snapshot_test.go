package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot(t *testing.T) {
	type ledgerState struct {
		TotalStock    int            `json:"total_stock"`
		ReservedStock int            `json:"reserved_stock"`
		Reservations  map[string]int `json:"reservations"`
	}
	state := ledgerState{TotalStock: 10, ReservedStock: 3, Reservations: map[string]int{"order-1": 3}}

	snapshot, err := NewSnapshot("inv-1", "Inventory", 20, state)

	require.NoError(t, err)
	assert.Equal(t, "inv-1", snapshot.AggregateID)
	assert.Equal(t, "Inventory", snapshot.AggregateType)
	assert.Equal(t, 20, snapshot.Version)
	assert.NotZero(t, snapshot.CreatedAt)

	var restored ledgerState
	require.NoError(t, json.Unmarshal(snapshot.State, &restored))
	assert.Equal(t, state, restored)
}

func TestNewSnapshot_UnmarshalableState(t *testing.T) {
	_, err := NewSnapshot("cart-1", "Cart", 10, func() {})
	assert.ErrorContains(t, err, "Cart snapshot")
}

func TestShouldSnapshot(t *testing.T) {
	tests := []struct {
		version int
		want    bool
	}{
		{0, false},
		{1, false},
		{SnapshotThreshold - 1, false},
		{SnapshotThreshold, true},
		{SnapshotThreshold + 1, false},
		{3 * SnapshotThreshold, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldSnapshot(tt.version), "version %d", tt.version)
	}
}
