package catalog

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/orderdesk/internal/model"
)

func testEntries() []model.CatalogEntry {
	return []model.CatalogEntry{
		{ProductID: "SKU001", Name: "Garden Trowel", Category: "tools", UnitPrice: 12.50, Stock: 10},
		{ProductID: "SKU002", Name: "Watering Can", Category: "tools", UnitPrice: 18.00, Stock: 3},
		{ProductID: "SKU003", Name: "Rose Seeds", Category: "seeds", UnitPrice: 4.25, Stock: 0},
	}
}

func TestIndex_GetAndLen(t *testing.T) {
	idx := NewIndex(testEntries())
	assert.Equal(t, 3, idx.Len())

	e, ok := idx.Get("SKU002")
	require.True(t, ok)
	assert.Equal(t, "Watering Can", e.Name)
	assert.Equal(t, 3, e.Stock)

	_, ok = idx.Get("SKU999")
	assert.False(t, ok)
}

func TestIndex_DuplicateRowsLastWins(t *testing.T) {
	entries := testEntries()
	entries = append(entries, model.CatalogEntry{ProductID: "SKU001", Name: "Garden Trowel", Stock: 99})

	idx := NewIndex(entries)
	assert.Equal(t, 3, idx.Len())

	e, ok := idx.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, 99, e.Stock)
}

func TestIndex_DecrementStock(t *testing.T) {
	idx := NewIndex(testEntries())

	require.NoError(t, idx.DecrementStock("SKU001", 4))
	e, _ := idx.Get("SKU001")
	assert.Equal(t, 6, e.Stock)

	// Down to exactly zero is allowed.
	require.NoError(t, idx.DecrementStock("SKU001", 6))
	e, _ = idx.Get("SKU001")
	assert.Equal(t, 0, e.Stock)
}

func TestIndex_DecrementStock_Violations(t *testing.T) {
	idx := NewIndex(testEntries())

	assert.Error(t, idx.DecrementStock("SKU999", 1), "unknown product")
	assert.Error(t, idx.DecrementStock("SKU002", 4), "exceeds stock")
	assert.Error(t, idx.DecrementStock("SKU002", 0), "non-positive")
	assert.Error(t, idx.DecrementStock("SKU002", -2), "negative")

	// Failed decrements must not change stock.
	e, _ := idx.Get("SKU002")
	assert.Equal(t, 3, e.Stock)
}

func TestIndex_StockNeverNegative(t *testing.T) {
	idx := NewIndex(testEntries())

	// Any sequence of successful decrements keeps stock >= 0.
	for _, q := range []int{5, 3, 2} {
		require.NoError(t, idx.DecrementStock("SKU001", q))
	}
	e, _ := idx.Get("SKU001")
	assert.Equal(t, 0, e.Stock)
	assert.Error(t, idx.DecrementStock("SKU001", 1))
}

func TestIndex_SnapshotPreservesOrder(t *testing.T) {
	idx := NewIndex(testEntries())
	require.NoError(t, idx.DecrementStock("SKU002", 1))

	snap := idx.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "SKU001", snap[0].ProductID)
	assert.Equal(t, "SKU002", snap[1].ProductID)
	assert.Equal(t, "SKU003", snap[2].ProductID)
	assert.Equal(t, 2, snap[1].Stock)
}

func TestIndex_TakeMutated(t *testing.T) {
	idx := NewIndex(testEntries())

	assert.Nil(t, idx.TakeMutated(), "no mutations yet")

	require.NoError(t, idx.DecrementStock("SKU001", 1))
	require.NoError(t, idx.DecrementStock("SKU002", 2))

	mutated := idx.TakeMutated()
	require.Len(t, mutated, 2)
	assert.Equal(t, "SKU001", mutated[0].ProductID)
	assert.Equal(t, 9, mutated[0].Stock)
	assert.Equal(t, "SKU002", mutated[1].ProductID)
	assert.Equal(t, 1, mutated[1].Stock)

	assert.Nil(t, idx.TakeMutated(), "mutation set resets after take")
}

func TestIndex_ConcurrentDecrement(t *testing.T) {
	idx := NewIndex([]model.CatalogEntry{
		{ProductID: "SKU001", Name: "Garden Trowel", Stock: 100},
	})

	// 200 attempted decrements against 100 units: exactly 100 succeed
	// and the rest fail cleanly, never driving stock negative.
	var wg sync.WaitGroup
	var succeeded atomic.Int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				if err := idx.DecrementStock("SKU001", 1); err == nil {
					succeeded.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	e, ok := idx.Get("SKU001")
	require.True(t, ok)
	assert.Equal(t, int64(100), succeeded.Load())
	assert.Equal(t, 0, e.Stock)

	mutated := idx.TakeMutated()
	require.Len(t, mutated, 1)
	assert.Equal(t, 0, mutated[0].Stock)
}
