package segmentation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDataset struct {
	Dataset
	mu    sync.Mutex
	loads map[int]int
}

func (d *countingDataset) Get(idx int) (Sample, error) {
	d.mu.Lock()
	d.loads[idx]++
	d.mu.Unlock()
	return d.Dataset.Get(idx)
}

func newCountingDataset() *countingDataset {
	return &countingDataset{Dataset: smallDataset("val", 1), loads: make(map[int]int)}
}

func TestCachedDatasetHitsAndMisses(t *testing.T) {
	inner := newCountingDataset()
	c, err := NewCachedDataset(inner, 4)
	require.NoError(t, err)
	assert.Equal(t, inner.Len(), c.Len())

	first, err := c.Get(2)
	require.NoError(t, err)
	second, err := c.Get(2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.loads[2])

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 50.0, stats.HitRate, 1e-9)
	assert.Contains(t, stats.String(), "Hits: 1")
}

func TestCachedDatasetEvictsLeastRecentlyUsed(t *testing.T) {
	inner := newCountingDataset()
	c, err := NewCachedDataset(inner, 2)
	require.NoError(t, err)

	for _, idx := range []int{0, 1, 0, 2, 0, 1} {
		_, err = c.Get(idx)
		require.NoError(t, err)
	}
	// 1 was evicted when 2 arrived; 0 stayed hot.
	assert.Equal(t, 1, inner.loads[0])
	assert.Equal(t, 2, inner.loads[1])
	assert.Equal(t, 2, c.Stats().Size)
}

func TestCachedDatasetPassesErrors(t *testing.T) {
	c, err := NewCachedDataset(newCountingDataset(), 2)
	require.NoError(t, err)
	_, err = c.Get(100)
	assert.Error(t, err)
	assert.Zero(t, c.Stats().Size)
}
