package segmentation

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatten(batches [][]int) []int {
	var out []int
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func TestDataLoaderBatching(t *testing.T) {
	dl := NewDataLoader(smallDataset("val", 1), 4, false, 0)
	assert.Equal(t, 2, dl.Len())
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5}}, dl.Batches())
}

func TestDataLoaderShuffleIsSeeded(t *testing.T) {
	a := NewDataLoader(smallDataset("train", 1), 2, true, 9)
	b := NewDataLoader(smallDataset("train", 1), 2, true, 9)

	first := a.Batches()
	assert.Equal(t, first, b.Batches())

	all := flatten(first)
	sort.Ints(all)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, all)

	a.Seed(9)
	assert.Equal(t, first, a.Batches(), "reseeding restarts the order")
}

func TestDataLoaderCacheStats(t *testing.T) {
	plain := NewDataLoader(smallDataset("val", 1), 4, false, 0)
	assert.Empty(t, plain.CacheStats())

	cached, err := NewCachedDataset(smallDataset("val", 1), 8)
	require.NoError(t, err)
	dl := NewDataLoader(cached, 4, false, 0)
	for i := 0; i < 2; i++ {
		for _, b := range dl.Batches() {
			_, err := dl.Load(b)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, "Cache: 6/8 items, Hits: 6, Misses: 6, Hit Rate: 50.0%", dl.CacheStats())
}

func TestDataLoaderLoad(t *testing.T) {
	dl := NewDataLoader(smallDataset("train", 1), 2, false, 0)
	samples, err := dl.Load([]int{4, 1})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 4, samples[0].Index)
	assert.Equal(t, 1, samples[1].Index)

	_, err = dl.Load(nil)
	assert.Error(t, err)
	_, err = dl.Load([]int{42})
	assert.Error(t, err)
}
