package segmentation

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// DefaultCacheSize is the number of samples the factory keeps per evaluation
// split.
const DefaultCacheSize = 256

// CachedDataset keeps the most recently used samples of a dataset in memory.
// Cached samples are shared between callers and must not be modified.
type CachedDataset struct {
	dataset Dataset
	samples *lru.Cache[int, Sample]
	maxSize int

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedDataset wraps dataset with an LRU cache of maxSize samples.
func NewCachedDataset(dataset Dataset, maxSize int) (*CachedDataset, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	samples, err := lru.New[int, Sample](maxSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating sample cache")
	}
	return &CachedDataset{
		dataset: dataset,
		samples: samples,
		maxSize: maxSize,
	}, nil
}

// Len returns the size of the wrapped dataset.
func (c *CachedDataset) Len() int {
	return c.dataset.Len()
}

// Get returns sample idx, loading it on a miss. Concurrent misses on the same
// index may each load it; the last one wins.
func (c *CachedDataset) Get(idx int) (Sample, error) {
	if s, ok := c.samples.Get(idx); ok {
		c.hits.Add(1)
		return s, nil
	}
	c.misses.Add(1)

	s, err := c.dataset.Get(idx)
	if err != nil {
		return Sample{}, err
	}
	c.samples.Add(idx, s)
	return s, nil
}

// Stats returns cache statistics.
func (c *CachedDataset) Stats() CacheStats {
	stats := CacheStats{
		Size:    c.samples.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
