package segmentation

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

// DataLoader splits a dataset into batches. Training loaders reshuffle the
// sample order on every call to Batches.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)), // #nosec G404
	}
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// CacheStats describes the sample cache of the loader's dataset, or returns
// an empty string when the dataset is not cached.
func (dl *DataLoader) CacheStats() string {
	c, ok := dl.dataset.(*CachedDataset)
	if !ok {
		return ""
	}
	return c.Stats().String()
}

// Seed resets the shuffling source.
func (dl *DataLoader) Seed(seed int64) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.rng = rand.New(rand.NewSource(seed)) // #nosec G404
}

// Batches returns the sample indices of every batch of one epoch.
func (dl *DataLoader) Batches() [][]int {
	indices := make([]int, dl.dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	if dl.shuffle {
		dl.mu.Lock()
		dl.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		dl.mu.Unlock()
	}

	batches := make([][]int, 0, dl.Len())
	for start := 0; start < len(indices); start += dl.batchSize {
		end := start + dl.batchSize
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}

// Load fetches the samples of one batch.
func (dl *DataLoader) Load(indices []int) ([]Sample, error) {
	if len(indices) == 0 {
		return nil, errors.New("empty batch indices")
	}
	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load sample %d", idx)
		}
		samples[i] = s
	}
	return samples, nil
}
