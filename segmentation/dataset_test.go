package segmentation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallDataset(split string, seed int64) *SyntheticDataset {
	return NewSyntheticDataset(SyntheticConfig{
		Split:      split,
		Samples:    6,
		Size:       12,
		NumClasses: 4,
		Seed:       seed,
	})
}

func TestSyntheticDatasetIsDeterministic(t *testing.T) {
	a, err := smallDataset("train", 1).Get(3)
	require.NoError(t, err)
	b, err := smallDataset("train", 1).Get(3)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("samples differ (-first +second):\n%s", diff)
	}
}

func TestSyntheticDatasetSplitsDiffer(t *testing.T) {
	train, err := smallDataset("train", 1).Get(0)
	require.NoError(t, err)
	val, err := smallDataset("val", 1).Get(0)
	require.NoError(t, err)
	assert.NotEqual(t, train.Image, val.Image)
}

func TestSyntheticSampleLayout(t *testing.T) {
	ds := smallDataset("train", 7)
	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, 4, ds.NumClasses())

	for idx := 0; idx < ds.Len(); idx++ {
		s, err := ds.Get(idx)
		require.NoError(t, err)
		assert.Equal(t, idx, s.Index)
		assert.Len(t, s.Image, Channels*12*12)
		require.Len(t, s.Mask, 12*12)

		for i := 0; i < 12; i++ {
			assert.Equal(t, VoidLabel, s.Mask[i], "top row")
			assert.Equal(t, VoidLabel, s.Mask[11*12+i], "bottom row")
			assert.Equal(t, VoidLabel, s.Mask[i*12], "left column")
			assert.Equal(t, VoidLabel, s.Mask[i*12+11], "right column")
		}
		for y := 1; y < 11; y++ {
			for x := 1; x < 11; x++ {
				assert.Less(t, int(s.Mask[y*12+x]), 4)
			}
		}
	}
}

func TestSyntheticDatasetOutOfRange(t *testing.T) {
	ds := smallDataset("train", 1)
	_, err := ds.Get(-1)
	assert.Error(t, err)
	_, err = ds.Get(ds.Len())
	assert.Error(t, err)
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, VoidColor, ClassColor(VoidLabel))
	assert.NotEqual(t, ClassColor(0), ClassColor(1))
}
