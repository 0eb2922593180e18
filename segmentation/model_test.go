package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/segtrain/checkpoints"
)

func sampleLoss(t *testing.T, m *ConvHead, s Sample) float64 {
	t.Helper()
	sum, _, _ := NewCrossEntropyLoss().Forward(m.Forward(s.Image, s.Size), s.Mask, m.NumClasses())
	return sum
}

func TestConvHeadGradientMatchesFiniteDifference(t *testing.T) {
	s, err := NewSyntheticDataset(SyntheticConfig{
		Split: "train", Samples: 1, Size: 6, NumClasses: 3, Seed: 5,
	}).Get(0)
	require.NoError(t, err)
	m := NewConvHead(Channels, 3, 11)

	_, _, dLogits := NewCrossEntropyLoss().Forward(m.Forward(s.Image, s.Size), s.Mask, 3)
	grads := m.Backward(s.Image, s.Size, dLogits)

	const eps = 1e-2
	params := m.Parameters()
	for p, param := range params {
		for _, j := range []int{0, len(param.Data) / 2, len(param.Data) - 1} {
			orig := param.Data[j]
			param.Data[j] = orig + eps
			plus := sampleLoss(t, m, s)
			param.Data[j] = orig - eps
			minus := sampleLoss(t, m, s)
			param.Data[j] = orig

			numeric := (plus - minus) / (2 * eps)
			analytic := float64(grads[p][j])
			assert.InDelta(t, numeric, analytic, 1e-2+1e-2*math.Abs(numeric),
				"%s[%d]", param.Name, j)
		}
	}
}

func TestConvHeadSeedReinitializes(t *testing.T) {
	a := NewConvHead(Channels, 4, 1)
	b := NewConvHead(Channels, 4, 2)
	assert.NotEqual(t, a.StateDict(), b.StateDict())

	b.Seed(1)
	assert.Equal(t, a.StateDict(), b.StateDict())
}

func TestConvHeadStateDictRoundTrip(t *testing.T) {
	src := NewConvHead(Channels, 4, 1)
	dst := NewConvHead(Channels, 4, 2)

	require.NoError(t, dst.LoadStateDict(src.StateDict(), true))
	assert.Equal(t, src.StateDict(), dst.StateDict())

	// StateDict hands out copies.
	sd := dst.StateDict()
	sd[0].Data[0] = 99
	assert.NotEqual(t, float32(99), dst.StateDict()[0].Data[0])
}

func TestConvHeadLoadStateDictRejectsMismatch(t *testing.T) {
	m := NewConvHead(Channels, 4, 1)
	before := m.StateDict()

	other := NewConvHead(Channels, 5, 1).StateDict()
	assert.Error(t, m.LoadStateDict(other, true))
	assert.Equal(t, before, m.StateDict(), "weights must be untouched")

	partial := []checkpoints.WeightTensor{before[0]}
	assert.Error(t, m.LoadStateDict(partial, true))
}

func TestPredict(t *testing.T) {
	// Two classes over a 2x2 image, laid out [K, H, W].
	logits := []float32{
		1, 0, 3, -1,
		0, 2, 1, 5,
	}
	assert.Equal(t, []uint8{0, 1, 0, 1}, Predict(logits, 2, 2))
}
