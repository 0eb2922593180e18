package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Three classes, 1x2 image, all logits zero.
	logits := make([]float32, 3*2)
	sum, valid, grad := NewCrossEntropyLoss().Forward(logits, []uint8{1, 2}, 3)

	assert.Equal(t, 2, valid)
	assert.InDelta(t, 2*math.Log(3), sum, 1e-9)
	// Pixel 0 is labelled 1: softmax minus one-hot.
	assert.InDelta(t, 1.0/3, grad[0*2+0], 1e-6)
	assert.InDelta(t, 1.0/3-1, grad[1*2+0], 1e-6)
	assert.InDelta(t, 1.0/3, grad[2*2+0], 1e-6)
}

func TestCrossEntropyIgnoresVoid(t *testing.T) {
	logits := []float32{5, -2, 0.5, 3}
	sum, valid, grad := NewCrossEntropyLoss().Forward(logits, []uint8{VoidLabel, 0}, 2)

	assert.Equal(t, 1, valid)
	assert.Zero(t, grad[0])
	assert.Zero(t, grad[2])
	assert.Greater(t, sum, 0.0)

	sum, valid, _ = NewCrossEntropyLoss().Forward(logits, []uint8{VoidLabel, VoidLabel}, 2)
	assert.Zero(t, valid)
	assert.Zero(t, sum)
}

func TestCrossEntropyIsStableForLargeLogits(t *testing.T) {
	logits := []float32{1000, -1000}
	sum, _, _ := NewCrossEntropyLoss().Forward(logits, []uint8{1}, 2)
	assert.False(t, math.IsInf(sum, 0) || math.IsNaN(sum))
}
