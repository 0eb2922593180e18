package segmentation

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
)

// Kernel is the spatial size of the convolution.
const Kernel = 3

// Parameter is a named view of one trainable tensor. Data aliases the model's
// storage.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
}

// ConvHead is a single 3x3 convolution with zero padding mapping an image to
// per-pixel class logits.
type ConvHead struct {
	inChannels int
	numClasses int
	weight     []float32 // [K, C, 3, 3]
	bias       []float32 // [K]
}

// NewConvHead creates a model initialized from seed.
func NewConvHead(inChannels, numClasses int, seed int64) *ConvHead {
	m := &ConvHead{
		inChannels: inChannels,
		numClasses: numClasses,
		weight:     make([]float32, numClasses*inChannels*Kernel*Kernel),
		bias:       make([]float32, numClasses),
	}
	m.Seed(seed)
	return m
}

// Seed re-initializes the parameters uniformly in ±1/sqrt(fan_in).
func (m *ConvHead) Seed(seed int64) {
	rng := rand.New(rand.NewSource(seed)) // #nosec G404
	bound := 1 / math.Sqrt(float64(m.inChannels*Kernel*Kernel))
	for i := range m.weight {
		m.weight[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	for i := range m.bias {
		m.bias[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// NumClasses returns the number of output classes.
func (m *ConvHead) NumClasses() int {
	return m.numClasses
}

// Parameters returns the trainable tensors in a fixed order.
func (m *ConvHead) Parameters() []Parameter {
	return []Parameter{
		{Name: "head.weight", Shape: []int{m.numClasses, m.inChannels, Kernel, Kernel}, Data: m.weight},
		{Name: "head.bias", Shape: []int{m.numClasses}, Data: m.bias},
	}
}

// StateDict returns a copy of the parameters.
func (m *ConvHead) StateDict() []checkpoints.WeightTensor {
	params := m.Parameters()
	out := make([]checkpoints.WeightTensor, len(params))
	for i, p := range params {
		out[i] = checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: p.Shape,
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return out
}

// LoadStateDict copies weights into the model. Names and shapes are checked
// before anything is overwritten.
func (m *ConvHead) LoadStateDict(weights []checkpoints.WeightTensor, strict bool) error {
	params := m.Parameters()
	expected := make([]checkpoints.WeightTensor, len(params))
	for i, p := range params {
		expected[i] = checkpoints.WeightTensor{Name: p.Name, Shape: p.Shape, Data: p.Data}
	}
	if err := checkpoints.MatchWeights(expected, weights, strict); err != nil {
		return errors.Wrap(err, "failed to load state dict")
	}

	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range params {
		if w, ok := byName[p.Name]; ok {
			copy(p.Data, w.Data)
		}
	}
	return nil
}

func (m *ConvHead) widx(k, c, dy, dx int) int {
	return ((k*m.inChannels+c)*Kernel+dy)*Kernel + dx
}

// Forward computes logits laid out [K, H, W] for a [C, H, W] image.
func (m *ConvHead) Forward(image []float32, size int) []float32 {
	plane := size * size
	logits := make([]float32, m.numClasses*plane)
	for k := 0; k < m.numClasses; k++ {
		out := logits[k*plane : (k+1)*plane]
		for i := range out {
			out[i] = m.bias[k]
		}
		for c := 0; c < m.inChannels; c++ {
			in := image[c*plane : (c+1)*plane]
			for dy := 0; dy < Kernel; dy++ {
				for dx := 0; dx < Kernel; dx++ {
					w := m.weight[m.widx(k, c, dy, dx)]
					for y := 0; y < size; y++ {
						sy := y + dy - 1
						if sy < 0 || sy >= size {
							continue
						}
						for x := 0; x < size; x++ {
							sx := x + dx - 1
							if sx < 0 || sx >= size {
								continue
							}
							out[y*size+x] += w * in[sy*size+sx]
						}
					}
				}
			}
		}
	}
	return logits
}

// Backward returns the parameter gradients for the logit gradient dLogits,
// both laid out like Parameters.
func (m *ConvHead) Backward(image []float32, size int, dLogits []float32) [][]float32 {
	plane := size * size
	gradW := make([]float32, len(m.weight))
	gradB := make([]float32, len(m.bias))
	for k := 0; k < m.numClasses; k++ {
		g := dLogits[k*plane : (k+1)*plane]
		for _, v := range g {
			gradB[k] += v
		}
		for c := 0; c < m.inChannels; c++ {
			in := image[c*plane : (c+1)*plane]
			for dy := 0; dy < Kernel; dy++ {
				for dx := 0; dx < Kernel; dx++ {
					var sum float32
					for y := 0; y < size; y++ {
						sy := y + dy - 1
						if sy < 0 || sy >= size {
							continue
						}
						for x := 0; x < size; x++ {
							sx := x + dx - 1
							if sx < 0 || sx >= size {
								continue
							}
							sum += g[y*size+x] * in[sy*size+sx]
						}
					}
					gradW[m.widx(k, c, dy, dx)] = sum
				}
			}
		}
	}
	return [][]float32{gradW, gradB}
}

// Predict returns the arg-max class of every pixel of logits.
func Predict(logits []float32, numClasses, size int) []uint8 {
	plane := size * size
	pred := make([]uint8, plane)
	for i := 0; i < plane; i++ {
		best := 0
		bestVal := logits[i]
		for k := 1; k < numClasses; k++ {
			if v := logits[k*plane+i]; v > bestVal {
				best, bestVal = k, v
			}
		}
		pred[i] = uint8(best)
	}
	return pred
}
