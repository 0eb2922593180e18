package segmentation

import "math"

// CrossEntropyLoss is the per-pixel softmax cross entropy. Pixels labelled
// IgnoreIndex contribute neither loss nor gradient.
type CrossEntropyLoss struct {
	IgnoreIndex uint8
}

// NewCrossEntropyLoss ignores VoidLabel pixels.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{IgnoreIndex: VoidLabel}
}

// Name implements training.Loss.
func (l *CrossEntropyLoss) Name() string {
	return "CrossEntropyLoss"
}

// Forward returns the summed loss over the valid pixels of one image, the
// number of valid pixels and the gradient of the summed loss with respect to
// logits.
func (l *CrossEntropyLoss) Forward(logits []float32, mask []uint8, numClasses int) (float64, int, []float32) {
	plane := len(mask)
	grad := make([]float32, len(logits))
	probs := make([]float64, numClasses)
	var total float64
	valid := 0
	for i, label := range mask {
		if label == l.IgnoreIndex || int(label) >= numClasses {
			continue
		}
		maxLogit := float64(logits[i])
		for k := 1; k < numClasses; k++ {
			if v := float64(logits[k*plane+i]); v > maxLogit {
				maxLogit = v
			}
		}
		var sum float64
		for k := 0; k < numClasses; k++ {
			probs[k] = math.Exp(float64(logits[k*plane+i]) - maxLogit)
			sum += probs[k]
		}
		for k := 0; k < numClasses; k++ {
			p := probs[k] / sum
			if k == int(label) {
				total -= math.Log(math.Max(p, 1e-12))
				p -= 1
			}
			grad[k*plane+i] = float32(p)
		}
		valid++
	}
	return total, valid, grad
}
