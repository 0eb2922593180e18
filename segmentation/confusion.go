package segmentation

import "github.com/pkg/errors"

// ConfusionMatrix accumulates per-pixel predictions for segmentation scoring.
type ConfusionMatrix struct {
	NumClasses int
	Matrix     [][]int64 // [true_class][predicted_class]
	Total      int64
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int64, numClasses)
	for i := range matrix {
		matrix[i] = make([]int64, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Update adds one image. Pixels labelled VoidLabel or out of range are skipped.
func (cm *ConfusionMatrix) Update(pred, mask []uint8) error {
	if len(pred) != len(mask) {
		return errors.Errorf("prediction has %d pixels, mask has %d", len(pred), len(mask))
	}
	for i, label := range mask {
		t, p := int(label), int(pred[i])
		if label == VoidLabel || t >= cm.NumClasses || p >= cm.NumClasses {
			continue
		}
		cm.Matrix[t][p]++
		cm.Total++
	}
	return nil
}

// Merge adds the counts of other.
func (cm *ConfusionMatrix) Merge(other *ConfusionMatrix) {
	for t := range cm.Matrix {
		for p := range cm.Matrix[t] {
			cm.Matrix[t][p] += other.Matrix[t][p]
		}
	}
	cm.Total += other.Total
}

// PixelAccuracy returns the fraction of non-void pixels classified correctly.
func (cm *ConfusionMatrix) PixelAccuracy() float64 {
	if cm.Total == 0 {
		return 0.0
	}
	var correct int64
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.Total)
}

// IoU returns the intersection over union of class k and whether the class
// occurs in either the labels or the predictions.
func (cm *ConfusionMatrix) IoU(k int) (float64, bool) {
	tp := cm.Matrix[k][k]
	var fp, fn int64
	for i := 0; i < cm.NumClasses; i++ {
		if i == k {
			continue
		}
		fp += cm.Matrix[i][k]
		fn += cm.Matrix[k][i]
	}
	union := tp + fp + fn
	if union == 0 {
		return 0, false
	}
	return float64(tp) / float64(union), true
}

// MeanIoU averages IoU over the classes that occur.
func (cm *ConfusionMatrix) MeanIoU() float64 {
	var sum float64
	n := 0
	for k := 0; k < cm.NumClasses; k++ {
		if iou, ok := cm.IoU(k); ok {
			sum += iou
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
