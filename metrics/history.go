// Package metrics holds the per-epoch scalar record of a training run.
package metrics

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Epoch is one completed epoch's worth of scalars.
type Epoch struct {
	Index     int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
	MIoU      float64
}

// History is the ordered per-epoch record of a run. All series are index
// aligned by epoch and always have the same length; Append is the only way to
// grow them.
type History struct {
	TrainLoss []float64 `json:"train_loss"`
	TrainAcc  []float64 `json:"train_acc"`
	ValLoss   []float64 `json:"val_loss"`
	ValAcc    []float64 `json:"val_acc"`
	MIoU      []float64 `json:"miou"`
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{
		TrainLoss: make([]float64, 0),
		TrainAcc:  make([]float64, 0),
		ValLoss:   make([]float64, 0),
		ValAcc:    make([]float64, 0),
		MIoU:      make([]float64, 0),
	}
}

// Append records a completed epoch in every series at once.
func (h *History) Append(e Epoch) {
	h.TrainLoss = append(h.TrainLoss, e.TrainLoss)
	h.TrainAcc = append(h.TrainAcc, e.TrainAcc)
	h.ValLoss = append(h.ValLoss, e.ValLoss)
	h.ValAcc = append(h.ValAcc, e.ValAcc)
	h.MIoU = append(h.MIoU, e.MIoU)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	return len(h.TrainLoss)
}

// At returns the scalars recorded at position i.
func (h *History) At(i int) Epoch {
	return Epoch{
		Index:     i,
		TrainLoss: h.TrainLoss[i],
		TrainAcc:  h.TrainAcc[i],
		ValLoss:   h.ValLoss[i],
		ValAcc:    h.ValAcc[i],
		MIoU:      h.MIoU[i],
	}
}

// Series returns every series keyed by the name the checkpoint uses for it.
func (h *History) Series() map[string][]float64 {
	return map[string][]float64{
		"train_loss": h.TrainLoss,
		"train_acc":  h.TrainAcc,
		"val_loss":   h.ValLoss,
		"val_acc":    h.ValAcc,
		"miou":       h.MIoU,
	}
}

// Validate reports a history whose series lengths disagree.
func (h *History) Validate() error {
	n := len(h.TrainLoss)
	for name, s := range h.Series() {
		if len(s) != n {
			return errors.Errorf("metrics series %q has %d entries, expected %d", name, len(s), n)
		}
	}
	return nil
}

type historyJSON struct {
	TrainLoss []Float `json:"train_loss"`
	TrainAcc  []Float `json:"train_acc"`
	ValLoss   []Float `json:"val_loss"`
	ValAcc    []Float `json:"val_acc"`
	MIoU      []Float `json:"miou"`
}

// MarshalJSON writes the series with non-finite values spelled out.
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(historyJSON{
		TrainLoss: ConvertFloats[Float](h.TrainLoss),
		TrainAcc:  ConvertFloats[Float](h.TrainAcc),
		ValLoss:   ConvertFloats[Float](h.ValLoss),
		ValAcc:    ConvertFloats[Float](h.ValAcc),
		MIoU:      ConvertFloats[Float](h.MIoU),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *History) UnmarshalJSON(data []byte) error {
	var raw historyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*h = History{
		TrainLoss: ConvertFloats[float64](raw.TrainLoss),
		TrainAcc:  ConvertFloats[float64](raw.TrainAcc),
		ValLoss:   ConvertFloats[float64](raw.ValLoss),
		ValAcc:    ConvertFloats[float64](raw.ValAcc),
		MIoU:      ConvertFloats[float64](raw.MIoU),
	}
	return nil
}

// Clone returns a deep copy.
func (h *History) Clone() *History {
	return &History{
		TrainLoss: append([]float64{}, h.TrainLoss...),
		TrainAcc:  append([]float64{}, h.TrainAcc...),
		ValLoss:   append([]float64{}, h.ValLoss...),
		ValAcc:    append([]float64{}, h.ValAcc...),
		MIoU:      append([]float64{}, h.MIoU...),
	}
}
