package metrics

import "encoding/json"

// BestScore tracks the highest validation mIoU of a run. Value never
// decreases.
type BestScore struct {
	Value float64 `json:"value"`
	Epoch int     `json:"epoch"`
}

// NoBest is the score before any epoch has been observed.
func NoBest() BestScore {
	return BestScore{Value: 0.0, Epoch: -1}
}

// Observe records miou for epoch if it strictly exceeds the current best and
// reports whether it did. Ties keep the earlier epoch.
func (b *BestScore) Observe(miou float64, epoch int) bool {
	if !(miou > b.Value) {
		return false
	}
	b.Value = miou
	b.Epoch = epoch
	return true
}

// Found reports whether any epoch has improved on the initial score.
func (b BestScore) Found() bool {
	return b.Epoch >= 0
}

type bestScoreJSON struct {
	Value Float `json:"value"`
	Epoch int   `json:"epoch"`
}

// MarshalJSON implements json.Marshaler.
func (b BestScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(bestScoreJSON{Value: Float(b.Value), Epoch: b.Epoch})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BestScore) UnmarshalJSON(data []byte) error {
	var raw bestScoreJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = BestScore{Value: float64(raw.Value), Epoch: raw.Epoch}
	return nil
}
