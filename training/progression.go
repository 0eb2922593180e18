package training

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/metrics"
)

// ProgressionFileName is written into the run directory after every epoch.
const ProgressionFileName = "training_progression.json"

// Progression is the status document external tooling polls to follow a run.
type Progression struct {
	CurrentEpoch int64                  `json:"current_epoch"`
	TotalEpochs  int64                  `json:"total_epochs"`
	Message      string                 `json:"message,omitempty"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	Timestamp    int64                  `json:"timestamp"`
	StartTime    int64                  `json:"start_time"`
}

// ProgressionWriter rewrites the progression file of one run.
type ProgressionWriter struct {
	path      string
	total     int
	startTime time.Time
	now       func() time.Time
}

// NewProgressionWriter writes to dir/training_progression.json.
func NewProgressionWriter(dir string, totalEpochs int) *ProgressionWriter {
	return &ProgressionWriter{
		path:      filepath.Join(dir, ProgressionFileName),
		total:     totalEpochs,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Path returns the file the writer targets.
func (w *ProgressionWriter) Path() string {
	return w.path
}

// Write records the completion of epoch e. Epochs are reported one-based.
func (w *ProgressionWriter) Write(e metrics.Epoch, lr float64, best metrics.BestScore) error {
	p := Progression{
		CurrentEpoch: int64(e.Index + 1),
		TotalEpochs:  int64(w.total),
		Message:      "epoch completed",
		Metrics: map[string]interface{}{
			"train_loss":    metrics.Float(e.TrainLoss),
			"train_acc":     metrics.Float(e.TrainAcc),
			"val_loss":      metrics.Float(e.ValLoss),
			"val_acc":       metrics.Float(e.ValAcc),
			"miou":          metrics.Float(e.MIoU),
			"learning_rate": metrics.Float(lr),
			"best_miou":     metrics.Float(best.Value),
			"best_epoch":    best.Epoch,
		},
		Timestamp: w.now().Unix(),
		StartTime: w.startTime.Unix(),
	}
	if e.Index+1 >= w.total {
		p.Message = "training completed"
	}

	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to marshal progression")
	}
	return checkpoints.WriteFileAtomic(w.path, data, 0o644)
}
