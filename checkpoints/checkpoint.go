package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/metrics"
)

// SchemaVersion is the checkpoint layout written by this package. Loading a
// checkpoint with any other version fails.
const SchemaVersion = 1

// Framework is stamped into every checkpoint's metadata.
const Framework = "segtrain"

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "proto"
	default:
		return "unknown"
	}
}

// ParseFormat maps a configuration string onto a CheckpointFormat.
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "json", "":
		return FormatJSON, nil
	case "proto", "protobuf":
		return FormatProto, nil
	default:
		return FormatJSON, errors.Errorf("unsupported checkpoint format %q", s)
	}
}

// Kind distinguishes the rolling checkpoint from the reduced best-model one.
type Kind string

const (
	// KindFull carries everything needed to resume a run.
	KindFull Kind = "full"
	// KindBest carries the epoch and model weights only.
	KindBest Kind = "best"
)

// Checkpoint is a durable snapshot of a training run.
type Checkpoint struct {
	Kind    Kind           `json:"kind"`
	Epoch   int            `json:"epoch"`
	Weights []WeightTensor `json:"weights"`

	// Present on KindFull only.
	OptimizerState *OptimizerState  `json:"optimizer_state,omitempty"`
	TrainingState  *TrainingState   `json:"training_state,omitempty"`
	Metrics        *metrics.History `json:"metrics,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NumElements returns the product of the shape.
func (w WeightTensor) NumElements() int {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

// TrainingState captures the run-level scalars needed to resume.
type TrainingState struct {
	LearningRate float64           `json:"learning_rate"`
	Best         metrics.BestScore `json:"best"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string             `json:"type"` // "adam", "sgd"
	Parameters map[string]float64 `json:"parameters"`
	Step       int64              `json:"step"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", "velocity"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	SchemaVersion int       `json:"schema_version"`
	Framework     string    `json:"framework"`
	RunID         string    `json:"run_id,omitempty"`
	Experiment    string    `json:"experiment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Description   string    `json:"description,omitempty"`
}

// Reduced returns the best-model form of c: epoch and weights only.
func (c *Checkpoint) Reduced() *Checkpoint {
	return &Checkpoint{
		Kind:     KindBest,
		Epoch:    c.Epoch,
		Weights:  c.Weights,
		Metadata: c.Metadata,
	}
}

// Validate checks that a decoded checkpoint is one this version understands
// and that it carries the sections its kind requires.
func (c *Checkpoint) Validate(want Kind) error {
	if c.Metadata.SchemaVersion != SchemaVersion {
		return errors.Errorf("unsupported checkpoint schema version %d (want %d)",
			c.Metadata.SchemaVersion, SchemaVersion)
	}
	if c.Kind != want {
		return errors.Errorf("checkpoint kind is %q, expected %q", c.Kind, want)
	}
	if c.Epoch < 0 {
		return errors.Errorf("checkpoint epoch %d is negative", c.Epoch)
	}
	for _, w := range c.Weights {
		if len(w.Data) != w.NumElements() {
			return errors.Errorf("weight %s has %d values for shape %v", w.Name, len(w.Data), w.Shape)
		}
	}
	if want == KindFull {
		if c.TrainingState == nil {
			return errors.New("checkpoint has no training state")
		}
		if c.Metrics == nil {
			return errors.New("checkpoint has no metrics history")
		}
		if err := c.Metrics.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the format new checkpoints are written in.
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint encodes checkpoint and atomically replaces path with it. A
// crash mid-write leaves the previous file intact.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	checkpoint.Metadata.SchemaVersion = SchemaVersion
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = Framework
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	var (
		data []byte
		err  error
	)
	switch cs.format {
	case FormatJSON:
		data, err = encodeJSON(checkpoint)
	case FormatProto:
		data, err = encodeProto(checkpoint)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint for %s", path)
	}

	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint %s", path)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written in either format. The format is
// detected from the content, so a run can resume from a checkpoint written
// with a different setting. A missing file yields an error matching
// os.ErrNotExist.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}

	var checkpoint *Checkpoint
	switch DetectFormat(data) {
	case FormatJSON:
		checkpoint, err = decodeJSON(data)
	default:
		checkpoint, err = decodeProto(data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	return checkpoint, nil
}

// DetectFormat guesses the encoding of a checkpoint file. The binary encoding
// can start with a newline byte, so anything not opening with '{' must also
// parse as JSON to be treated as JSON.
func DetectFormat(data []byte) CheckpointFormat {
	if len(data) > 0 && data[0] == '{' {
		return FormatJSON
	}
	if json.Valid(data) {
		return FormatJSON
	}
	return FormatProto
}

// MatchWeights checks loaded weights against the parameters a model expects.
// In strict mode every expected name must be present with an identical shape
// and no unexpected names may appear. Non-strict mode only checks the shapes
// of names present in both.
func MatchWeights(expected, loaded []WeightTensor, strict bool) error {
	loadedByName := make(map[string]WeightTensor, len(loaded))
	for _, w := range loaded {
		loadedByName[w.Name] = w
	}

	var missing []string
	seen := make(map[string]bool, len(expected))
	for _, want := range expected {
		seen[want.Name] = true
		got, ok := loadedByName[want.Name]
		if !ok {
			missing = append(missing, want.Name)
			continue
		}
		if !sameShape(want.Shape, got.Shape) {
			return errors.Errorf("shape mismatch for weight %s: model %v vs checkpoint %v",
				want.Name, want.Shape, got.Shape)
		}
		if len(got.Data) != want.NumElements() {
			return errors.Errorf("weight %s has %d values, expected %d",
				want.Name, len(got.Data), want.NumElements())
		}
	}
	if !strict {
		return nil
	}

	var unexpected []string
	for _, w := range loaded {
		if !seen[w.Name] {
			unexpected = append(unexpected, w.Name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return errors.Errorf("weights do not match model: missing %v, unexpected %v", missing, unexpected)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
