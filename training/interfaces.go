package training

import (
	"context"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/config"
)

// Split names a dataset partition.
type Split string

// Dataset splits every run needs.
const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// Splits lists the splits in the order they are checked.
var Splits = []Split{SplitTrain, SplitVal, SplitTest}

// Loader yields batches of one split. The orchestrator only needs its size.
type Loader interface {
	Len() int
}

// CacheReporter is implemented by loaders that keep samples in memory.
// CacheStats returns an empty string when nothing is cached.
type CacheReporter interface {
	CacheStats() string
}

// Model is a parameterized network whose parameters can be exported and
// restored by name.
type Model interface {
	StateDict() []checkpoints.WeightTensor
	// LoadStateDict replaces the parameters. In strict mode names and shapes
	// must match exactly.
	LoadStateDict(weights []checkpoints.WeightTensor, strict bool) error
}

// Loss is an opaque loss function.
type Loss interface {
	Name() string
}

// Optimizer updates model parameters and owns the current learning rate.
type Optimizer interface {
	LR() float64
	SetLR(lr float64)
	State() checkpoints.OptimizerState
	LoadState(state checkpoints.OptimizerState) error
}

// TrainResult is the outcome of one training epoch.
type TrainResult struct {
	Loss float64
	Acc  float64
}

// EvalResult is the outcome of one evaluation pass.
type EvalResult struct {
	Acc  float64
	Loss float64
	MIoU float64
}

// TrainStep carries everything a Learner needs for one training epoch.
type TrainStep struct {
	Loader    Loader
	Model     Model
	Loss      Loss
	Optimizer Optimizer
	Scheduler LRScheduler
	BaseLR    float64
	Epoch     int
}

// ValidateStep carries everything a Learner needs for one evaluation pass.
// Mode is the split evaluated and Folder the run directory renderings go under.
type ValidateStep struct {
	Loader Loader
	Model  Model
	Loss   Loss
	Epoch  int
	Mode   Split
	Folder string
}

// Learner runs the per-epoch numerical work.
type Learner interface {
	TrainEpoch(ctx context.Context, step TrainStep) (TrainResult, error)
	ValidateEpoch(ctx context.Context, step ValidateStep) (EvalResult, error)
}

// Components is the set of collaborators a run is built from.
type Components struct {
	Loaders   map[Split]Loader
	Model     Model
	Loss      Loss
	Optimizer Optimizer
	Scheduler LRScheduler
	Learner   Learner
}

// Factory builds the collaborators for a configuration.
type Factory interface {
	Build(cfg config.RunConfig) (*Components, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(cfg config.RunConfig) (*Components, error)

// Build implements Factory.
func (f FactoryFunc) Build(cfg config.RunConfig) (*Components, error) {
	return f(cfg)
}

// Seedable is implemented by collaborators holding their own random source.
type Seedable interface {
	Seed(seed int64)
}

// DeterminismSetter is implemented by collaborators that can trade speed for
// reproducible execution.
type DeterminismSetter interface {
	SetDeterministic(on bool)
}
