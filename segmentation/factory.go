package segmentation

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/config"
	"github.com/tsawler/segtrain/training"
)

// Factory builds the synthetic-dataset collaborators for a run.
type Factory struct {
	// Progress receives progress bars when the configuration enables them.
	// Defaults to os.Stderr.
	Progress io.Writer
}

var _ training.Factory = (*Factory)(nil)

// Build implements training.Factory.
func (f *Factory) Build(cfg config.RunConfig) (*training.Components, error) {
	if cfg.DatasetPath != config.SyntheticDataset {
		return nil, errors.Errorf("unsupported dataset_path %q (only %q is built in)",
			cfg.DatasetPath, config.SyntheticDataset)
	}

	samples := map[training.Split]int{
		training.SplitTrain: cfg.TrainSamples,
		training.SplitVal:   cfg.ValSamples,
		training.SplitTest:  cfg.TestSamples,
	}
	loaders := make(map[training.Split]training.Loader, len(samples))
	for _, split := range training.Splits {
		var ds Dataset = NewSyntheticDataset(SyntheticConfig{
			Split:      string(split),
			Samples:    samples[split],
			Size:       cfg.ImageSize,
			NumClasses: cfg.NumClasses,
			Seed:       cfg.DatasetSeed,
		})
		// Evaluation splits are read in full every epoch.
		if split != training.SplitTrain {
			cached, err := NewCachedDataset(ds, DefaultCacheSize)
			if err != nil {
				return nil, err
			}
			ds = cached
		}
		loaders[split] = NewDataLoader(ds, cfg.BatchSize, split == training.SplitTrain, cfg.RandomSeed)
	}

	model := NewConvHead(Channels, cfg.NumClasses, cfg.RandomSeed)

	var opt Optimizer
	switch cfg.Optimizer {
	case config.OptimizerAdam:
		adam := DefaultAdamConfig()
		adam.LearningRate = cfg.LRInit
		adam.WeightDecay = cfg.LRWeightDecay
		opt = NewAdam(adam, model.Parameters())
	case config.OptimizerSGD:
		opt = NewSGD(SGDConfig{
			LearningRate: cfg.LRInit,
			Momentum:     cfg.LRMomentum,
			WeightDecay:  cfg.LRWeightDecay,
		}, model.Parameters())
	default:
		return nil, errors.Errorf("unknown optimizer %q", cfg.Optimizer)
	}

	scheduler, err := training.NewScheduler(cfg)
	if err != nil {
		return nil, err
	}

	var progress io.Writer
	if cfg.Progress {
		progress = f.Progress
		if progress == nil {
			progress = os.Stderr
		}
	}

	return &training.Components{
		Loaders:   loaders,
		Model:     model,
		Loss:      NewCrossEntropyLoss(),
		Optimizer: opt,
		Scheduler: scheduler,
		Learner: NewLearner(LearnerConfig{
			Workers:    cfg.Workers,
			SaveImages: cfg.SaveImages,
			Progress:   progress,
		}),
	}, nil
}
