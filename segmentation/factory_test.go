package segmentation

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/config"
	"github.com/tsawler/segtrain/training"
)

func smallRunConfig(t *testing.T) config.RunConfig {
	t.Helper()
	cfg := *config.DefaultConfig()
	cfg.SavePath = t.TempDir()
	cfg.ExperimentName = "synthetic-e2e"
	cfg.Epochs = 2
	cfg.BatchSize = 4
	cfg.Workers = 2
	cfg.ImageSize = 8
	cfg.NumClasses = 3
	cfg.TrainSamples = 8
	cfg.ValSamples = 4
	cfg.TestSamples = 4
	cfg.SaveImages = 1
	cfg.LRInit = 0.05
	cfg.Progress = false
	return cfg
}

func TestFactoryBuild(t *testing.T) {
	cfg := smallRunConfig(t)
	c, err := (&Factory{}).Build(cfg)
	require.NoError(t, err)

	require.Len(t, c.Loaders, 3)
	assert.Equal(t, 2, c.Loaders[training.SplitTrain].Len())
	assert.Equal(t, 1, c.Loaders[training.SplitVal].Len())
	assert.IsType(t, &Adam{}, c.Optimizer)
	assert.Equal(t, cfg.LRInit, c.Optimizer.LR())
	assert.Equal(t, "CosineAnnealingLR", c.Scheduler.GetName())
	assert.Equal(t, "CrossEntropyLoss", c.Loss.Name())
	assert.Nil(t, c.Learner.(*Learner).cfg.Progress)

	cfg.Optimizer = config.OptimizerSGD
	cfg.Progress = true
	c, err = (&Factory{Progress: io.Discard}).Build(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SGD{}, c.Optimizer)
	assert.Equal(t, io.Discard, c.Learner.(*Learner).cfg.Progress)
}

func TestFactoryRejectsUnknownInputs(t *testing.T) {
	cfg := smallRunConfig(t)
	cfg.DatasetPath = "/data/voc"
	_, err := (&Factory{}).Build(cfg)
	assert.ErrorContains(t, err, "unsupported dataset_path")

	cfg = smallRunConfig(t)
	cfg.Optimizer = "rmsprop"
	_, err = (&Factory{}).Build(cfg)
	assert.Error(t, err)
}

func newRun(cfg config.RunConfig) *training.Orchestrator {
	logger, _ := test.NewNullLogger()
	return training.NewOrchestrator(cfg, &Factory{}, training.WithLogger(logrus.NewEntry(logger)))
}

func TestSyntheticRunEndToEnd(t *testing.T) {
	cfg := smallRunConfig(t)
	orch := newRun(cfg)

	result, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.MIoU, 0.0)
	assert.LessOrEqual(t, result.MIoU, 1.0)

	assert.Equal(t, 2, orch.History().Len())
	assert.FileExists(t, orch.LogPath())
	assert.FileExists(t, orch.CheckpointPath())
	assert.FileExists(t, orch.BestPath())
	assert.FileExists(t, filepath.Join(orch.ImagesDir(training.SplitVal), "epoch001_0000.png"))
	assert.FileExists(t, filepath.Join(orch.ImagesDir(training.SplitTest), "0000.png"))

	ckpt, err := checkpoints.NewCheckpointSaver(checkpoints.FormatJSON).LoadCheckpoint(orch.CheckpointPath())
	require.NoError(t, err)
	assert.Equal(t, 1, ckpt.Epoch)
	assert.Equal(t, "adam", ckpt.OptimizerState.Type)
}

func TestSyntheticRunResumes(t *testing.T) {
	cfg := smallRunConfig(t)
	first := newRun(cfg)
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	cfg.Epochs = 3
	cfg.Weights = first.CheckpointPath()
	second := newRun(cfg)
	_, err = second.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, second.StartEpoch())
	assert.Equal(t, 3, second.History().Len())
}

func TestSyntheticPredictOnly(t *testing.T) {
	cfg := smallRunConfig(t)
	first := newRun(cfg)
	_, err := first.Run(context.Background())
	require.NoError(t, err)

	cfg.Predict = true
	second := newRun(cfg)
	result, err := second.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.History().Len())
	assert.LessOrEqual(t, result.Acc, 1.0)
}
