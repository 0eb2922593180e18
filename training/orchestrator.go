package training

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/config"
	"github.com/tsawler/segtrain/metrics"
)

// Files written into the run directory.
const (
	EpochLogFileName    = "log_epoch.csv"
	CheckpointFileName  = "checkpoint.pth.tar"
	BestWeightsFileName = "best_weights.pth.tar"
	ImagesDirName       = "images"
)

const plotPublishTimeout = 10 * time.Second

// Orchestrator drives one run: setup, optional resume, then either a single
// prediction pass or the epoch loop followed by a final evaluation.
type Orchestrator struct {
	cfg     config.RunConfig
	factory Factory
	log     *logrus.Entry
	runID   string

	components  *Components
	saver       *checkpoints.CheckpointSaver
	epochLog    *EpochLog
	telemetry   *Telemetry
	progression *ProgressionWriter
	mirror      checkpoints.Mirror

	history    *metrics.History
	best       metrics.BestScore
	startEpoch int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the entry the orchestrator logs through.
func WithLogger(log *logrus.Entry) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithMirror replaces the mirror derived from the storage configuration.
func WithMirror(m checkpoints.Mirror) Option {
	return func(o *Orchestrator) {
		o.mirror = m
	}
}

// NewOrchestrator creates an orchestrator for cfg. Nothing is built or
// touched on disk until Initialize.
func NewOrchestrator(cfg config.RunConfig, factory Factory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		factory: factory,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		runID:   uuid.New().String(),
		history: metrics.NewHistory(),
		best:    metrics.NoBest(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithFields(logrus.Fields{
		"experiment": cfg.ExperimentName,
		"run_id":     o.runID,
	})
	return o
}

// RunDir returns the directory holding the run's artifacts.
func (o *Orchestrator) RunDir() string { return o.cfg.RunDir() }

// LogPath returns the path of the epoch log.
func (o *Orchestrator) LogPath() string { return filepath.Join(o.RunDir(), EpochLogFileName) }

// CheckpointPath returns the path of the rolling checkpoint.
func (o *Orchestrator) CheckpointPath() string {
	return filepath.Join(o.RunDir(), CheckpointFileName)
}

// BestPath returns the path of the best checkpoint.
func (o *Orchestrator) BestPath() string { return filepath.Join(o.RunDir(), BestWeightsFileName) }

// ImagesDir returns the directory renderings of split go to.
func (o *Orchestrator) ImagesDir(split Split) string {
	return filepath.Join(o.RunDir(), ImagesDirName, string(split))
}

// History returns a copy of the metrics recorded so far.
func (o *Orchestrator) History() *metrics.History { return o.history.Clone() }

// Best returns the best validation mIoU so far.
func (o *Orchestrator) Best() metrics.BestScore { return o.best }

// StartEpoch returns the first epoch the loop will run.
func (o *Orchestrator) StartEpoch() int { return o.startEpoch }

// Components returns the collaborators built by Initialize.
func (o *Orchestrator) Components() *Components { return o.components }

// Initialize validates the configuration, builds the collaborators and
// creates the run directories. It is safe to call on an existing run
// directory.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	const op = "initialize"
	if err := o.cfg.Check(); err != nil {
		return configError(op, err)
	}
	format, err := checkpoints.ParseFormat(o.cfg.CheckpointFormat)
	if err != nil {
		return configError(op, err)
	}
	o.saver = checkpoints.NewCheckpointSaver(format)

	components, err := o.factory.Build(o.cfg)
	if err != nil {
		return configError(op, errors.Wrap(err, "failed to build components"))
	}
	if err := checkComponents(components); err != nil {
		return configError(op, err)
	}
	o.components = components

	for _, dir := range []string{o.RunDir(), o.ImagesDir(SplitVal), o.ImagesDir(SplitTest)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ioError(op, errors.Wrapf(err, "failed to create %s", dir))
		}
	}

	o.telemetry = NewTelemetry(o.cfg.ExperimentName, o.cfg.Telemetry.Textfile)
	o.progression = NewProgressionWriter(o.RunDir(), o.cfg.Epochs)
	if o.mirror == nil {
		o.mirror = checkpoints.NopMirror{}
		if o.cfg.Storage.Enabled() {
			prefix := path.Join(o.cfg.Storage.S3Prefix, o.cfg.ExperimentName)
			m, err := checkpoints.NewS3Mirror(o.cfg.Storage.S3Region, o.cfg.Storage.S3Bucket, prefix)
			if err != nil {
				return configError(op, err)
			}
			o.mirror = m
		}
	}

	o.log.WithFields(logrus.Fields{
		"run_dir":   o.RunDir(),
		"format":    format.String(),
		"scheduler": components.Scheduler.GetName(),
		"loss":      components.Loss.Name(),
	}).Info("run initialized")
	return nil
}

func checkComponents(c *Components) error {
	if c == nil {
		return errors.New("factory returned no components")
	}
	for _, split := range Splits {
		if l, ok := c.Loaders[split]; !ok || l == nil {
			return errors.Errorf("no loader for split %q", split)
		}
	}
	switch {
	case c.Model == nil:
		return errors.New("no model")
	case c.Loss == nil:
		return errors.New("no loss")
	case c.Optimizer == nil:
		return errors.New("no optimizer")
	case c.Scheduler == nil:
		return errors.New("no scheduler")
	case c.Learner == nil:
		return errors.New("no learner")
	}
	return nil
}

// SeedDeterminism seeds every collaborator with the configured seed and
// switches them to deterministic execution.
func (o *Orchestrator) SeedDeterminism() bool {
	c := o.components
	targets := []interface{}{c.Model, c.Loss, c.Optimizer, c.Scheduler, c.Learner}
	for _, split := range Splits {
		targets = append(targets, c.Loaders[split])
	}
	return SeedDeterminism(o.log, o.cfg.RandomSeed, targets...)
}

// Resume restores model, optimizer, history and best score from a full
// checkpoint. The loop then continues at the epoch after the checkpoint's.
func (o *Orchestrator) Resume(path string) error {
	const op = "resume"
	o.log.Infof("Resuming training from %s.", path)

	ckpt, err := o.saver.LoadCheckpoint(path)
	if err != nil {
		return resumeError(op, err)
	}
	if err := ckpt.Validate(checkpoints.KindFull); err != nil {
		return resumeError(op, errors.Wrapf(err, "invalid checkpoint %s", path))
	}
	if ckpt.OptimizerState == nil {
		return resumeError(op, errors.Errorf("checkpoint %s has no optimizer state", path))
	}
	if err := o.components.Model.LoadStateDict(ckpt.Weights, true); err != nil {
		return resumeError(op, errors.Wrap(err, "failed to restore model weights"))
	}
	if err := o.components.Optimizer.LoadState(*ckpt.OptimizerState); err != nil {
		return resumeError(op, errors.Wrap(err, "failed to restore optimizer state"))
	}

	o.history = ckpt.Metrics.Clone()
	o.best = ckpt.TrainingState.Best
	o.startEpoch = ckpt.Epoch + 1
	if o.history.Len() != o.startEpoch {
		o.log.Warnf("checkpoint at epoch %d carries %d epochs of metrics", ckpt.Epoch, o.history.Len())
	}
	fields := logrus.Fields{
		"start_epoch": o.startEpoch,
		"best_miou":   o.best.Value,
		"best_epoch":  o.best.Epoch,
	}
	if n := o.history.Len(); n > 0 {
		last := o.history.At(n - 1)
		fields["last_val_loss"] = last.ValLoss
		fields["last_miou"] = last.MIoU
	}
	o.log.WithFields(fields).Info("checkpoint restored")
	return nil
}

// PredictOnly evaluates the best checkpoint on the test split. It changes no
// run state and writes no log or checkpoint.
func (o *Orchestrator) PredictOnly(ctx context.Context) (EvalResult, error) {
	const op = "predict"
	ckpt, err := o.loadWeights(o.BestPath(), checkpoints.KindBest)
	if err != nil {
		return EvalResult{}, resumeError(op, err)
	}
	o.log.Infof("Loaded model weights (epoch %d) from %s", ckpt.Epoch, o.BestPath())
	return o.evaluateTest(ctx, op)
}

// RunEpochLoop runs epochs [start, end) one after the other. Every artifact of
// an epoch is written before the next epoch starts.
func (o *Orchestrator) RunEpochLoop(ctx context.Context, start, end int) error {
	if o.epochLog == nil {
		l, err := OpenEpochLog(o.LogPath())
		if err != nil {
			return ioError("open log", err)
		}
		o.epochLog = l
	}

	since := time.Now()
	for epoch := start; epoch < end; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runEpoch(ctx, epoch, end); err != nil {
			return err
		}
	}
	elapsed := time.Since(since)
	o.log.Infof("Training complete in %.0fm %.0fs", elapsed.Truncate(time.Minute).Minutes(),
		(elapsed % time.Minute).Seconds())
	if o.best.Found() {
		o.log.Infof("Best val mIoU: %.4f at epoch %d", o.best.Value, o.best.Epoch)
	} else {
		o.log.Warn("no epoch improved on the initial mIoU")
	}

	c := o.components
	plots := append(LearningCurves(o.history, o.cfg.ExperimentName),
		LearningRatePlot(c.Scheduler, o.cfg.LRInit, o.cfg.Epochs, o.cfg.ExperimentName))
	if err := WritePlots(filepath.Join(o.RunDir(), LearningCurvesFileName), plots); err != nil {
		return ioError("learning curves", err)
	}
	o.publishPlots(ctx, plots)
	return nil
}

// publishPlots posts plots to the configured plotting service. The service is
// optional, so failures are only logged.
func (o *Orchestrator) publishPlots(ctx context.Context, plots []PlotData) {
	if o.cfg.Telemetry.PlotURL == "" {
		return
	}
	publisher := NewPlotPublisher(o.cfg.Telemetry.PlotURL, plotPublishTimeout)
	if err := publisher.CheckHealth(ctx); err != nil {
		o.log.WithError(err).Warn("plotting service unavailable, not publishing plots")
		return
	}
	for _, plot := range plots {
		resp, err := publisher.Send(ctx, plot)
		if err != nil {
			o.log.WithError(err).Warnf("failed to publish %s plot", plot.PlotType)
			continue
		}
		o.log.WithField("view_url", resp.ViewURL).Debugf("published %s plot", plot.PlotType)
	}
}

func (o *Orchestrator) runEpoch(ctx context.Context, epoch, end int) error {
	c := o.components
	started := time.Now()
	log := o.log.WithField("epoch", epoch)

	log.Debug("--- Training ---")
	train, err := c.Learner.TrainEpoch(ctx, TrainStep{
		Loader:    c.Loaders[SplitTrain],
		Model:     c.Model,
		Loss:      c.Loss,
		Optimizer: c.Optimizer,
		Scheduler: c.Scheduler,
		BaseLR:    o.cfg.LRInit,
		Epoch:     epoch,
	})
	if err != nil {
		return errors.Wrapf(err, "training epoch %d failed", epoch)
	}
	log.Infof("Epoch %d train loss: %.4f, acc: %.4f", epoch, train.Loss, train.Acc)

	log.Debug("--- Validation ---")
	val, err := c.Learner.ValidateEpoch(ctx, ValidateStep{
		Loader: c.Loaders[SplitVal],
		Model:  c.Model,
		Loss:   c.Loss,
		Epoch:  epoch,
		Mode:   SplitVal,
		Folder: o.RunDir(),
	})
	if err != nil {
		return errors.Wrapf(err, "validating epoch %d failed", epoch)
	}
	log.Infof("Epoch %d val loss: %.4f, acc: %.4f, miou: %.4f", epoch, val.Loss, val.Acc, val.MIoU)

	record := metrics.Epoch{
		Index:     epoch,
		TrainLoss: train.Loss,
		TrainAcc:  train.Acc,
		ValLoss:   val.Loss,
		ValAcc:    val.Acc,
		MIoU:      val.MIoU,
	}
	o.history.Append(record)

	if err := o.epochLog.Append(record); err != nil {
		return ioError("log", err)
	}

	// Observed before the rolling save so the checkpoint carries this epoch's
	// best; if the best write below fails, the rolling checkpoint already
	// names an epoch whose best weights were never written.
	previous := o.best
	improved := o.best.Observe(val.MIoU, epoch)

	ckpt := o.snapshot(epoch)
	if err := o.saver.SaveCheckpoint(ckpt, o.CheckpointPath()); err != nil {
		return ioError("checkpoint", err)
	}
	o.telemetry.CheckpointWritten(checkpoints.KindFull)
	written := []string{o.LogPath(), o.CheckpointPath()}

	if improved {
		log.Infof("mIoU improved from %.4f to %.4f.", previous.Value, val.MIoU)
		if err := o.saver.SaveCheckpoint(ckpt.Reduced(), o.BestPath()); err != nil {
			return ioError("best checkpoint", err)
		}
		o.telemetry.CheckpointWritten(checkpoints.KindBest)
		written = append(written, o.BestPath())
	}

	lr := c.Optimizer.LR()
	if err := o.progression.Write(record, lr, o.best); err != nil {
		return ioError("progression", err)
	}
	o.telemetry.ObserveEpoch(record, lr, time.Since(started), o.best)
	if err := o.telemetry.Flush(); err != nil {
		return ioError("telemetry", err)
	}
	for _, p := range written {
		if err := o.mirror.Mirror(ctx, p); err != nil {
			return ioError("mirror", err)
		}
	}
	log.Debugf("epoch %d of %d done in %s", epoch+1, end, time.Since(started).Round(time.Millisecond))
	return nil
}

func (o *Orchestrator) snapshot(epoch int) *checkpoints.Checkpoint {
	c := o.components
	state := c.Optimizer.State()
	return &checkpoints.Checkpoint{
		Kind:           checkpoints.KindFull,
		Epoch:          epoch,
		Weights:        c.Model.StateDict(),
		OptimizerState: &state,
		TrainingState: &checkpoints.TrainingState{
			LearningRate: c.Optimizer.LR(),
			Best:         o.best,
		},
		Metrics: o.history.Clone(),
		Metadata: checkpoints.CheckpointMetadata{
			RunID:      o.runID,
			Experiment: o.cfg.ExperimentName,
		},
	}
}

// FinalEvaluation reloads the best weights and evaluates them on the test
// split. When no epoch ever improved on the initial score there is no best
// checkpoint and the rolling checkpoint is used instead.
func (o *Orchestrator) FinalEvaluation(ctx context.Context) (EvalResult, error) {
	const op = "final evaluation"
	ckpt, err := o.loadWeights(o.BestPath(), checkpoints.KindBest)
	switch {
	case err == nil:
		o.log.Infof("Loaded best model weights (epoch %d) from %s", ckpt.Epoch, o.BestPath())
	case errors.Is(err, os.ErrNotExist):
		o.log.Warnf("no best checkpoint at %s, no epoch improved mIoU; evaluating %s instead",
			o.BestPath(), o.CheckpointPath())
		ckpt, err = o.loadWeights(o.CheckpointPath(), checkpoints.KindFull)
		if err != nil {
			return EvalResult{}, resumeError(op, errors.Wrap(err, "no checkpoint to evaluate"))
		}
		o.log.Infof("Loaded last model weights (epoch %d) from %s", ckpt.Epoch, o.CheckpointPath())
	default:
		return EvalResult{}, resumeError(op, err)
	}
	return o.evaluateTest(ctx, op)
}

func (o *Orchestrator) loadWeights(path string, kind checkpoints.Kind) (*checkpoints.Checkpoint, error) {
	ckpt, err := o.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := ckpt.Validate(kind); err != nil {
		return nil, errors.Wrapf(err, "invalid checkpoint %s", path)
	}
	if err := o.components.Model.LoadStateDict(ckpt.Weights, true); err != nil {
		return nil, errors.Wrapf(err, "failed to restore model weights from %s", path)
	}
	return ckpt, nil
}

func (o *Orchestrator) evaluateTest(ctx context.Context, op string) (EvalResult, error) {
	c := o.components
	o.log.Debug("--- Test ---")
	result, err := c.Learner.ValidateEpoch(ctx, ValidateStep{
		Loader: c.Loaders[SplitTest],
		Model:  c.Model,
		Loss:   c.Loss,
		Epoch:  0,
		Mode:   SplitTest,
		Folder: o.RunDir(),
	})
	if err != nil {
		return EvalResult{}, errors.Wrapf(err, "%s failed", op)
	}
	o.log.WithFields(logrus.Fields{
		"test_loss": result.Loss,
		"test_acc":  result.Acc,
		"test_miou": result.MIoU,
	}).Info("test evaluation complete")
	o.logCacheStats()
	return result, nil
}

func (o *Orchestrator) logCacheStats() {
	for _, split := range []Split{SplitVal, SplitTest} {
		r, ok := o.components.Loaders[split].(CacheReporter)
		if !ok {
			continue
		}
		if stats := r.CacheStats(); stats != "" {
			o.log.WithField("split", split).Info(stats)
		}
	}
}

// Run executes the whole run and returns the test-split result. It
// initializes the orchestrator unless Initialize was already called.
func (o *Orchestrator) Run(ctx context.Context) (EvalResult, error) {
	if o.components == nil {
		if err := o.Initialize(ctx); err != nil {
			return EvalResult{}, err
		}
	}
	defer o.Close()

	if o.cfg.Seed {
		o.SeedDeterminism()
	}
	if o.cfg.Weights != "" {
		if err := o.Resume(o.cfg.Weights); err != nil {
			return EvalResult{}, err
		}
	}
	if o.cfg.Predict {
		return o.PredictOnly(ctx)
	}
	if err := o.RunEpochLoop(ctx, o.startEpoch, o.cfg.Epochs); err != nil {
		return EvalResult{}, err
	}
	return o.FinalEvaluation(ctx)
}

// Close releases the epoch log.
func (o *Orchestrator) Close() error {
	if o.epochLog == nil {
		return nil
	}
	err := o.epochLog.Close()
	o.epochLog = nil
	return err
}
