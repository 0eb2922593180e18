package segmentation

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/segtrain/training"
)

// LearnerConfig configures a Learner.
type LearnerConfig struct {
	// Workers bounds the number of samples processed concurrently.
	Workers int
	// SaveImages is the number of samples rendered per evaluation pass.
	SaveImages int
	// Progress receives a progress bar per epoch; nil disables it.
	Progress io.Writer
}

// Learner runs training and evaluation epochs of a ConvHead.
type Learner struct {
	cfg LearnerConfig

	mu            sync.Mutex
	deterministic bool
}

// NewLearner creates a Learner.
func NewLearner(cfg LearnerConfig) *Learner {
	return &Learner{cfg: cfg}
}

// SetDeterministic processes one sample at a time when on.
func (l *Learner) SetDeterministic(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deterministic = on
}

func (l *Learner) workers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deterministic || l.cfg.Workers <= 1 {
		return 1
	}
	return l.cfg.Workers
}

type sampleResult struct {
	loss  float64
	valid int
	grads [][]float32
	pred  []uint8
}

// run evaluates every sample on its own goroutine, bounded by workers. The
// results keep the order of samples.
func (l *Learner) run(ctx context.Context, model *ConvHead, loss *CrossEntropyLoss, samples []Sample, withGrad bool) ([]sampleResult, error) {
	results := make([]sampleResult, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers())
	for i := range samples {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := samples[i]
			logits := model.Forward(s.Image, s.Size)
			sum, valid, dLogits := loss.Forward(logits, s.Mask, model.NumClasses())
			r := sampleResult{
				loss:  sum,
				valid: valid,
				pred:  Predict(logits, model.NumClasses(), s.Size),
			}
			if withGrad {
				r.grads = model.Backward(s.Image, s.Size, dLogits)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func unpack(loader training.Loader, model training.Model, loss training.Loss) (*DataLoader, *ConvHead, *CrossEntropyLoss, error) {
	dl, ok := loader.(*DataLoader)
	if !ok {
		return nil, nil, nil, errors.Errorf("unsupported loader %T", loader)
	}
	m, ok := model.(*ConvHead)
	if !ok {
		return nil, nil, nil, errors.Errorf("unsupported model %T", model)
	}
	ce, ok := loss.(*CrossEntropyLoss)
	if !ok {
		return nil, nil, nil, errors.Errorf("unsupported loss %T", loss)
	}
	return dl, m, ce, nil
}

func countCorrect(pred, mask []uint8) int64 {
	var n int64
	for i, label := range mask {
		if label != VoidLabel && pred[i] == label {
			n++
		}
	}
	return n
}

func ratio(num float64, den int64) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}

// TrainEpoch sets the scheduled learning rate and runs one pass over the
// training split, stepping the optimizer after every batch.
func (l *Learner) TrainEpoch(ctx context.Context, step training.TrainStep) (training.TrainResult, error) {
	dl, model, loss, err := unpack(step.Loader, step.Model, step.Loss)
	if err != nil {
		return training.TrainResult{}, err
	}
	opt, ok := step.Optimizer.(Optimizer)
	if !ok {
		return training.TrainResult{}, errors.Errorf("unsupported optimizer %T", step.Optimizer)
	}
	opt.SetLR(step.Scheduler.GetLR(step.Epoch, 0, step.BaseLR))

	batches := dl.Batches()
	var bar *training.ProgressBar
	if l.cfg.Progress != nil {
		bar = training.NewProgressBar(l.cfg.Progress, fmt.Sprintf("Epoch %d (train)", step.Epoch), len(batches))
	}

	var (
		totalLoss  float64
		totalValid int64
		correct    int64
	)
	for b, indices := range batches {
		if err := ctx.Err(); err != nil {
			return training.TrainResult{}, err
		}
		samples, err := dl.Load(indices)
		if err != nil {
			return training.TrainResult{}, err
		}
		results, err := l.run(ctx, model, loss, samples, true)
		if err != nil {
			return training.TrainResult{}, err
		}

		params := model.Parameters()
		grads := zerosLike(params)
		batchValid := 0
		for i, r := range results {
			for p := range grads {
				for j, v := range r.grads[p] {
					grads[p][j] += v
				}
			}
			totalLoss += r.loss
			batchValid += r.valid
			correct += countCorrect(r.pred, samples[i].Mask)
		}
		if batchValid > 0 {
			scale := 1 / float32(batchValid)
			for p := range grads {
				for j := range grads[p] {
					grads[p][j] *= scale
				}
			}
			if err := opt.Step(params, grads); err != nil {
				return training.TrainResult{}, errors.Wrap(err, "optimizer step failed")
			}
		}
		totalValid += int64(batchValid)

		if bar != nil {
			bar.Update(b+1, map[string]float64{
				"loss": ratio(totalLoss, totalValid),
				"acc":  ratio(float64(correct), totalValid),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	return training.TrainResult{
		Loss: ratio(totalLoss, totalValid),
		Acc:  ratio(float64(correct), totalValid),
	}, nil
}

// ValidateEpoch scores the model on one split and renders the first samples
// under Folder/images/<mode>.
func (l *Learner) ValidateEpoch(ctx context.Context, step training.ValidateStep) (training.EvalResult, error) {
	dl, model, loss, err := unpack(step.Loader, step.Model, step.Loss)
	if err != nil {
		return training.EvalResult{}, err
	}

	batches := dl.Batches()
	var bar *training.ProgressBar
	if l.cfg.Progress != nil {
		bar = training.NewProgressBar(l.cfg.Progress, fmt.Sprintf("Epoch %d (%s)", step.Epoch, step.Mode), len(batches))
	}

	cm := NewConfusionMatrix(model.NumClasses())
	imagesDir := filepath.Join(step.Folder, training.ImagesDirName, string(step.Mode))
	var (
		totalLoss  float64
		totalValid int64
		saved      int
	)
	for b, indices := range batches {
		if err := ctx.Err(); err != nil {
			return training.EvalResult{}, err
		}
		samples, err := dl.Load(indices)
		if err != nil {
			return training.EvalResult{}, err
		}
		results, err := l.run(ctx, model, loss, samples, false)
		if err != nil {
			return training.EvalResult{}, err
		}
		for i, r := range results {
			totalLoss += r.loss
			totalValid += int64(r.valid)
			if err := cm.Update(r.pred, samples[i].Mask); err != nil {
				return training.EvalResult{}, err
			}
			if step.Folder != "" && saved < l.cfg.SaveImages {
				name := fmt.Sprintf("epoch%03d_%04d.png", step.Epoch, samples[i].Index)
				if step.Mode == training.SplitTest {
					name = fmt.Sprintf("%04d.png", samples[i].Index)
				}
				if err := SavePNG(filepath.Join(imagesDir, name), RenderTriptych(samples[i], r.pred)); err != nil {
					return training.EvalResult{}, err
				}
				saved++
			}
		}
		if bar != nil {
			bar.Update(b+1, map[string]float64{"loss": ratio(totalLoss, totalValid)})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	return training.EvalResult{
		Acc:  cm.PixelAccuracy(),
		Loss: ratio(totalLoss, totalValid),
		MIoU: cm.MeanIoU(),
	}, nil
}
