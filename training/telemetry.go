package training

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/metrics"
)

const (
	promNamespace = "segtrain"
	promSubsystem = "run"
)

// Telemetry keeps run gauges on a private registry and optionally writes them
// to a node-exporter textfile after every epoch.
type Telemetry struct {
	registry *prom.Registry
	textfile string

	epoch            prom.Gauge
	learningRate     prom.Gauge
	epochSeconds     prom.Gauge
	bestMIoU         prom.Gauge
	epochMetrics     *prom.GaugeVec
	checkpointWrites *prom.CounterVec
}

// NewTelemetry creates the run gauges. An empty textfile disables Flush.
func NewTelemetry(experiment, textfile string) *Telemetry {
	labels := prom.Labels{"experiment": experiment}
	t := &Telemetry{
		registry: prom.NewRegistry(),
		textfile: textfile,
		epoch: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "epoch",
			Help: "index of the last completed epoch", ConstLabels: labels,
		}),
		learningRate: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "learning_rate",
			Help: "learning rate used by the last completed epoch", ConstLabels: labels,
		}),
		epochSeconds: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "epoch_seconds",
			Help: "wall time of the last completed epoch", ConstLabels: labels,
		}),
		bestMIoU: prom.NewGauge(prom.GaugeOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "best_miou",
			Help: "best validation mIoU so far", ConstLabels: labels,
		}),
		epochMetrics: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "epoch_metric",
			Help: "scalars of the last completed epoch", ConstLabels: labels,
		}, []string{"metric"}),
		checkpointWrites: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace, Subsystem: promSubsystem, Name: "checkpoint_writes_total",
			Help: "checkpoints written by kind", ConstLabels: labels,
		}, []string{"kind"}),
	}
	t.registry.MustRegister(t.epoch, t.learningRate, t.epochSeconds, t.bestMIoU,
		t.epochMetrics, t.checkpointWrites)
	t.bestMIoU.Set(metrics.NoBest().Value)
	return t
}

// Registry exposes the private registry.
func (t *Telemetry) Registry() *prom.Registry {
	return t.registry
}

// ObserveEpoch records a completed epoch.
func (t *Telemetry) ObserveEpoch(e metrics.Epoch, lr float64, took time.Duration, best metrics.BestScore) {
	t.epoch.Set(float64(e.Index))
	t.learningRate.Set(lr)
	t.epochSeconds.Set(took.Seconds())
	t.bestMIoU.Set(best.Value)
	t.epochMetrics.WithLabelValues("train_loss").Set(e.TrainLoss)
	t.epochMetrics.WithLabelValues("train_acc").Set(e.TrainAcc)
	t.epochMetrics.WithLabelValues("val_loss").Set(e.ValLoss)
	t.epochMetrics.WithLabelValues("val_acc").Set(e.ValAcc)
	t.epochMetrics.WithLabelValues("miou").Set(e.MIoU)
}

// CheckpointWritten counts a checkpoint write.
func (t *Telemetry) CheckpointWritten(kind checkpoints.Kind) {
	t.checkpointWrites.WithLabelValues(string(kind)).Inc()
}

// Flush writes the registry to the textfile, if one is configured.
func (t *Telemetry) Flush() error {
	if t.textfile == "" {
		return nil
	}
	if err := prom.WriteToTextfile(t.textfile, t.registry); err != nil {
		return errors.Wrapf(err, "failed to write telemetry textfile %s", t.textfile)
	}
	return nil
}
