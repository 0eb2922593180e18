// Package config defines the run configuration of a segmentation training run.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/logger"
)

// SyntheticDataset is the only dataset path the bundled collaborators understand.
const SyntheticDataset = "synthetic"

// Names generated for unnamed experiments are two words joined by a dash.
const (
	experimentNameWords = 2
	experimentNameSep   = "-"
)

// Optimizer names.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// Scheduler names.
const (
	SchedulerCosine      = "cosine"
	SchedulerStep        = "step"
	SchedulerExponential = "exponential"
	SchedulerConstant    = "constant"
)

// RunConfig is the configuration of one training run. It is built once at
// startup and only read afterwards.
type RunConfig struct {
	ConfigFile string `json:"config_file"`

	DatasetPath    string `json:"dataset_path"`
	SavePath       string `json:"save_path"`
	ExperimentName string `json:"experiment_name"`

	Seed       bool  `json:"seed"`
	RandomSeed int64 `json:"random_seed"`

	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`
	Workers   int `json:"workers"`

	Optimizer     string  `json:"optimizer"`
	LRInit        float64 `json:"lr_init"`
	LRMomentum    float64 `json:"lr_momentum"`
	LRWeightDecay float64 `json:"lr_weight_decay"`
	Scheduler     string  `json:"scheduler"`
	ScheduleSteps int     `json:"schedule_steps"`
	LRGamma       float64 `json:"lr_gamma"`

	Weights          string `json:"weights"`
	Predict          bool   `json:"predict"`
	CheckpointFormat string `json:"checkpoint_format"`

	NumClasses   int   `json:"num_classes"`
	ImageSize    int   `json:"image_size"`
	TrainSamples int   `json:"train_samples"`
	ValSamples   int   `json:"val_samples"`
	TestSamples  int   `json:"test_samples"`
	DatasetSeed  int64 `json:"dataset_seed"`
	SaveImages   int   `json:"save_images"`
	Progress     bool  `json:"progress"`

	Log       logger.Config   `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Storage   StorageConfig   `json:"storage"`
}

// TelemetryConfig configures the Prometheus textfile export and the optional
// plotting service the learning curves are posted to.
type TelemetryConfig struct {
	Textfile string `json:"textfile"`
	PlotURL  string `json:"plot_url"`
}

// StorageConfig configures mirroring of run artifacts to S3.
type StorageConfig struct {
	S3Bucket string `json:"s3_bucket"`
	S3Prefix string `json:"s3_prefix"`
	S3Region string `json:"s3_region"`
}

// Enabled reports whether artifacts are mirrored.
func (s StorageConfig) Enabled() bool {
	return s.S3Bucket != ""
}

// DefaultConfig returns the default configuration of a run.
func DefaultConfig() *RunConfig {
	return &RunConfig{
		DatasetPath:      SyntheticDataset,
		SavePath:         "runs",
		RandomSeed:       42,
		Epochs:           20,
		BatchSize:        8,
		Workers:          4,
		Optimizer:        OptimizerAdam,
		LRInit:           1e-3,
		LRMomentum:       0.9,
		LRWeightDecay:    1e-4,
		Scheduler:        SchedulerCosine,
		ScheduleSteps:    10,
		LRGamma:          0.5,
		CheckpointFormat: "json",
		NumClasses:       4,
		ImageSize:        32,
		TrainSamples:     64,
		ValSamples:       16,
		TestSamples:      16,
		DatasetSeed:      1,
		SaveImages:       4,
		Progress:         true,
		Log:              *logger.DefaultConfig(),
		Storage: StorageConfig{
			S3Region: "us-east-1",
		},
	}
}

// UnmarshalJSON fills unspecified fields with their defaults and rejects
// unknown fields.
func (c *RunConfig) UnmarshalJSON(data []byte) error {
	*c = *DefaultConfig()
	type DefaultParser *RunConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(DefaultParser(c))
}

// Resolve fills in values derived at startup. An empty experiment name is
// replaced with a generated one.
func (c *RunConfig) Resolve() {
	if c.ExperimentName == "" {
		c.ExperimentName = petname.Generate(experimentNameWords, experimentNameSep)
	}
}

// RunDir is the directory holding every artifact of the run.
func (c RunConfig) RunDir() string {
	return filepath.Join(c.SavePath, c.ExperimentName)
}

// Printable returns the configuration as JSON for logging.
func (c RunConfig) Printable() ([]byte, error) {
	optJSON, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}

// Validate returns every problem with the configuration.
func (c RunConfig) Validate() []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DatasetPath == "" {
		add("dataset_path must be set")
	}
	if c.SavePath == "" {
		add("save_path must be set")
	}
	switch name := c.ExperimentName; {
	case name == "":
		add("experiment_name must be set")
	case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
		add("experiment_name %q must be a single path element", name)
	}

	if c.Epochs <= 0 {
		add("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		add("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		add("workers must not be negative, got %d", c.Workers)
	}

	switch c.Optimizer {
	case OptimizerAdam, OptimizerSGD:
	default:
		add("unknown optimizer %q (want %s or %s)", c.Optimizer, OptimizerAdam, OptimizerSGD)
	}
	if c.LRInit <= 0 {
		add("lr_init must be positive, got %g", c.LRInit)
	}
	if c.LRMomentum < 0 || c.LRMomentum >= 1 {
		add("lr_momentum must be in [0, 1), got %g", c.LRMomentum)
	}
	if c.LRWeightDecay < 0 {
		add("lr_weight_decay must not be negative, got %g", c.LRWeightDecay)
	}

	switch c.Scheduler {
	case SchedulerCosine, SchedulerConstant:
	case SchedulerStep:
		if c.ScheduleSteps <= 0 {
			add("schedule_steps must be positive for the step scheduler, got %d", c.ScheduleSteps)
		}
		if c.LRGamma <= 0 || c.LRGamma > 1 {
			add("lr_gamma must be in (0, 1], got %g", c.LRGamma)
		}
	case SchedulerExponential:
		if c.LRGamma <= 0 || c.LRGamma > 1 {
			add("lr_gamma must be in (0, 1], got %g", c.LRGamma)
		}
	default:
		add("unknown scheduler %q", c.Scheduler)
	}

	switch c.CheckpointFormat {
	case "json", "proto", "protobuf", "":
	default:
		add("unknown checkpoint_format %q (want json or proto)", c.CheckpointFormat)
	}

	if c.NumClasses < 2 || c.NumClasses > 255 {
		add("num_classes must be in [2, 255], got %d", c.NumClasses)
	}
	if c.ImageSize < 3 {
		add("image_size must be at least 3, got %d", c.ImageSize)
	}
	if c.TrainSamples <= 0 || c.ValSamples <= 0 || c.TestSamples <= 0 {
		add("train_samples, val_samples and test_samples must be positive")
	}
	if c.SaveImages < 0 {
		add("save_images must not be negative, got %d", c.SaveImages)
	}

	for _, err := range c.Log.Validate() {
		errs = append(errs, errors.Wrap(err, "log"))
	}
	if c.Storage.Enabled() && c.Storage.S3Region == "" {
		add("storage.s3_region must be set when storage.s3_bucket is")
	}
	return errs
}

// Check folds the result of Validate into a single error.
func (c RunConfig) Check() error {
	var merr *multierror.Error
	for _, err := range c.Validate() {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
