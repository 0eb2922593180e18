package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tsawler/segtrain/config"
)

var v *viper.Viper

// viperKeyDelimiter marks nested values in the configuration, so that
// log..level is stored as { log { level } }. A single dot is avoided so that
// keys may contain dots.
const viperKeyDelimiter = ".."

//nolint:gochecknoinit
func init() {
	rootCmd.Version = version
	registerConfig()
}

type configKey []string

func (c configKey) EnvName() string {
	return "SEGTRAIN_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func bind(flags *pflag.FlagSet, name configKey, value interface{}) {
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerString(flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerBool(flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerInt(flags *pflag.FlagSet, name configKey, value int, usage string) {
	flags.Int(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerInt64(flags *pflag.FlagSet, name configKey, value int64, usage string) {
	flags.Int64(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerFloat64(flags *pflag.FlagSet, name configKey, value float64, usage string) {
	flags.Float64(name.FlagName(), value, usage)
	bind(flags, name, value)
}

func registerConfig() {
	v = viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()

	flags := rootCmd.Flags()
	name := func(components ...string) configKey { return components }

	registerString(flags, name("config-file"),
		defaults.ConfigFile, "location of a YAML or JSON config file")

	registerString(flags, name("dataset-path"),
		defaults.DatasetPath, "dataset to train on")
	registerString(flags, name("save-path"),
		defaults.SavePath, "directory experiments are written under")
	registerString(flags, name("experiment-name"),
		defaults.ExperimentName, "experiment directory name (generated when empty)")

	registerBool(flags, name("seed"),
		defaults.Seed, "seed every random source and run deterministically")
	registerInt64(flags, name("random-seed"),
		defaults.RandomSeed, "seed used for initialization and shuffling")

	registerInt(flags, name("epochs"),
		defaults.Epochs, "total number of epochs")
	registerInt(flags, name("batch-size"),
		defaults.BatchSize, "samples per batch")
	registerInt(flags, name("workers"),
		defaults.Workers, "samples processed concurrently")

	registerString(flags, name("optimizer"),
		defaults.Optimizer, "optimizer, one of [adam, sgd]")
	registerFloat64(flags, name("lr-init"),
		defaults.LRInit, "initial learning rate")
	registerFloat64(flags, name("lr-momentum"),
		defaults.LRMomentum, "SGD momentum")
	registerFloat64(flags, name("lr-weight-decay"),
		defaults.LRWeightDecay, "L2 weight decay")
	registerString(flags, name("scheduler"),
		defaults.Scheduler, "learning rate schedule, one of [cosine, step, exponential, constant]")
	registerInt(flags, name("schedule-steps"),
		defaults.ScheduleSteps, "epochs between step scheduler decays")
	registerFloat64(flags, name("lr-gamma"),
		defaults.LRGamma, "decay factor of the step and exponential schedulers")

	registerString(flags, name("weights"),
		defaults.Weights, "full checkpoint to resume from")
	registerBool(flags, name("predict"),
		defaults.Predict, "evaluate the best checkpoint on the test split and exit")
	registerString(flags, name("checkpoint-format"),
		defaults.CheckpointFormat, "checkpoint encoding, one of [json, proto]")

	registerInt(flags, name("num-classes"),
		defaults.NumClasses, "number of classes, void excluded")
	registerInt(flags, name("image-size"),
		defaults.ImageSize, "side length of the synthetic images")
	registerInt(flags, name("train-samples"),
		defaults.TrainSamples, "synthetic training samples")
	registerInt(flags, name("val-samples"),
		defaults.ValSamples, "synthetic validation samples")
	registerInt(flags, name("test-samples"),
		defaults.TestSamples, "synthetic test samples")
	registerInt64(flags, name("dataset-seed"),
		defaults.DatasetSeed, "seed of the synthetic dataset")
	registerInt(flags, name("save-images"),
		defaults.SaveImages, "renderings saved per evaluation pass")
	registerBool(flags, name("progress"),
		defaults.Progress, "show progress bars")

	registerString(flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")

	registerString(flags, name("telemetry", "textfile"),
		defaults.Telemetry.Textfile, "Prometheus textfile metrics are written to after every epoch")
	registerString(flags, name("telemetry", "plot-url"),
		defaults.Telemetry.PlotURL, "plotting service the learning curves are posted to")

	registerString(flags, name("storage", "s3-bucket"),
		defaults.Storage.S3Bucket, "S3 bucket run artifacts are mirrored to")
	registerString(flags, name("storage", "s3-prefix"),
		defaults.Storage.S3Prefix, "key prefix of mirrored artifacts")
	registerString(flags, name("storage", "s3-region"),
		defaults.Storage.S3Region, "region of the S3 bucket")
}
