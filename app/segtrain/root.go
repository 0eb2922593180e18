package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tsawler/segtrain/config"
	"github.com/tsawler/segtrain/logger"
	"github.com/tsawler/segtrain/segmentation"
	"github.com/tsawler/segtrain/training"
)

var rootCmd = &cobra.Command{
	Use:   "segtrain",
	Short: "Train and evaluate a semantic segmentation model",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runRoot(ctx); err != nil {
			log.Error(fmt.Sprintf("%+v", err))
			os.Exit(1)
		}
	},
}

func runRoot(ctx context.Context) error {
	cfg, err := initializeConfig()
	if err != nil {
		return err
	}
	logger.SetLogrus(cfg.Log)

	printableConfig, err := cfg.Printable()
	if err != nil {
		return err
	}
	log.Infof("run configuration: %s", printableConfig)

	orch := training.NewOrchestrator(*cfg, &segmentation.Factory{})
	if err := orch.Initialize(ctx); err != nil {
		return err
	}
	training.PrintModelSummary(os.Stdout, "ConvHead", orch.Components().Model.StateDict())

	result, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"test_loss": result.Loss,
		"test_acc":  result.Acc,
		"test_miou": result.MIoU,
		"run_dir":   orch.RunDir(),
	}).Info("run finished")
	return nil
}

// initializeConfig returns the validated configuration populated from the
// config file, environment variables and command line flags.
func initializeConfig() (*config.RunConfig, error) {
	// The first pass only locates the config file.
	initialConfig, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(initialConfig.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err = mergeConfigBytesIntoViper(bs); err != nil {
		return nil, err
	}

	cfg, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	if configPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, errors.Wrap(err, "error finding configuration file")
	}
	bs, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "error reading configuration file")
	}
	return bs, nil
}

func mergeConfigBytesIntoViper(bs []byte) error {
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(bs, &configMap); err != nil {
		return errors.Wrap(err, "error unmarshal yaml configuration file")
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return errors.Wrap(err, "error merge configuration to viper")
	}
	return nil
}

func getConfig(configMap map[string]interface{}) (*config.RunConfig, error) {
	cfg := config.DefaultConfig()
	bs, err := json.Marshal(configMap)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	if err = yaml.Unmarshal(bs, cfg, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	cfg.Resolve()
	return cfg, nil
}
