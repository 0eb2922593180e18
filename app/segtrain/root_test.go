package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/segtrain/config"
)

func TestDefaultConfiguration(t *testing.T) {
	cfg, err := getConfig(v.AllSettings())
	require.NoError(t, err)

	expected := config.DefaultConfig()
	expected.ExperimentName = cfg.ExperimentName
	assert.Equal(t, expected, cfg)
	assert.NotEmpty(t, cfg.ExperimentName)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("SEGTRAIN_EPOCHS", "7")
	t.Setenv("SEGTRAIN_LR_INIT", "0.01")
	t.Setenv("SEGTRAIN_LOG_LEVEL", "debug")

	cfg, err := getConfig(v.AllSettings())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Epochs)
	assert.Equal(t, 0.01, cfg.LRInit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestUnknownFieldIsRejected(t *testing.T) {
	_, err := getConfig(map[string]interface{}{"epoch": 3})
	assert.Error(t, err)
}

func TestReadConfigFile(t *testing.T) {
	bs, err := readConfigFile("")
	require.NoError(t, err)
	assert.Nil(t, bs)

	_, err = readConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 3\n"), 0o600))
	bs, err = readConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "epochs: 3\n", string(bs))
}

// Merging mutates the shared viper instance, so this runs last.
func TestUnmarshalConfigurationViaViper(t *testing.T) {
	raw := `
experiment_name: voc-baseline
epochs: 12
optimizer: sgd
lr_momentum: 0.8
log:
  level: warn
storage:
  s3_bucket: models
  s3_prefix: segtrain
`
	require.NoError(t, mergeConfigBytesIntoViper([]byte(raw)))
	cfg, err := getConfig(v.AllSettings())
	require.NoError(t, err)

	expected := config.DefaultConfig()
	expected.ExperimentName = "voc-baseline"
	expected.Epochs = 12
	expected.Optimizer = config.OptimizerSGD
	expected.LRMomentum = 0.8
	expected.Log.Level = "warn"
	expected.Storage.S3Bucket = "models"
	expected.Storage.S3Prefix = "segtrain"
	assert.Equal(t, expected, cfg)
	assert.NoError(t, cfg.Check())
}
