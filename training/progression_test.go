package training

import (
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/segtrain/metrics"
)

func TestProgressionWriter(t *testing.T) {
	w := NewProgressionWriter(t.TempDir(), 3)
	fixed := time.Unix(1700000000, 0)
	w.now = func() time.Time { return fixed }

	require.NoError(t, w.Write(metrics.Epoch{Index: 0, MIoU: 0.1}, 0.01, metrics.BestScore{Value: 0.1, Epoch: 0}))

	var p Progression
	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, int64(1), p.CurrentEpoch)
	assert.Equal(t, int64(3), p.TotalEpochs)
	assert.Equal(t, "epoch completed", p.Message)
	assert.Equal(t, fixed.Unix(), p.Timestamp)
	assert.Equal(t, 0.1, p.Metrics["miou"])
	assert.Equal(t, 0.0, p.Metrics["best_epoch"])

	require.NoError(t, w.Write(metrics.Epoch{Index: 2}, 0.01, metrics.BestScore{Value: 0.1, Epoch: 0}))
	data, err = os.ReadFile(w.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, int64(3), p.CurrentEpoch)
	assert.Equal(t, "training completed", p.Message)
}

func TestProgressionWriterNonFiniteMetrics(t *testing.T) {
	w := NewProgressionWriter(t.TempDir(), 3)
	e := metrics.Epoch{Index: 0, TrainLoss: math.NaN(), ValLoss: math.Inf(1), MIoU: math.NaN()}
	require.NoError(t, w.Write(e, 0.01, metrics.NoBest()))

	var p Progression
	data, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "NaN", p.Metrics["train_loss"])
	assert.Equal(t, "Inf", p.Metrics["val_loss"])
	assert.Equal(t, "NaN", p.Metrics["miou"])
}
