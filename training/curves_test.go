package training

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/segtrain/metrics"
)

func TestLearningCurves(t *testing.T) {
	history := metrics.NewHistory()
	history.Append(metrics.Epoch{TrainLoss: 1, TrainAcc: 0.5, ValLoss: 1.2, ValAcc: 0.4, MIoU: 0.1})
	history.Append(metrics.Epoch{TrainLoss: 0.8, TrainAcc: 0.6, ValLoss: 1.0, ValAcc: 0.5, MIoU: 0.2})

	plots := LearningCurves(history, "convhead")
	require.Len(t, plots, 2)

	curves := plots[0]
	assert.Equal(t, TrainingCurves, curves.PlotType)
	require.Len(t, curves.Series, 4)
	assert.Equal(t, []DataPoint{{X: 0, Y: 1}, {X: 1, Y: 0.8}}, curves.Series[0].Data)
	assert.Equal(t, "dashed", curves.Series[2].Style["line_style"])

	miou := plots[1]
	assert.Equal(t, SegmentationQuality, miou.PlotType)
	assert.Equal(t, []DataPoint{{X: 0, Y: 0.1}, {X: 1, Y: 0.2}}, miou.Series[0].Data)
}

func TestLearningRatePlot(t *testing.T) {
	plot := LearningRatePlot(NewStepLRScheduler(1, 0.5), 1, 3, "convhead")
	assert.Equal(t, "StepLR - convhead", plot.Title)
	assert.Equal(t, []DataPoint{{X: 0, Y: 1}, {X: 1, Y: 0.5}, {X: 2, Y: 0.25}}, plot.Series[0].Data)
}

func TestWritePlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), LearningCurvesFileName)
	history := metrics.NewHistory()
	history.Append(metrics.Epoch{MIoU: 0.3})
	require.NoError(t, WritePlots(path, LearningCurves(history, "convhead")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back []PlotData
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 2)
	assert.Equal(t, metrics.Float(0.3), back[1].Series[0].Data[0].Y)
}
