package training

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/checkpoints"
	"github.com/tsawler/segtrain/metrics"
)

// LearningCurvesFileName is written into the run directory when training ends.
const LearningCurvesFileName = "learning_curves.json"

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	SegmentationQuality  PlotType = "segmentation_quality"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is a plot description consumable by an external plotting tool.
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint is one point of a series.
type DataPoint struct {
	X int           `json:"x"`
	Y metrics.Float `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	ShowLegend bool   `json:"show_legend"`
	ShowGrid   bool   `json:"show_grid"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func lineSeries(name, color string, dashed bool, values []float64) SeriesData {
	style := map[string]interface{}{
		"color":      color,
		"line_width": 2,
	}
	if dashed {
		style["line_style"] = "dashed"
	}
	data := make([]DataPoint, len(values))
	for i, v := range values {
		data[i] = DataPoint{X: i, Y: metrics.Float(v)}
	}
	return SeriesData{Name: name, Type: "line", Data: data, Style: style}
}

func epochPlotConfig(yLabel string) PlotConfig {
	return PlotConfig{
		XAxisLabel: "Epoch",
		YAxisLabel: yLabel,
		ShowLegend: true,
		ShowGrid:   true,
		Width:      800,
		Height:     600,
	}
}

// LearningCurves turns a run history into loss/accuracy and mIoU plots. The x
// coordinate of every point is its epoch index.
func LearningCurves(history *metrics.History, modelName string) []PlotData {
	now := time.Now()
	return []PlotData{
		{
			PlotType:  TrainingCurves,
			Title:     fmt.Sprintf("Training Curves - %s", modelName),
			Timestamp: now,
			ModelName: modelName,
			Series: []SeriesData{
				lineSeries("Training Loss", "#FF6B6B", false, history.TrainLoss),
				lineSeries("Training Accuracy", "#4ECDC4", false, history.TrainAcc),
				lineSeries("Validation Loss", "#FF9F43", true, history.ValLoss),
				lineSeries("Validation Accuracy", "#5F27CD", true, history.ValAcc),
			},
			Config: epochPlotConfig("Loss / Accuracy"),
		},
		{
			PlotType:  SegmentationQuality,
			Title:     fmt.Sprintf("Validation mIoU - %s", modelName),
			Timestamp: now,
			ModelName: modelName,
			Series: []SeriesData{
				lineSeries("mIoU", "#1DD1A1", false, history.MIoU),
			},
			Config: epochPlotConfig("mIoU"),
		},
	}
}

// LearningRatePlot samples scheduler over epochs.
func LearningRatePlot(scheduler LRScheduler, baseLR float64, epochs int, modelName string) PlotData {
	rates := make([]float64, epochs)
	for e := range rates {
		rates[e] = scheduler.GetLR(e, 0, baseLR)
	}
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("%s - %s", scheduler.GetName(), modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    []SeriesData{lineSeries("Learning Rate", "#54A0FF", false, rates)},
		Config:    epochPlotConfig("Learning Rate"),
	}
}

// WritePlots stores plots as a JSON array at path.
func WritePlots(path string, plots []PlotData) error {
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal plots")
	}
	return checkpoints.WriteFileAtomic(path, data, 0o644)
}
