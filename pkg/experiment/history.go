// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"fmt"
	"math"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
)

// EpochRecord holds the metrics measured at the end of one pass over the training data.
type EpochRecord struct {
	// Epoch is 1-based.
	Epoch int

	TrainLoss, TrainAccuracy           float64
	ValidationLoss, ValidationAccuracy float64
}

// History is the append-only list of EpochRecord, one per training pass.
type History struct {
	Records []EpochRecord
}

// Append a record to the history. Epochs must be appended in increasing order.
func (h *History) Append(record EpochRecord) error {
	if n := len(h.Records); n > 0 && record.Epoch <= h.Records[n-1].Epoch {
		return errors.Errorf("epoch %d appended after epoch %d", record.Epoch, h.Records[n-1].Epoch)
	}
	h.Records = append(h.Records, record)
	return nil
}

// Len returns the number of records.
func (h *History) Len() int { return len(h.Records) }

// Last returns the last record, or false if the history is empty.
func (h *History) Last() (EpochRecord, bool) {
	if len(h.Records) == 0 {
		return EpochRecord{}, false
	}
	return h.Records[len(h.Records)-1], true
}

// Names of the metrics in the plot points generated by History.Points.
const (
	TrainLossMetric          = "Train: Mean Loss"
	TrainAccuracyMetric      = "Train: Mean Accuracy"
	ValidationLossMetric     = "Mean Loss on Validation"
	ValidationAccuracyMetric = "Mean Accuracy on Validation"
)

// Points converts the history to plot points, using the epoch as the step.
func (h *History) Points() []plots.Point {
	points := make([]plots.Point, 0, 4*len(h.Records))
	for _, r := range h.Records {
		step := float64(r.Epoch)
		points = append(points,
			plots.Point{MetricName: TrainLossMetric, Short: "T/#loss", MetricType: metrics.LossMetricType, Step: step, Value: r.TrainLoss},
			plots.Point{MetricName: ValidationLossMetric, Short: "#loss(Valid)", MetricType: metrics.LossMetricType, Step: step, Value: r.ValidationLoss},
			plots.Point{MetricName: TrainAccuracyMetric, Short: "T/#acc", MetricType: metrics.AccuracyMetricType, Step: step, Value: r.TrainAccuracy},
			plots.Point{MetricName: ValidationAccuracyMetric, Short: "#acc(Valid)", MetricType: metrics.AccuracyMetricType, Step: step, Value: r.ValidationAccuracy},
		)
	}
	return points
}

// HistoryFromPoints rebuilds a History from plot points, as generated by History.Points.
func HistoryFromPoints(points []plots.Point) (*History, error) {
	byEpoch := make(map[int]*EpochRecord)
	var epochs []int
	for _, p := range points {
		epoch := int(math.Round(p.Step))
		r, found := byEpoch[epoch]
		if !found {
			r = &EpochRecord{Epoch: epoch}
			byEpoch[epoch] = r
			epochs = append(epochs, epoch)
		}
		switch p.MetricName {
		case TrainLossMetric:
			r.TrainLoss = p.Value
		case TrainAccuracyMetric:
			r.TrainAccuracy = p.Value
		case ValidationLossMetric:
			r.ValidationLoss = p.Value
		case ValidationAccuracyMetric:
			r.ValidationAccuracy = p.Value
		default:
			return nil, errors.Errorf("unknown metric %q in history points", p.MetricName)
		}
	}
	h := &History{}
	for _, epoch := range epochs {
		if err := h.Append(*byEpoch[epoch]); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Save writes the history as plot points to filePath (see plots.TrainingPlotFileName), one JSON object per line.
// It appends to the file if it already exists.
func (h *History) Save(filePath string) error {
	pointWriter, errReport := plots.CreatePointsWriter(filePath)
	for _, p := range h.Points() {
		pointWriter <- p
	}
	close(pointWriter)
	if err := <-errReport; err != nil {
		return errors.WithMessagef(err, "saving training history")
	}
	return nil
}

// LoadHistory reads a history saved with History.Save.
func LoadHistory(filePath string) (*History, error) {
	points, err := plots.LoadPoints(filePath)
	if err != nil {
		return nil, err
	}
	return HistoryFromPoints(points)
}

// Table returns the history formatted as a table for the terminal.
func (h *History) Table() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Epoch", "Train Loss", "Train Accuracy", "Validation Loss", "Validation Accuracy")
	for _, r := range h.Records {
		table.Row(
			fmt.Sprintf("%d", r.Epoch),
			fmt.Sprintf("%.4f", r.TrainLoss),
			fmt.Sprintf("%.2f%%", 100*r.TrainAccuracy),
			fmt.Sprintf("%.4f", r.ValidationLoss),
			fmt.Sprintf("%.2f%%", 100*r.ValidationAccuracy),
		)
	}
	return table.String()
}
