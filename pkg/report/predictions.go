// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report turns the trained model outputs into prediction records, cross-checks their accuracy,
// persists them and renders the figures of an experiment.
package report

import (
	"io"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/sicklecell/pkg/cells"
	"github.com/pkg/errors"
)

// DefaultThreshold is the probability from which a prediction is SCD.
const DefaultThreshold = 0.5

// Threshold returns SCD if score >= threshold, Control otherwise.
func Threshold(score, threshold float64) cells.Class {
	if score >= threshold {
		return cells.SCD
	}
	return cells.Control
}

// Record is one row of the predictions table.
type Record struct {
	// Index of the sample in the validation supply order.
	Index int `csv:"index"`

	// Filename is kept for display only, it's not written to the CSV.
	Filename string `csv:"-"`

	GroundTruth int     `csv:"ground_truth"`
	Probability float64 `csv:"probability"`
	Prediction  int     `csv:"prediction"`
}

// Correct returns whether the prediction matches the ground truth.
func (r Record) Correct() bool { return r.Prediction == r.GroundTruth }

// OrderedDataset is a dataset that reports whether it shuffles its samples.
type OrderedDataset interface {
	train.Dataset
	Shuffled() bool
}

// Predictor returns one probability per image of a batch.
type Predictor interface {
	Predict(images *tensors.Tensor) ([]float64, error)
}

// Predict returns the probability of SCD for every sample of ds, in the order the samples are served.
//
// ds must not be shuffled, otherwise the probabilities couldn't be aligned with the samples.
// It runs one full pass, starting from the beginning of ds, and resets ds at the end.
func Predict(predictor Predictor, ds OrderedDataset) ([]float64, error) {
	if ds.Shuffled() {
		return nil, errors.Errorf("dataset %q is shuffled: predictions can't be aligned with its samples", ds.Name())
	}
	ds.Reset()
	defer ds.Reset()
	var probabilities []float64
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "reading %q for prediction", ds.Name())
		}
		batchProbs, err := predictor.Predict(inputs[0])
		for _, t := range inputs {
			t.MustFinalizeAll()
		}
		for _, t := range labels {
			t.MustFinalizeAll()
		}
		if err != nil {
			return nil, err
		}
		probabilities = append(probabilities, batchProbs...)
	}
	return probabilities, nil
}

// ErrLengthMismatch is returned by Join when the label table refers to samples without a probability.
var ErrLengthMismatch = errors.New("label table and predictions don't align")

// Join creates one Record per label table entry, taking the probability at the entry's position in the
// validation supply, and thresholding it.
func Join(table *cells.LabelTable, probabilities []float64, threshold float64) ([]Record, error) {
	records := make([]Record, 0, table.Len())
	for _, e := range table.Entries {
		if e.Index < 0 || e.Index >= len(probabilities) {
			return nil, errors.Wrapf(ErrLengthMismatch, "entry %q at position %d, but only %d predictions",
				e.Filename, e.Index, len(probabilities))
		}
		p := probabilities[e.Index]
		records = append(records, Record{
			Index:       e.Index,
			Filename:    e.Filename,
			GroundTruth: int(e.Class),
			Probability: p,
			Prediction:  int(Threshold(p, threshold)),
		})
	}
	return records, nil
}

// Accuracy is the fraction of records whose prediction equals the ground truth. It's 0 for no records.
func Accuracy(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	var correct int
	for _, r := range records {
		if r.Correct() {
			correct++
		}
	}
	return float64(correct) / float64(len(records))
}

// NearThresholdEpsilon is the distance to the threshold under which a score is considered ambiguous.
const NearThresholdEpsilon = 1e-6

// CrossCheck compares the accuracy reported by the evaluation with the one recomputed from the records.
type CrossCheck struct {
	Aggregate, Recomputed float64

	// NearThreshold is the number of records with a probability within NearThresholdEpsilon of the threshold:
	// those are the ones that may be counted differently by the two accuracies.
	NearThreshold int
}

// NewCrossCheck compares the aggregate accuracy with the accuracy recomputed from records.
func NewCrossCheck(aggregate float64, records []Record, threshold float64) CrossCheck {
	c := CrossCheck{Aggregate: aggregate, Recomputed: Accuracy(records)}
	for _, r := range records {
		if math.Abs(r.Probability-threshold) < NearThresholdEpsilon {
			c.NearThreshold++
		}
	}
	return c
}

// Difference returns the absolute difference between the two accuracies.
func (c CrossCheck) Difference() float64 { return math.Abs(c.Aggregate - c.Recomputed) }

// Consistent returns whether the two accuracies differ by at most epsilon.
func (c CrossCheck) Consistent(epsilon float64) bool { return c.Difference() <= epsilon }

// ConfusionMatrix counts records by ground truth (first index) and prediction (second index).
type ConfusionMatrix [cells.NumClasses][cells.NumClasses]int

// NewConfusionMatrix counts the records.
func NewConfusionMatrix(records []Record) (cm ConfusionMatrix) {
	for _, r := range records {
		cm[r.GroundTruth][r.Prediction]++
	}
	return
}

// Total number of records counted.
func (cm ConfusionMatrix) Total() (total int) {
	for _, row := range cm {
		for _, v := range row {
			total += v
		}
	}
	return
}

// PredictedCounts returns the number of records predicted as each class.
func (cm ConfusionMatrix) PredictedCounts() (counts [cells.NumClasses]int) {
	for _, row := range cm {
		for pred, v := range row {
			counts[pred] += v
		}
	}
	return
}
