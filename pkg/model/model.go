// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model defines the CNN used to classify red blood cell images as Control or SCD.
//
// The architecture is fixed:
//
//	conv(32,3x3,relu) -> maxpool(2x2) -> conv(64,3x3,relu) -> maxpool(2x2) -> conv(128,3x3,relu) -> maxpool(2x2)
//	-> flatten -> dense(512,relu) -> dense(1,sigmoid)
//
// ModelGraph returns the logit (the value before the sigmoid), which is what the loss and accuracy
// metric take. ProbabilitiesGraph applies the sigmoid.
package model

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

// Scope under which the model variables are created.
const Scope = "model"

var (
	// ConvFilters is the number of filters of each convolution block.
	ConvFilters = []int{32, 64, 128}

	// DenseUnits is the width of the hidden dense layer.
	DenseUnits = 512

	_ train.ModelFn = ModelGraph
)

// ModelGraph implements train.ModelFn. It takes the batch of images shaped `[batch_size, height, width, 3]`
// and returns the logits shaped `[batch_size, 1]`.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec // Not used.
	ctx = ctx.In(Scope)
	images := inputs[0]
	images.AssertRank(4)
	batchSize := images.Shape().Dimensions[0]

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	logits := images
	for _, filters := range ConvFilters {
		// Valid padding and stride 1: each convolution shrinks the image by 2 pixels.
		logits = layers.Convolution(nextCtx("conv"), logits).Channels(filters).KernelSize(3).NoPadding().Done()
		logits = activations.Relu(logits)
		logits = MaxPool(logits).Window(2).Done()
	}

	// Flatten and classify.
	logits = Reshape(logits, batchSize, -1)
	logits = layers.Dense(nextCtx("dense"), logits, true, DenseUnits)
	logits = activations.Relu(logits)
	logits = layers.Dense(nextCtx("dense"), logits, true, 1)
	return []*Node{logits}
}

// OutputSpatialSize returns the height (or width) of the feature maps after the convolution blocks,
// for square input images of the given size.
func OutputSpatialSize(imageSize int) int {
	size := imageSize
	for range ConvFilters {
		size = (size - 2) / 2
	}
	return size
}

// ProbabilitiesGraph returns the probability of SCD for each image, shaped `[batch_size, 1]`.
func ProbabilitiesGraph(ctx *context.Context, images *Node) *Node {
	return Sigmoid(ModelGraph(ctx, nil, []*Node{images})[0])
}

// Loss is the binary cross-entropy computed from the logits.
func Loss(labels, logits []*Node) *Node {
	return losses.BinaryCrossentropyLogits(labels, logits)
}

// Metric names, as reported by the train.Trainer.
const (
	MeanLossName     = "Mean Loss"
	MeanAccuracyName = "Mean Accuracy"
)

// meanLossGraph is the metric version of Loss: the mean over the batch.
func meanLossGraph(_ *context.Context, labels, logits []*Node) *Node {
	return ReduceAllMean(Loss(labels, logits))
}

// NewTrainMetrics returns the metrics tracked during training: the mean loss and the mean binary accuracy,
// both accumulated over all the batches since the training metrics were last reset (the whole pass, when
// training one epoch at a time).
func NewTrainMetrics() []metrics.Interface {
	return []metrics.Interface{
		metrics.NewMeanMetric(MeanLossName, "#loss", metrics.LossMetricType, meanLossGraph, nil),
		metrics.NewMeanBinaryLogitsAccuracy(MeanAccuracyName, "#acc"),
	}
}

// NewEvalMetrics returns the metrics evaluated on a dataset: the mean loss and the mean binary accuracy.
// The train.Trainer prepends its own loss metric, which may include regularization terms.
func NewEvalMetrics() []metrics.Interface {
	return []metrics.Interface{
		metrics.NewMeanMetric(MeanLossName, "#loss", metrics.LossMetricType, meanLossGraph, nil),
		metrics.NewMeanBinaryLogitsAccuracy(MeanAccuracyName, "#acc"),
	}
}

// FindMetric returns the position of the metric with the given name, or -1 if not found.
func FindMetric(metricsList []metrics.Interface, name string) int {
	for ii, m := range metricsList {
		if m.Name() == name {
			return ii
		}
	}
	return -1
}
