// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/sicklecell/pkg/augment"
	"github.com/gomlx/sicklecell/pkg/model"
	"github.com/pkg/errors"
)

// Hyperparameters stored in the context.
const (
	// ParamImageSize is the height and width images are resized to.
	ParamImageSize = "image_size"

	// ParamBatchSize is the number of images per batch, for training and evaluation.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the number of passes over the training data.
	ParamNumEpochs = "num_epochs"

	// ParamShearRange is the maximum absolute shear factor of the augmentation.
	ParamShearRange = "shear_range"

	// ParamZoomRange is the zoom range of the augmentation: factors are drawn from [1-zoom, 1+zoom].
	ParamZoomRange = "zoom_range"

	// ParamBrightnessMin and ParamBrightnessMax define the brightness multiplier range of the augmentation.
	ParamBrightnessMin = "brightness_min"
	ParamBrightnessMax = "brightness_max"

	// ParamRescale multiplies the 8-bit pixel values.
	ParamRescale = "rescale"

	// ParamThreshold is the probability from which a prediction is SCD.
	ParamThreshold = "threshold"

	// ParamAugmentValidation applies the augmentation also to the validation images.
	ParamAugmentValidation = "augment_validation"

	// ParamStrictLabels makes file names that match no class an error, instead of dropping them.
	ParamStrictLabels = "strict_labels"

	// ParamSeed seeds the shuffling of the training data, the augmentation and the model initialization.
	ParamSeed = "seed"
)

// ParamsExcludedFromSaving is the list of parameters that are not saved along with the model checkpoint.
var ParamsExcludedFromSaving = []string{ParamNumEpochs, ParamStrictLabels}

// CreateDefaultContext returns a context with the default hyperparameters set.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	defaults := augment.DefaultConfig()
	ctx.SetParams(map[string]any{
		ParamImageSize:         256,
		ParamBatchSize:         32,
		ParamNumEpochs:         5,
		ParamShearRange:        defaults.ShearRange,
		ParamZoomRange:         defaults.ZoomRange,
		ParamBrightnessMin:     defaults.BrightnessMin,
		ParamBrightnessMax:     defaults.BrightnessMax,
		ParamRescale:           defaults.Rescale,
		ParamThreshold:         0.5,
		ParamAugmentValidation: true,
		ParamStrictLabels:      false,
		ParamSeed:              42,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 0.001,
		optimizers.ParamAdamEpsilon:  1e-7,
	})
	return ctx
}

// Config is the run configuration read from the context hyperparameters.
type Config struct {
	ImageSize, BatchSize, NumEpochs int
	Augment                         augment.Config
	Threshold                       float64
	AugmentValidation               bool
	StrictLabels                    bool
	Seed                            int64
}

// ConfigFromContext reads the hyperparameters from ctx and validates them.
func ConfigFromContext(ctx *context.Context) (Config, error) {
	defaults := augment.DefaultConfig()
	c := Config{
		ImageSize: context.GetParamOr(ctx, ParamImageSize, 256),
		BatchSize: context.GetParamOr(ctx, ParamBatchSize, 32),
		NumEpochs: context.GetParamOr(ctx, ParamNumEpochs, 5),
		Augment: augment.Config{
			Rescale:       context.GetParamOr(ctx, ParamRescale, defaults.Rescale),
			ShearRange:    context.GetParamOr(ctx, ParamShearRange, defaults.ShearRange),
			ZoomRange:     context.GetParamOr(ctx, ParamZoomRange, defaults.ZoomRange),
			BrightnessMin: context.GetParamOr(ctx, ParamBrightnessMin, defaults.BrightnessMin),
			BrightnessMax: context.GetParamOr(ctx, ParamBrightnessMax, defaults.BrightnessMax),
		},
		Threshold:         context.GetParamOr(ctx, ParamThreshold, 0.5),
		AugmentValidation: context.GetParamOr(ctx, ParamAugmentValidation, true),
		StrictLabels:      context.GetParamOr(ctx, ParamStrictLabels, false),
		Seed:              int64(context.GetParamOr(ctx, ParamSeed, 42)),
	}
	if model.OutputSpatialSize(c.ImageSize) < 1 {
		return c, errors.Errorf("%q=%d is too small for the convolution blocks", ParamImageSize, c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return c, errors.Errorf("%q must be > 0, got %d", ParamBatchSize, c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return c, errors.Errorf("%q must be > 0, got %d", ParamNumEpochs, c.NumEpochs)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return c, errors.Errorf("%q must be in (0, 1), got %g", ParamThreshold, c.Threshold)
	}
	if err := c.Augment.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
