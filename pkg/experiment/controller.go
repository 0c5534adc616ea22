// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"os"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/sicklecell/pkg/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Controller trains the model for a fixed number of passes over the training data, evaluating on the
// validation data after each pass. It's the only owner allowed to change the model variables, until Freeze
// is called.
type Controller struct {
	backend backends.Backend
	ctx     *context.Context
	trainer *train.Trainer
	loop    *train.Loop
	history History
	frozen  bool
}

// NewController creates the trainer for the model, using the optimizer configured in ctx
// (see optimizers.FromContext). If showProgress is set, a progress bar is displayed during training.
func NewController(backend backends.Backend, ctx *context.Context, showProgress bool) *Controller {
	trainer := train.NewTrainer(backend, ctx, model.ModelGraph,
		model.Loss,
		optimizers.FromContext(ctx),
		model.NewTrainMetrics(), // trainMetrics
		model.NewEvalMetrics())  // evalMetrics
	loop := train.NewLoop(trainer)
	if showProgress {
		commandline.AttachProgressBar(loop)
	}
	return &Controller{
		backend: backend,
		ctx:     ctx,
		trainer: trainer,
		loop:    loop,
	}
}

// History returns the records of the passes run so far.
func (c *Controller) History() *History { return &c.history }

// Fit runs numEpochs passes over trainDS. After each pass it evaluates validDS, without updating the
// model, and appends the record to the history, which is returned.
//
// trainDS must be finite: each pass ends when it returns io.EOF.
func (c *Controller) Fit(trainDS, validDS train.Dataset, numEpochs int) (*History, error) {
	if c.frozen {
		return nil, errors.New("Controller.Fit called after the model was frozen")
	}
	for range numEpochs {
		epoch := c.history.Len() + 1
		trainValues, err := c.loop.RunEpochs(trainDS, 1)
		if err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch)
		}
		record := EpochRecord{Epoch: epoch}
		trainMetrics := c.trainer.TrainMetrics()
		if record.TrainLoss, err = metricValue(trainMetrics, trainValues, model.MeanLossName); err != nil {
			return nil, err
		}
		if record.TrainAccuracy, err = metricValue(trainMetrics, trainValues, model.MeanAccuracyName); err != nil {
			return nil, err
		}
		record.ValidationLoss, record.ValidationAccuracy, err = evaluate(c.trainer, validDS)
		if err != nil {
			return nil, errors.WithMessagef(err, "validation after epoch %d", epoch)
		}
		if err = c.history.Append(record); err != nil {
			return nil, err
		}
		klog.Infof("epoch %d/%d: loss=%.4f accuracy=%.4f val_loss=%.4f val_accuracy=%.4f",
			epoch, numEpochs, record.TrainLoss, record.TrainAccuracy, record.ValidationLoss, record.ValidationAccuracy)
	}
	return &c.history, nil
}

// Freeze ends training and returns a read-only handle to the trained model.
// Fit fails after Freeze is called.
func (c *Controller) Freeze() *Frozen {
	c.frozen = true
	return &Frozen{backend: c.backend, ctx: c.ctx.Reuse(), trainer: c.trainer}
}

// Frozen is a trained model whose variables are no longer changed. It's used for evaluation and prediction.
type Frozen struct {
	backend backends.Backend
	ctx     *context.Context
	trainer *train.Trainer
}

// Context returns the model context, in reuse mode.
func (f *Frozen) Context() *context.Context { return f.ctx }

// Evaluate returns the mean loss and accuracy over one pass of ds. No variables are updated.
func (f *Frozen) Evaluate(ds train.Dataset) (loss, accuracy float64, err error) {
	return evaluate(f.trainer, ds)
}

// Predictor returns a model.Predictor using the frozen variables.
func (f *Frozen) Predictor() (*model.Predictor, error) {
	return model.NewPredictor(f.backend, f.ctx)
}

// Save writes the model variables and hyperparameters (except excludeParams) to dir, which must be empty or
// not exist yet.
func (f *Frozen) Save(dir string, excludeParams ...string) error {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "checking model directory %q", dir)
	}
	if len(entries) > 0 {
		return errors.Errorf("model directory %q is not empty, refusing to overwrite it", dir)
	}
	checkpoint, err := checkpoints.Build(f.ctx).
		Dir(dir).
		Keep(1).
		ExcludeParams(append(excludeParams, ParamsExcludedFromSaving...)...).
		Done()
	if err != nil {
		return errors.WithMessagef(err, "creating checkpoint in %q", dir)
	}
	if err = checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "saving model to %q", dir)
	}
	klog.Infof("model saved to %q", checkpoint.Dir())
	return nil
}

// evaluate runs the trainer evaluation on ds, from its start, and returns the mean loss and accuracy.
func evaluate(trainer *train.Trainer, ds train.Dataset) (loss, accuracy float64, err error) {
	ds.Reset()
	values, err := trainer.Eval(ds)
	ds.Reset()
	if err != nil {
		return 0, 0, errors.WithMessagef(err, "evaluating on %q", ds.Name())
	}
	evalMetrics := trainer.EvalMetrics()
	loss, err = metricValue(evalMetrics, values, model.MeanLossName)
	if err != nil {
		return
	}
	accuracy, err = metricValue(evalMetrics, values, model.MeanAccuracyName)
	return
}

func metricValue(metricsList []metrics.Interface, values []*tensors.Tensor, name string) (float64, error) {
	idx := model.FindMetric(metricsList, name)
	if idx < 0 {
		return 0, errors.Errorf("metric %q not found", name)
	}
	return valueAt(metricsList, values, idx)
}

func valueAt(metricsList []metrics.Interface, values []*tensors.Tensor, idx int) (float64, error) {
	if len(values) != len(metricsList) || idx >= len(values) {
		return 0, errors.Errorf("got %d metric values for %d metrics", len(values), len(metricsList))
	}
	return shapes.ConvertTo[float64](values[idx].Value()), nil
}
