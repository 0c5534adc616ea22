// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Predictor computes the probability of SCD for batches of images using trained model variables.
//
// It never changes the variables: it uses the context in reuse mode, so it fails if a variable is missing.
type Predictor struct {
	exec *context.Exec
}

// NewPredictor compiles the inference graph for the model stored in ctx.
// The graph is JIT-compiled lazily, once per distinct batch shape.
func NewPredictor(backend backends.Backend, ctx *context.Context) (*Predictor, error) {
	exec, err := context.NewExec(backend, ctx.Reuse(), ProbabilitiesGraph)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create the predictor")
	}
	return &Predictor{exec: exec}, nil
}

// Predict returns one probability per image in the batch, shaped `[batch_size, height, width, 3]`.
func (p *Predictor) Predict(images *tensors.Tensor) (probabilities []float64, err error) {
	var execErr error
	err = exceptions.TryCatch[error](func() {
		var output *tensors.Tensor
		output, execErr = p.exec.Exec1(images)
		if execErr != nil {
			return
		}
		defer output.MustFinalizeAll()
		flat := tensors.MustCopyFlatData[float32](output)
		probabilities = make([]float64, len(flat))
		for ii, v := range flat {
			probabilities[ii] = float64(v)
		}
	})
	if err == nil {
		err = execErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to predict batch of images shaped %s", images.Shape())
	}
	return
}
