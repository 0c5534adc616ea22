package model

import (
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSpatialSize(t *testing.T) {
	// 256 -> conv 254 -> pool 127 -> conv 125 -> pool 62 -> conv 60 -> pool 30.
	assert.Equal(t, 30, OutputSpatialSize(256))
	assert.Equal(t, 2, OutputSpatialSize(32))
}

func TestModelGraph(t *testing.T) {
	backend := backends.MustNew()
	ctx := context.New()
	const batchSize, imageSize = 2, 32
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return ModelGraph(ctx, nil, []*Node{images})[0]
	})
	images := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, imageSize, imageSize, 3))
	logits := must.M1(exec.Exec1(images))
	assert.Equal(t, []int{batchSize, 1}, logits.Shape().Dimensions)

	// Dense layer after flattening: 2*2*128 inputs to 512 units.
	spatial := OutputSpatialSize(imageSize)
	var found bool
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Shape().Rank() == 2 && v.Shape().Dimensions[1] == DenseUnits {
			assert.Equal(t, spatial*spatial*ConvFilters[len(ConvFilters)-1], v.Shape().Dimensions[0])
			found = true
		}
	})
	assert.True(t, found, "hidden dense layer weights not found")

	// Predictor reuses the variables just created.
	predictor, err := NewPredictor(backend, ctx)
	require.NoError(t, err)
	probs, err := predictor.Predict(images)
	require.NoError(t, err)
	require.Len(t, probs, batchSize)
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}
}

func TestPredictorRequiresTrainedVariables(t *testing.T) {
	backend := backends.MustNew()
	predictor, err := NewPredictor(backend, context.New())
	require.NoError(t, err)
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 1, 32, 32, 3))
	_, err = predictor.Predict(images)
	require.Error(t, err)
}

func TestFindMetric(t *testing.T) {
	trainMetrics := NewTrainMetrics()
	assert.Equal(t, 0, FindMetric(trainMetrics, MeanLossName))
	assert.Equal(t, 1, FindMetric(trainMetrics, MeanAccuracyName))
	evalMetrics := NewEvalMetrics()
	assert.Equal(t, 0, FindMetric(evalMetrics, MeanLossName))
	assert.Equal(t, 1, FindMetric(evalMetrics, MeanAccuracyName))
	assert.Equal(t, -1, FindMetric(evalMetrics, "Unknown"))
}
