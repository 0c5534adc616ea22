package report

import (
	"image"
	"image/color"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/gomlx/sicklecell/pkg/cells"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constantPredictor returns the same probability for every image.
type constantPredictor struct {
	probability float64
	calls       int
}

func (p *constantPredictor) Predict(images *tensors.Tensor) ([]float64, error) {
	p.calls++
	n := images.Shape().Dimensions[0]
	probs := make([]float64, n)
	for ii := range probs {
		probs[ii] = p.probability
	}
	return probs, nil
}

type failingPredictor struct{}

func (failingPredictor) Predict(*tensors.Tensor) ([]float64, error) {
	return nil, errors.New("no model")
}

func validationDataset(t *testing.T, batchSize int) *cells.Dataset {
	samples := []cells.Sample{
		{Path: "v/control/control_1.jpg", Name: "control/control_1.jpg", Class: cells.Control},
		{Path: "v/control/control_2.jpg", Name: "control/control_2.jpg", Class: cells.Control},
		{Path: "v/scd/scd_1.jpg", Name: "scd/scd_1.jpg", Class: cells.SCD},
		{Path: "v/scd/scd_2.jpg", Name: "scd/scd_2.jpg", Class: cells.SCD},
	}
	images := make([]image.Image, len(samples))
	for ii := range images {
		images[ii] = imaging.New(8, 8, color.Gray{Y: uint8(40 * ii)})
	}
	ds, err := cells.NewDataset("validation", samples, images, batchSize)
	require.NoError(t, err)
	return ds
}

func TestThreshold(t *testing.T) {
	assert.Equal(t, cells.SCD, Threshold(0.5, DefaultThreshold))
	assert.Equal(t, cells.SCD, Threshold(0.7, DefaultThreshold))
	assert.Equal(t, cells.Control, Threshold(0.4999, DefaultThreshold))
	assert.Equal(t, cells.Control, Threshold(0, DefaultThreshold))
	for _, p := range []float64{0, 0.2, 0.5, 0.51, 1} {
		once := Threshold(p, DefaultThreshold)
		assert.Equal(t, once, Threshold(float64(once), DefaultThreshold), "probability %g", p)
	}
}

func TestPredictAndJoin(t *testing.T) {
	ds := validationDataset(t, 3)
	predictor := &constantPredictor{probability: 0.7}
	probs, err := Predict(predictor, ds)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7, 0.7, 0.7, 0.7}, probs)
	assert.Equal(t, 2, predictor.calls)

	table, err := cells.ExtractLabels(ds.Filenames(), true)
	require.NoError(t, err)
	records, err := Join(table, probs, DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for ii, r := range records {
		assert.Equal(t, ii, r.Index)
		assert.Equal(t, 1, r.Prediction)
	}
	// All predicted SCD: the accuracy is the fraction of SCD labels.
	assert.InDelta(t, 0.5, Accuracy(records), 1e-9)

	cm := NewConfusionMatrix(records)
	assert.Equal(t, len(records), cm.Total())
	assert.Equal(t, [cells.NumClasses]int{0, 4}, cm.PredictedCounts())
	assert.Equal(t, 2, cm[cells.Control][cells.SCD])
	assert.Equal(t, 2, cm[cells.SCD][cells.SCD])

	// Predict can be called again: it starts from the beginning.
	probs2, err := Predict(predictor, ds)
	require.NoError(t, err)
	assert.Equal(t, probs, probs2)
}

func TestPredictErrors(t *testing.T) {
	ds := validationDataset(t, 2).Shuffle(42)
	_, err := Predict(&constantPredictor{probability: 0.7}, ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shuffled")

	_, err = Predict(failingPredictor{}, validationDataset(t, 2))
	require.Error(t, err)
}

func TestJoin(t *testing.T) {
	table, err := cells.ExtractLabels([]string{"scd/scd_a.jpg", "other/unknown.jpg", "control/control_a.jpg"}, false)
	require.NoError(t, err)
	require.Len(t, table.Dropped, 1)

	records, err := Join(table, []float64{0.9, 0.5, 0.2}, DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Index: 0, Filename: "scd/scd_a.jpg", GroundTruth: 1, Probability: 0.9, Prediction: 1}, records[0])
	assert.Equal(t, Record{Index: 2, Filename: "control/control_a.jpg", GroundTruth: 0, Probability: 0.2, Prediction: 0}, records[1])
	assert.Equal(t, 1.0, Accuracy(records))

	_, err = Join(table, []float64{0.9, 0.5}, DefaultThreshold)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	assert.Equal(t, 0.0, Accuracy(nil))
}

func TestCrossCheck(t *testing.T) {
	records := []Record{
		{Index: 0, GroundTruth: 1, Probability: 0.5, Prediction: 1},
		{Index: 1, GroundTruth: 0, Probability: 0.1, Prediction: 0},
		{Index: 2, GroundTruth: 1, Probability: 0.2, Prediction: 0},
		{Index: 3, GroundTruth: 0, Probability: 0.8, Prediction: 1},
	}
	check := NewCrossCheck(0.5, records, DefaultThreshold)
	assert.Equal(t, 0.5, check.Recomputed)
	assert.Equal(t, 1, check.NearThreshold)
	assert.True(t, check.Consistent(ConsistencyEpsilon))

	// The aggregate metric counts a score exactly at the threshold as a miss.
	check = NewCrossCheck(0.25, records, DefaultThreshold)
	assert.InDelta(t, 0.25, check.Difference(), 1e-9)
	assert.False(t, check.Consistent(ConsistencyEpsilon))
	summary := Summary{Loss: 0.69, Check: check, Confusion: NewConfusionMatrix(records)}.String()
	assert.Contains(t, summary, "within")
}

func TestCSV(t *testing.T) {
	records := []Record{
		{Index: 0, Filename: "control/control_1.jpg", GroundTruth: 0, Probability: 0.7, Prediction: 1},
		{Index: 1, Filename: "control/control_2.jpg", GroundTruth: 0, Probability: 0.2, Prediction: 0},
		{Index: 2, Filename: "scd/scd_1.jpg", GroundTruth: 1, Probability: 0.7, Prediction: 1},
	}
	filePath := path.Join(t.TempDir(), "predictions.csv")
	require.NoError(t, WriteCSV(filePath, records))

	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "index,ground_truth,probability,prediction", lines[0])
	assert.NotContains(t, string(contents), "control_1.jpg")

	df, err := ReadCSV(filePath)
	require.NoError(t, err)
	assert.Equal(t, 3, df.Nrow())
	counts, err := CountPredictions(df)
	require.NoError(t, err)
	assert.Equal(t, [cells.NumClasses]int{1, 2}, counts)
	assert.Equal(t, NewConfusionMatrix(records).PredictedCounts(), counts)

	_, err = ReadCSV(path.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func historyPoints(numEpochs int) []plots.Point {
	var points []plots.Point
	for epoch := 1; epoch <= numEpochs; epoch++ {
		step := float64(epoch)
		points = append(points,
			plots.Point{MetricName: "Train: Mean Loss", MetricType: metrics.LossMetricType, Step: step, Value: 1 / step},
			plots.Point{MetricName: "Mean Loss on Validation", MetricType: metrics.LossMetricType, Step: step, Value: 1.2 / step},
			plots.Point{MetricName: "Train: Mean Accuracy", MetricType: metrics.AccuracyMetricType, Step: step, Value: 0.5 + 0.1*step},
			plots.Point{MetricName: "Mean Accuracy on Validation", MetricType: metrics.AccuracyMetricType, Step: step, Value: 0.45 + 0.1*step},
		)
	}
	return points
}

func requireNonEmptyFile(t *testing.T, filePath string) {
	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0), "file %q is empty", filePath)
}

func TestFigures(t *testing.T) {
	dir := t.TempDir()
	for _, numEpochs := range []int{1, 3} {
		filePath := path.Join(dir, "history.png")
		require.NoError(t, PlotHistory(historyPoints(numEpochs), filePath))
		requireNonEmptyFile(t, filePath)
	}
	require.Error(t, PlotHistory(nil, path.Join(dir, "empty.png")))

	filePath := path.Join(dir, CountsFigure)
	require.NoError(t, PlotCounts([cells.NumClasses]int{3, 5}, filePath))
	requireNonEmptyFile(t, filePath)

	filePath = path.Join(dir, ConfusionFigure)
	require.NoError(t, PlotConfusion(ConfusionMatrix{{2, 1}, {0, 5}}, filePath))
	requireNonEmptyFile(t, filePath)
	require.NoError(t, PlotConfusion(ConfusionMatrix{}, filePath))

	images := make([]image.Image, 5)
	for ii := range images {
		images[ii] = imaging.New(10, 10, color.Gray{Y: uint8(50 * ii)})
	}
	filePath = path.Join(dir, AugmentationFigure)
	require.NoError(t, SaveImageGrid(images, 3, filePath))
	grid, err := imaging.Open(filePath)
	require.NoError(t, err)
	assert.Equal(t, 3*12+2, grid.Bounds().Dx())
	assert.Equal(t, 2*12+2, grid.Bounds().Dy())
	require.Error(t, SaveImageGrid(nil, 3, filePath))
}

func TestWriteHistoryHTML(t *testing.T) {
	filePath := path.Join(t.TempDir(), HistoryPage)
	require.NoError(t, WriteHistoryHTML(historyPoints(3), "Training history", filePath))
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	page := string(contents)
	assert.Contains(t, page, "<title>Training history</title>")
	assert.Contains(t, page, "Plotly.newPlot")
	assert.Contains(t, page, "Mean Accuracy on Validation")
	assert.Contains(t, page, PlotlyCDN)

	require.Error(t, WriteHistoryHTML(nil, "empty", filePath))
}
