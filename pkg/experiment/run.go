// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"fmt"
	"os"
	"path"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/gomlx/sicklecell/pkg/augment"
	"github.com/gomlx/sicklecell/pkg/cells"
	"github.com/gomlx/sicklecell/pkg/report"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of a Run that are not hyperparameters.
type Options struct {
	// TrainDir and ValidDir are the roots of the class-partitioned image directories.
	TrainDir, ValidDir string

	// OutputDir receives the predictions table, the history and the figures. It's created if needed.
	OutputDir string

	// CheckpointDir, if set, is where the trained model is saved. It must be empty or not exist.
	CheckpointDir string

	// Workers is the number of images decoded in parallel. 0 decodes in the calling goroutine,
	// -1 uses one goroutine per image.
	Workers int

	// Verbosity 0 prints nothing, 1 shows progress bars and the tables, 2 adds the hyperparameters.
	Verbosity int

	// Preview saves a grid of augmented training images.
	Preview bool

	// HTML also writes an interactive page with the training history.
	HTML bool
}

// PreviewSize is the maximum number of images in the augmentation preview.
const PreviewSize = 9

// Results of a Run.
type Results struct {
	Config  Config
	History *History
	Summary report.Summary
	Records []report.Record

	// Counts of predictions per class, as read back from the predictions file.
	Counts [cells.NumClasses]int

	// Files written, in the order they were created.
	Files []string
}

// Run executes the whole experiment: it loads the data, trains the model configured in ctx for the configured
// number of epochs, freezes it, evaluates and predicts the validation data, and writes the predictions and
// figures to opts.OutputDir.
//
// Any failure aborts the run.
func Run(ctx *context.Context, backend backends.Backend, opts Options) (*Results, error) {
	config, err := ConfigFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(opts.OutputDir, 0777); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %q", opts.OutputDir)
	}
	if err = ctx.SetRNGStateFromSeed(config.Seed); err != nil {
		return nil, errors.WithMessagef(err, "seeding the random number generator with %d", config.Seed)
	}
	showProgress := opts.Verbosity >= 1
	results := &Results{Config: config}

	// Datasets.
	trainDS, err := loadDataset("train", opts.TrainDir, config, opts.Workers, showProgress)
	if err != nil {
		return nil, err
	}
	validDS, err := loadDataset("validation", opts.ValidDir, config, opts.Workers, showProgress)
	if err != nil {
		return nil, err
	}
	trainAugmenter, err := augment.New(config.Augment, config.Seed)
	if err != nil {
		return nil, err
	}
	trainDS.Shuffle(config.Seed).Augment(trainAugmenter)

	validConfig := augment.RescaleOnly(config.Augment.Rescale)
	if config.AugmentValidation {
		klog.Warningf("%s=true: shear, zoom and brightness augmentation are also applied to the validation images, "+
			"validation metrics are measured on transformed images", ParamAugmentValidation)
		validConfig = config.Augment
	}
	validAugmenter, err := augment.New(validConfig, config.Seed+1)
	if err != nil {
		return nil, err
	}
	validDS.Augment(validAugmenter)

	// Ground truth from the file names.
	table, err := cells.ExtractLabels(validDS.Filenames(), config.StrictLabels)
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, errors.Errorf("none of the %d validation file names contains %q or %q: no ground truth to "+
			"evaluate against", len(table.Dropped), cells.SCDToken, cells.ControlToken)
	}
	if disagreements := table.Disagreements(validDS.Samples()); len(disagreements) > 0 {
		klog.Warningf("%d validation files have a file name label different from their directory, e.g. %q",
			len(disagreements), disagreements[0].Filename)
	}

	if opts.Preview {
		filePath := path.Join(opts.OutputDir, report.AugmentationFigure)
		if err = savePreview(trainDS, filePath); err != nil {
			return nil, err
		}
		results.Files = append(results.Files, filePath)
	}

	// Training.
	controller := NewController(backend, ctx, showProgress)
	results.History, err = controller.Fit(trainDS, validDS, config.NumEpochs)
	if err != nil {
		return nil, err
	}
	if showProgress {
		fmt.Println(results.History.Table())
	}
	historyPath := path.Join(opts.OutputDir, plots.TrainingPlotFileName)
	if err = os.Remove(historyPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "removing previous history %q", historyPath)
	}
	if err = results.History.Save(historyPath); err != nil {
		return nil, err
	}
	results.Files = append(results.Files, historyPath)

	// Evaluation of the frozen model.
	frozen := controller.Freeze()
	results.Summary.Loss, results.Summary.Check.Aggregate, err = frozen.Evaluate(validDS)
	if err != nil {
		return nil, err
	}
	predictor, err := frozen.Predictor()
	if err != nil {
		return nil, err
	}
	probabilities, err := report.Predict(predictor, validDS)
	if err != nil {
		return nil, err
	}
	results.Records, err = report.Join(table, probabilities, config.Threshold)
	if err != nil {
		return nil, err
	}
	predictionsPath := path.Join(opts.OutputDir, report.PredictionsFile)
	if err = report.WriteCSV(predictionsPath, results.Records); err != nil {
		return nil, err
	}
	results.Files = append(results.Files, predictionsPath)

	// Reporting, from the persisted predictions.
	df, err := report.ReadCSV(predictionsPath)
	if err != nil {
		return nil, err
	}
	if results.Counts, err = report.CountPredictions(df); err != nil {
		return nil, err
	}
	results.Summary.Check = report.NewCrossCheck(results.Summary.Check.Aggregate, results.Records, config.Threshold)
	results.Summary.Confusion = report.NewConfusionMatrix(results.Records)
	results.Summary.Dropped = len(table.Dropped)
	if results.Counts != results.Summary.Confusion.PredictedCounts() {
		return nil, errors.Errorf("predictions read from %q count %v, but %v were written",
			predictionsPath, results.Counts, results.Summary.Confusion.PredictedCounts())
	}
	if check := results.Summary.Check; !check.Consistent(report.ConsistencyEpsilon) {
		klog.Warningf("aggregate accuracy %.4f and recomputed accuracy %.4f differ (%d scores near the threshold)",
			check.Aggregate, check.Recomputed, check.NearThreshold)
	}

	figures := []figure{
		{report.HistoryFigure, func(filePath string) error {
			return report.PlotHistory(results.History.Points(), filePath)
		}},
		{report.CountsFigure, func(filePath string) error { return report.PlotCounts(results.Counts, filePath) }},
		{report.ConfusionFigure, func(filePath string) error {
			return report.PlotConfusion(results.Summary.Confusion, filePath)
		}},
	}
	if opts.HTML {
		figures = append(figures, figure{report.HistoryPage, func(filePath string) error {
			return report.WriteHistoryHTML(results.History.Points(), "SCD classifier training", filePath)
		}})
	}
	for _, fig := range figures {
		filePath := path.Join(opts.OutputDir, fig.name)
		if err = fig.plot(filePath); err != nil {
			return nil, err
		}
		results.Files = append(results.Files, filePath)
	}

	if opts.CheckpointDir != "" {
		if err = frozen.Save(opts.CheckpointDir); err != nil {
			return nil, err
		}
		results.Files = append(results.Files, opts.CheckpointDir)
	}

	for _, filePath := range results.Files {
		klog.V(1).Infof("wrote %q", filePath)
	}
	if showProgress {
		fmt.Println(results.Summary)
	}
	return results, nil
}

// figure is a report artifact and the function that renders it to a file.
type figure struct {
	name string
	plot func(filePath string) error
}

// loadDataset scans and decodes the images under dir.
func loadDataset(name, dir string, config Config, workers int, showProgress bool) (*cells.Dataset, error) {
	samples, err := cells.ScanDir(dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s data", name)
	}
	counts := cells.CountByClass(samples)
	klog.Infof("%s data in %q: %d %s and %d %s images", name, dir,
		counts[cells.Control], cells.Control, counts[cells.SCD], cells.SCD)
	if len(samples) == 0 {
		return nil, errors.Errorf("%s data in %q has no images", name, dir)
	}
	images, err := cells.LoadImages(samples, config.ImageSize, workers, showProgress)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s data", name)
	}
	return cells.NewDataset(name, samples, images, config.BatchSize)
}

// savePreview saves the first batch of augmented images of ds, and resets it.
func savePreview(ds *cells.Dataset, filePath string) error {
	images, _, _, err := ds.YieldImages()
	ds.Reset()
	if err != nil {
		return errors.WithMessagef(err, "augmentation preview of %q", ds.Name())
	}
	if len(images) > PreviewSize {
		images = images[:PreviewSize]
	}
	return report.SaveImageGrid(images, 3, filePath)
}
