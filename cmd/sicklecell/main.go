// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sicklecell trains a CNN that classifies red blood cell microscopy images as Control or SCD (sickle cell
// disease), and reports its evaluation on the validation images.
//
// The training and validation directories must each hold one subdirectory per class (named after "control"
// or "scd") with .jpg or .tif images. Hyperparameters are set with -set, e.g.:
//
//	sicklecell -train=~/data/scd/train -valid=~/data/scd/valid -set="num_epochs=10;batch_size=16"
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/sicklecell/pkg/experiment"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagTrain  = flag.String("train", "~/work/scd/train", "Directory with the training images, one subdirectory per class.")
	flagValid  = flag.String("valid", "~/work/scd/valid", "Directory with the validation images, one subdirectory per class.")
	flagOutput = flag.String("output", "~/work/scd/report", "Directory where predictions, history and figures are written.")

	flagCheckpoint = flag.String("checkpoint", "", "Directory to save the trained model to. "+
		"It must be empty or not exist. If left empty, the model is not saved.")
	flagWorkers   = flag.Int("workers", 8, "Number of images decoded in parallel: 0 decodes sequentially, -1 uses one goroutine per image.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagPreview   = flag.Bool("preview", true, "Save a grid of augmented training images.")
	flagHTML      = flag.Bool("html", false, "Also write an interactive HTML page with the training history.")
)

func main() {
	ctx := experiment.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	if *flagVerbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}
	klog.V(1).Infof("hyperparameters set from the command line: %v", paramsSet)

	opts := experiment.Options{
		TrainDir:  fsutil.MustReplaceTildeInDir(*flagTrain),
		ValidDir:  fsutil.MustReplaceTildeInDir(*flagValid),
		OutputDir: fsutil.MustReplaceTildeInDir(*flagOutput),
		Workers:   *flagWorkers,
		Verbosity: *flagVerbosity,
		Preview:   *flagPreview,
		HTML:      *flagHTML,
	}
	if *flagCheckpoint != "" {
		opts.CheckpointDir = fsutil.MustReplaceTildeInDir(*flagCheckpoint)
	}

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	results, err := experiment.Run(ctx, backend, opts)
	if err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
	if last, found := results.History.Last(); found && *flagVerbosity >= 1 {
		fmt.Printf("Final validation accuracy after %d epochs: %.2f%%\n", last.Epoch, 100*results.Summary.Check.Recomputed)
	}
}
