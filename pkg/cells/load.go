// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cells

import (
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/sicklecell/internal/workerspool"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// LoadImage decodes the image file (JPEG or TIFF, see Extensions) and resizes it to size x size pixels.
// The returned image is always an *image.NRGBA, independent of the number of channels in the file.
func LoadImage(filePath string, size int) (*image.NRGBA, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %q", filePath)
	}
	if img.Bounds().Empty() {
		return nil, errors.Errorf("image %q is empty", filePath)
	}
	return imaging.Resize(img, size, size, imaging.NearestNeighbor), nil
}

// LoadImages decodes and resizes all samples in parallel, using up to `workers` goroutines
// (0 loads sequentially, -1 for unlimited). The images are returned in the same order as the samples.
//
// The first image that fails to decode aborts the loading, and its error is returned.
// If showProgress is set, a progress bar is displayed while loading.
func LoadImages(samples []Sample, size, workers int, showProgress bool) ([]image.Image, error) {
	images := make([]image.Image, len(samples))
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.Default(int64(len(samples)), "loading images")
	}
	var totalBytes int64
	pool := workerspool.New().SetMaxParallelism(workers)
	err := pool.ForEach(len(samples), func(ii int) error {
		img, err := LoadImage(samples[ii].Path, size)
		if err != nil {
			return err
		}
		images[ii] = img
		if bar != nil {
			_ = bar.Add(1)
		}
		return nil
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return nil, err
	}
	for _, s := range samples {
		if info, err := os.Stat(s.Path); err == nil {
			totalBytes += info.Size()
		}
	}
	klog.V(1).Infof("loaded %s images (%s on disk), resized to %dx%d",
		humanize.Comma(int64(len(images))), humanize.Bytes(uint64(totalBytes)), size, size)
	return images, nil
}
