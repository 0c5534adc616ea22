// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cells

import (
	"image"
	"io"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/sicklecell/pkg/augment"
	"github.com/pkg/errors"
)

// DefaultRescale is used to convert images to tensors when no Augmenter is configured.
const DefaultRescale = 1.0 / 255.0

// Dataset implements train.Dataset over pre-loaded cell images.
//
// It yields batches of images shaped `[batch_size, height, width, 3]` (float32, rescaled) and labels shaped
// `[batch_size, 1]` (float32, 0 for Control and 1 for SCD). The last batch of a pass may be smaller.
//
// Without Shuffle, the samples are served in the order given, which allows predictions to be aligned by index
// with the samples. With Shuffle the order is re-drawn at every Reset.
type Dataset struct {
	name, shortName string
	samples         []Sample
	images          []image.Image
	batchSize       int
	infinite        bool
	augmenter       *augment.Augmenter

	// mu protects the fields below.
	mu      sync.Mutex
	shuffle *rand.Rand
	order   []int
	next    int
}

var (
	_ train.Dataset      = (*Dataset)(nil)
	_ train.HasShortName = (*Dataset)(nil)
)

// NewDataset creates a Dataset for the samples and their pre-loaded images (see LoadImages), yielding
// batches of batchSize examples.
//
// Further configuration (Shuffle, Augment, Infinite) can be chained.
func NewDataset(name string, samples []Sample, images []image.Image, batchSize int) (*Dataset, error) {
	if len(samples) != len(images) {
		return nil, errors.Errorf("dataset %q: %d samples but %d images", name, len(samples), len(images))
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset %q: batch size must be > 0, got %d", name, batchSize)
	}
	ds := &Dataset{
		name:      name,
		shortName: name,
		samples:   samples,
		images:    images,
		batchSize: batchSize,
	}
	if len(name) > 5 {
		ds.shortName = name[:5]
	}
	ds.Reset()
	return ds, nil
}

// Shuffle configures the dataset to serve the samples in a random order, re-drawn at every Reset.
// It returns itself, so configuration calls can be chained.
func (ds *Dataset) Shuffle(seed int64) *Dataset {
	ds.mu.Lock()
	ds.shuffle = rand.New(rand.NewSource(seed))
	ds.mu.Unlock()
	ds.Reset()
	return ds
}

// Augment configures the random transformations applied to each image when yielded.
// If nil, images are only rescaled by DefaultRescale.
//
// For datasets that are not shuffled, the transformation of each sample is seeded by its position,
// so every pass (and every evaluation) sees the same transformed images.
func (ds *Dataset) Augment(augmenter *augment.Augmenter) *Dataset {
	ds.augmenter = augmenter
	return ds
}

// Infinite configures the dataset to restart automatically at the end of each pass (reshuffling if shuffled)
// and never return io.EOF. Use it with train.Loop.RunSteps, but not with train.Loop.RunEpochs.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// ShortName implements train.HasShortName.
func (ds *Dataset) ShortName() string { return ds.shortName }

// Len returns the number of samples.
func (ds *Dataset) Len() int { return len(ds.samples) }

// BatchSize used by Yield.
func (ds *Dataset) BatchSize() int { return ds.batchSize }

// NumBatches returns the number of batches in one pass: ceil(Len / BatchSize).
func (ds *Dataset) NumBatches() int {
	return (len(ds.samples) + ds.batchSize - 1) / ds.batchSize
}

// Shuffled returns whether the samples are served in random order.
func (ds *Dataset) Shuffled() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.shuffle != nil
}

// Samples returns the samples in the order given at construction.
func (ds *Dataset) Samples() []Sample { return ds.samples }

// Filenames returns the names of the samples in the order they are served when not shuffled.
func (ds *Dataset) Filenames() []string { return Names(ds.samples) }

// Reset implements train.Dataset. It restarts the pass, and reshuffles if configured to shuffle.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.lockedReset()
}

func (ds *Dataset) lockedReset() {
	if ds.order == nil {
		ds.order = make([]int, len(ds.samples))
		for ii := range ds.order {
			ds.order[ii] = ii
		}
	}
	if ds.shuffle != nil {
		ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
	ds.next = 0
}

// yieldIndices selects the indices of the samples of the next batch.
func (ds *Dataset) yieldIndices() (indices []int, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.order) == 0 {
		return nil, io.EOF
	}
	if ds.next >= len(ds.order) {
		if !ds.infinite {
			return nil, io.EOF
		}
		ds.lockedReset()
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	indices = make([]int, end-ds.next)
	copy(indices, ds.order[ds.next:end])
	ds.next = end
	return indices, nil
}

// YieldImages yields the next batch as images (after augmentation), their labels and their sample indices.
// It's used by Yield, and can also be used to display the augmented images.
func (ds *Dataset) YieldImages() (images []image.Image, labels []Class, indices []int, err error) {
	indices, err = ds.yieldIndices()
	if err != nil {
		return
	}
	shuffled := ds.Shuffled()
	images = make([]image.Image, len(indices))
	labels = make([]Class, len(indices))
	for ii, idx := range indices {
		img := ds.images[idx]
		if ds.augmenter != nil {
			if shuffled {
				img = ds.augmenter.Apply(img)
			} else {
				img = ds.augmenter.ApplySeeded(img, int64(idx))
			}
		}
		images[ii] = img
		labels[ii] = ds.samples[idx].Class
	}
	return
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	images, classes, _, err := ds.YieldImages()
	if err != nil {
		return
	}
	var imagesTensor *tensors.Tensor
	if ds.augmenter != nil {
		imagesTensor = ds.augmenter.ToTensor(images)
	} else {
		imagesTensor = augment.ToTensor(images, DefaultRescale)
	}
	labelsData := make([]float32, len(classes))
	for ii, c := range classes {
		labelsData[ii] = float32(c)
	}
	inputs = []*tensors.Tensor{imagesTensor}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(labelsData, len(labelsData), 1)}
	return
}
