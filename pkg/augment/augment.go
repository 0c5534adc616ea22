// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the random image transformations applied to each cell image before it is
// fed to the model: pixel rescaling, shear, zoom and brightness jitter.
//
// All transformations are independent per image, and the output always has the same size as the input.
package augment

import (
	"image"
	"image/color"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// DType of the tensors generated by ToTensor.
var DType = dtypes.Float32

// Config holds the ranges of the random transformations.
type Config struct {
	// Rescale multiplies every 8-bit pixel value. 1/255 maps pixels to [0, 1].
	Rescale float64

	// ShearRange is the maximum absolute horizontal shear factor. 0 disables shearing.
	ShearRange float64

	// ZoomRange defines the interval [1-ZoomRange, 1+ZoomRange] from which the horizontal and vertical
	// zoom factors are drawn independently. 0 disables zooming.
	ZoomRange float64

	// BrightnessMin and BrightnessMax define the interval of the brightness multiplier.
	// Setting both to 1 disables brightness jitter.
	BrightnessMin, BrightnessMax float64
}

// DefaultConfig returns the augmentation used for training: rescale 1/255, shear 0.1, zoom 0.2 and
// brightness in [0.5, 1.5].
func DefaultConfig() Config {
	return Config{
		Rescale:       1.0 / 255.0,
		ShearRange:    0.1,
		ZoomRange:     0.2,
		BrightnessMin: 0.5,
		BrightnessMax: 1.5,
	}
}

// RescaleOnly returns a Config that only rescales pixel values.
func RescaleOnly(rescale float64) Config {
	return Config{Rescale: rescale, BrightnessMin: 1, BrightnessMax: 1}
}

// Validate returns an error if the ranges are not valid.
func (c Config) Validate() error {
	if c.Rescale <= 0 {
		return errors.Errorf("augment: rescale must be > 0, got %g", c.Rescale)
	}
	if c.ShearRange < 0 || c.ZoomRange < 0 || c.ZoomRange >= 1 {
		return errors.Errorf("augment: invalid shear range %g or zoom range %g (zoom must be in [0, 1))",
			c.ShearRange, c.ZoomRange)
	}
	if c.BrightnessMin <= 0 || c.BrightnessMax < c.BrightnessMin {
		return errors.Errorf("augment: invalid brightness range [%g, %g]", c.BrightnessMin, c.BrightnessMax)
	}
	return nil
}

func (c Config) brightness() bool { return c.BrightnessMin != 1 || c.BrightnessMax != 1 }

// Augmenter applies random transformations configured by Config.
// It is safe for concurrent use.
type Augmenter struct {
	config Config
	seed   int64

	muRng sync.Mutex
	rng   *rand.Rand

	toTensor *timage.ToTensorConfig
}

// New creates an Augmenter with the given configuration and random seed.
func New(config Config, seed int64) (*Augmenter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Augmenter{
		config:   config,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
		toTensor: timage.ToTensor(DType).MaxValue(255.0 * config.Rescale),
	}, nil
}

// Config returns the configuration of the Augmenter.
func (a *Augmenter) Config() Config { return a.config }

// Params are the random values drawn for one image.
type Params struct {
	Shear        float64
	ZoomX, ZoomY float64
	Brightness   float64
}

// IsIdentity returns whether the parameters leave the image unchanged.
func (p Params) IsIdentity() bool {
	return p.Shear == 0 && p.ZoomX == 1 && p.ZoomY == 1 && p.Brightness == 1
}

func (a *Augmenter) sample(rng *rand.Rand) (p Params) {
	p = Params{ZoomX: 1, ZoomY: 1, Brightness: 1}
	c := a.config
	if c.ShearRange > 0 {
		p.Shear = uniform(rng, -c.ShearRange, c.ShearRange)
	}
	if c.ZoomRange > 0 {
		p.ZoomX = uniform(rng, 1-c.ZoomRange, 1+c.ZoomRange)
		p.ZoomY = uniform(rng, 1-c.ZoomRange, 1+c.ZoomRange)
	}
	if c.brightness() {
		p.Brightness = uniform(rng, c.BrightnessMin, c.BrightnessMax)
	}
	return
}

func uniform(rng *rand.Rand, low, high float64) float64 {
	return low + rng.Float64()*(high-low)
}

// Sample draws a new set of random parameters from the Augmenter's random source.
func (a *Augmenter) Sample() Params {
	a.muRng.Lock()
	defer a.muRng.Unlock()
	return a.sample(a.rng)
}

// Apply transforms img with freshly sampled random parameters.
func (a *Augmenter) Apply(img image.Image) image.Image {
	return Transform(img, a.Sample())
}

// ApplySeeded transforms img with parameters drawn from a random source derived from the Augmenter seed
// and the given key. The same (img, key) pair always yields the same output.
func (a *Augmenter) ApplySeeded(img image.Image, key int64) image.Image {
	return Transform(img, a.sample(rand.New(rand.NewSource(a.seed*1_000_003+key))))
}

// Transform applies the shear and zoom (around the center of the image) followed by the brightness
// multiplier. Areas mapped from outside the source are filled with opaque black.
func Transform(img image.Image, p Params) image.Image {
	if p.IsIdentity() {
		return img
	}
	bounds := img.Bounds()
	if p.Shear != 0 || p.ZoomX != 1 || p.ZoomY != 1 {
		dst := image.NewNRGBA(bounds)
		draw.Draw(dst, bounds, image.Black, image.Point{}, draw.Src)
		draw.BiLinear.Transform(dst, affine(bounds, p), img, bounds, draw.Src, nil)
		img = dst
	}
	if p.Brightness != 1 {
		img = imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{
				R: scaleChannel(c.R, p.Brightness),
				G: scaleChannel(c.G, p.Brightness),
				B: scaleChannel(c.B, p.Brightness),
				A: c.A,
			}
		})
	}
	return img
}

// affine returns the source-to-destination transformation. The destination-to-source
// matrix is [[ZoomX, Shear], [0, ZoomY]] around the center.
func affine(bounds image.Rectangle, p Params) f64.Aff3 {
	cx := float64(bounds.Min.X) + float64(bounds.Dx())/2
	cy := float64(bounds.Min.Y) + float64(bounds.Dy())/2
	det := p.ZoomX * p.ZoomY
	a, b := p.ZoomY/det, -p.Shear/det
	d, e := 0.0, p.ZoomX/det
	return f64.Aff3{
		a, b, cx - a*cx - b*cy,
		d, e, cy - d*cx - e*cy,
	}
}

func scaleChannel(v uint8, factor float64) uint8 {
	scaled := float64(v)*factor + 0.5
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled)
}

// ToTensor converts the images to a tensor shaped `[batch_size, height, width, 3]`, with pixel values
// multiplied by the rescale factor.
func (a *Augmenter) ToTensor(images []image.Image) *tensors.Tensor {
	return a.toTensor.Batch(images)
}

// ToTensor converts images to a float tensor shaped `[batch_size, height, width, 3]` using rescale.
func ToTensor(images []image.Image, rescale float64) *tensors.Tensor {
	return timage.ToTensor(DType).MaxValue(255.0 * rescale).Batch(images)
}
