// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transform converts a decoded image group into the flat float32 layout of a batch item.
//
// The Transformer interface is what the batch assembler consumes. DataTransformer is a reference
// implementation with the usual preprocessing: crop (center or random), random horizontal
// mirroring, per-channel mean subtraction and scaling.
package transform

import (
	"image"

	"github.com/gomlx/multiimage/pkg/data/images"
	"github.com/gomlx/multiimage/pkg/data/shuffle"
	"github.com/pkg/errors"
)

// Transformer writes one image group into a batch item.
type Transformer interface {
	// InferShape returns the per-image (channels, height, width) that Transform produces for
	// images shaped like img.
	InferShape(img image.Image) (channels, height, width int)

	// Transform writes the group into dst, shaped [len(group) * channels, height, width]:
	// the channels of image k occupy the k-th block of channels.
	// It must write exactly len(dst) values and fail if the size doesn't match.
	Transform(group images.Group, dst []float32) error
}

// Config for a DataTransformer.
type Config struct {
	// Scale multiplies every value after the mean subtraction. 0 is taken as 1.
	Scale float32 `yaml:"scale"`

	// MeanValues are subtracted from each pixel: either one value for all channels, or one per channel.
	MeanValues []float32 `yaml:"mean_values"`

	// CropSize, if > 0, crops a CropSize x CropSize square: at the center, or at a random position in Train mode.
	CropSize int `yaml:"crop_size"`

	// Mirror randomly flips the group horizontally, all images of the group together.
	Mirror bool `yaml:"mirror"`

	// Train selects random crops. Otherwise crops are centered.
	Train bool `yaml:"train"`

	// Seed of the random number generator used for random crops and mirroring.
	Seed uint64 `yaml:"seed"`
}

// DataTransformer is the reference Transformer. See Config for its options.
//
// It owns its random number generator and is not safe for concurrent use.
type DataTransformer struct {
	config Config
	rng    *shuffle.Shuffler
}

var _ Transformer = (*DataTransformer)(nil)

// New creates a DataTransformer with the given configuration.
func New(config Config) *DataTransformer {
	if config.Scale == 0 {
		config.Scale = 1
	}
	return &DataTransformer{
		config: config,
		rng:    shuffle.New(config.Seed),
	}
}

// InferShape implements Transformer.
func (dt *DataTransformer) InferShape(img image.Image) (channels, height, width int) {
	channels, height, width = images.Shape(img)
	if dt.config.CropSize > 0 {
		height, width = dt.config.CropSize, dt.config.CropSize
	}
	return
}

// Transform implements Transformer.
func (dt *DataTransformer) Transform(group images.Group, dst []float32) error {
	if len(group) == 0 {
		return errors.Errorf("transform: empty image group")
	}
	channels, imgHeight, imgWidth := images.Shape(group[0])
	height, width := imgHeight, imgWidth
	var offsetY, offsetX int
	if crop := dt.config.CropSize; crop > 0 {
		if crop > imgHeight || crop > imgWidth {
			return errors.Wrapf(images.ErrShapeMismatch, "transform: crop size %d larger than image %dx%d",
				crop, imgHeight, imgWidth)
		}
		height, width = crop, crop
		if dt.config.Train {
			offsetY = dt.rng.Intn(imgHeight - crop + 1)
			offsetX = dt.rng.Intn(imgWidth - crop + 1)
		} else {
			offsetY = (imgHeight - crop) / 2
			offsetX = (imgWidth - crop) / 2
		}
	}
	mirror := dt.config.Mirror && dt.rng.Intn(2) == 1

	mean, err := dt.meanPerChannel(channels)
	if err != nil {
		return err
	}
	imageSize := channels * height * width
	if len(dst) != len(group)*imageSize {
		return errors.Errorf("transform: destination has %d values, but group of %d images shaped [%d, %d, %d] needs %d",
			len(dst), len(group), channels, height, width, len(group)*imageSize)
	}
	scale := dt.config.Scale
	for imgIdx, img := range group {
		if c, h, w := images.Shape(img); c != channels || h != imgHeight || w != imgWidth {
			return errors.Wrapf(images.ErrShapeMismatch, "transform: image #%d shaped [%d, %d, %d], expected [%d, %d, %d]",
				imgIdx, c, h, w, channels, imgHeight, imgWidth)
		}
		out := dst[imgIdx*imageSize : (imgIdx+1)*imageSize]
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				srcX := offsetX + x
				if mirror {
					srcX = offsetX + width - 1 - x
				}
				for c := 0; c < channels; c++ {
					v := pixel(img, c, offsetY+y, srcX)
					out[(c*height+y)*width+x] = (v - mean[c]) * scale
				}
			}
		}
	}
	return nil
}

func (dt *DataTransformer) meanPerChannel(channels int) ([]float32, error) {
	mean := make([]float32, channels)
	switch len(dt.config.MeanValues) {
	case 0:
	case 1:
		for c := range mean {
			mean[c] = dt.config.MeanValues[0]
		}
	case channels:
		copy(mean, dt.config.MeanValues)
	default:
		return nil, errors.Errorf("transform: %d mean values given for images with %d channels, "+
			"it must be 1 or the number of channels", len(dt.config.MeanValues), channels)
	}
	return mean, nil
}

// pixel returns channel c of the pixel at (y, x), in the 0-255 range.
func pixel(img image.Image, c, y, x int) float32 {
	switch typed := img.(type) {
	case *image.Gray:
		return float32(typed.Pix[y*typed.Stride+x])
	case *image.NRGBA:
		return float32(typed.Pix[y*typed.Stride+4*x+c])
	}
	bounds := img.Bounds()
	r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
	if images.Channels(img) == 1 {
		return float32(r >> 8)
	}
	return float32([3]uint32{r, g, b}[c] >> 8)
}
