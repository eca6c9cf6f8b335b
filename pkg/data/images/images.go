// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images loads groups of images from disk for the multi-image data pipeline.
//
// A group is decoded all-or-nothing: if any image of the group fails to decode, the whole
// group is rejected. Images are optionally resized to a fixed height and width, and converted
// to a fixed channel depth: 3 channels (RGB, alpha dropped) in color mode, or 1 channel
// (*image.Gray) in grayscale mode.
package images

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrDecode is returned (wrapped) when an image can't be read or decoded.
	ErrDecode = errors.New("could not load image")

	// ErrShapeMismatch is returned (wrapped) when images of a group, or of a batch,
	// don't share the same channel depth and dimensions.
	ErrShapeMismatch = errors.New("image shape mismatch")
)

// Group holds the decoded images of one sample, in the order of their paths.
type Group []image.Image

// Loader reads and decodes groups of images. See NewLoader.
type Loader struct {
	height, width int
	color         bool
	parallelism   int
}

// NewLoader creates a Loader that resizes images to exactly height x width pixels, or keeps
// their native size if both are 0. If color is false images are converted to grayscale.
//
// The images of a group are decoded in parallel, by default with up to runtime.NumCPU() goroutines,
// see Loader.WithParallelism.
func NewLoader(height, width int, color bool) *Loader {
	return &Loader{
		height:      height,
		width:       width,
		color:       color,
		parallelism: runtime.NumCPU(),
	}
}

// WithParallelism sets the maximum number of images of a group decoded concurrently.
// If n <= 0 it uses runtime.NumCPU(). Use 1 to decode sequentially.
//
// It returns the updated Loader, so calls can be cascaded.
func (l *Loader) WithParallelism(n int) *Loader {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	l.parallelism = n
	return l
}

// Channels returns the number of channels the Loader produces per image: 3 for color, 1 for grayscale.
func (l *Loader) Channels() int {
	if l.color {
		return 3
	}
	return 1
}

// Load reads and decodes all paths. It fails with ErrDecode naming the first (in path order) image
// that could not be loaded, or with ErrShapeMismatch if the images don't share the same dimensions.
func (l *Loader) Load(paths []string) (Group, error) {
	group := make(Group, len(paths))
	errs := make([]error, len(paths))
	var eg errgroup.Group
	eg.SetLimit(l.parallelism)
	for ii, imgPath := range paths {
		eg.Go(func() error {
			group[ii], errs[ii] = ReadImage(imgPath, l.height, l.width, l.color)
			return nil
		})
	}
	_ = eg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := group.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "image group %q", paths)
	}
	return group, nil
}

// ReadImage decodes the image in imgPath. If height and width are > 0 it is resized to exactly that size.
// In color mode it returns an *image.NRGBA (whose alpha channel is ignored), otherwise an *image.Gray.
func ReadImage(imgPath string, height, width int, color bool) (image.Image, error) {
	f, err := os.Open(imgPath)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%q: %v", imgPath, err)
	}
	defer func() {
		_ = f.Close()
	}()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%q: %v", imgPath, err)
	}
	if size := img.Bounds().Size(); size.X == 0 || size.Y == 0 {
		return nil, errors.Wrapf(ErrDecode, "%q: image has no data (size %s)", imgPath, size)
	}
	if height > 0 && width > 0 {
		img = imaging.Resize(img, width, height, imaging.Linear)
	}
	if color {
		return toNRGBA(img), nil
	}
	return toGray(img), nil
}

// toNRGBA converts img to *image.NRGBA with the origin at (0, 0).
func toNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Rect.Min == (image.Point{}) {
		return nrgba
	}
	return imaging.Clone(img)
}

// toGray converts img to *image.Gray, using the usual luma weights.
func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok && gray.Rect.Min == (image.Point{}) {
		return gray
	}
	luma := imaging.Grayscale(img) // NRGBA with R == G == B.
	size := luma.Rect.Size()
	gray := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		src := luma.Pix[y*luma.Stride : y*luma.Stride+4*size.X]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+size.X]
		for x := range dst {
			dst[x] = src[4*x]
		}
	}
	return gray
}

// Channels returns the number of channels of an image as produced by ReadImage:
// 1 for grayscale images, 3 for everything else.
func Channels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	default:
		return 3
	}
}

// Shape returns the channels, height and width of img.
func Shape(img image.Image) (channels, height, width int) {
	size := img.Bounds().Size()
	return Channels(img), size.Y, size.X
}

// Validate checks that all images in the group have the same channel depth, height and width.
func (g Group) Validate() error {
	if len(g) == 0 {
		return nil
	}
	c0, h0, w0 := Shape(g[0])
	for ii, img := range g[1:] {
		c, h, w := Shape(img)
		if c != c0 || h != h0 || w != w0 {
			return errors.Wrapf(ErrShapeMismatch, "image #%d has shape [%d, %d, %d], but image #0 has shape [%d, %d, %d]",
				ii+1, c, h, w, c0, h0, w0)
		}
	}
	return nil
}
