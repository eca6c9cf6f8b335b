// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package images

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG creates a width x height PNG filled with c.
func writePNG(t *testing.T, filePath string, width, height int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func TestLoadNativeSize(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	writePNG(t, paths[0], 6, 4, color.NRGBA{R: 255, A: 255})
	writePNG(t, paths[1], 6, 4, color.NRGBA{B: 255, A: 255})

	group, err := NewLoader(0, 0, true).Load(paths)
	require.NoError(t, err)
	require.Len(t, group, 2)
	c, h, w := Shape(group[0])
	assert.Equal(t, []int{3, 4, 6}, []int{c, h, w})

	// Order of the group follows the order of the paths, regardless of decoding order.
	r, _, b, _ := group[0].At(0, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, uint32(0), b)
	r, _, b, _ = group[1].At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0xFFFF), b)
}

func TestLoadResizeAndGrayscale(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png"), filepath.Join(dir, "c.png")}
	writePNG(t, paths[0], 10, 20, color.White)
	writePNG(t, paths[1], 7, 3, color.Black)
	writePNG(t, paths[2], 1, 1, color.White)

	group, err := NewLoader(5, 8, false).WithParallelism(1).Load(paths)
	require.NoError(t, err)
	for _, img := range group {
		require.IsType(t, &image.Gray{}, img)
		c, h, w := Shape(img)
		assert.Equal(t, []int{1, 5, 8}, []int{c, h, w})
	}
	assert.Equal(t, uint8(255), group[0].(*image.Gray).GrayAt(3, 3).Y)
	assert.Equal(t, uint8(0), group[1].(*image.Gray).GrayAt(3, 3).Y)
}

func TestLoadDecodeError(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	corrupt := filepath.Join(dir, "corrupt.png")
	writePNG(t, good, 4, 4, color.White)
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0644))

	loader := NewLoader(4, 4, true)
	group, err := loader.Load([]string{good, corrupt})
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), corrupt)
	assert.Nil(t, group, "partial groups are not returned")

	missing := filepath.Join(dir, "missing.png")
	_, err = loader.Load([]string{missing, good})
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), missing)
}

func TestLoadMixedNativeSizes(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	writePNG(t, paths[0], 4, 4, color.White)
	writePNG(t, paths[1], 5, 4, color.White)
	_, err := NewLoader(0, 0, true).Load(paths)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestGroupValidateChannels(t *testing.T) {
	group := Group{
		image.NewNRGBA(image.Rect(0, 0, 2, 2)),
		image.NewGray(image.Rect(0, 0, 2, 2)),
	}
	require.ErrorIs(t, group.Validate(), ErrShapeMismatch)
	require.NoError(t, Group{}.Validate())
}
