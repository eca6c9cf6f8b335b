// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiimage

import (
	"bytes"
	"os"

	"github.com/gomlx/multiimage/pkg/data/prefetch"
	"github.com/gomlx/multiimage/pkg/data/transform"
	"github.com/gomlx/multiimage/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned (wrapped) for invalid or inconsistent configurations.
var ErrConfiguration = errors.New("invalid configuration")

// Config of the multi-image data pipeline.
type Config struct {
	// Source is the path to the manifest file, see package manifest for its format.
	Source string `yaml:"source"`

	// RootFolder is prepended (string concatenation, no separator added) to every image path in the manifest.
	RootFolder string `yaml:"root_folder"`

	// GroupSize is the number of images per sample.
	GroupSize int `yaml:"image_group_size"`

	// NewHeight and NewWidth to resize every image to. Both 0 keeps the native size, in which case
	// all images must have the same size as the first one.
	NewHeight int `yaml:"new_height"`
	NewWidth  int `yaml:"new_width"`

	// IsColor selects 3-channel RGB images, otherwise images are converted to 1-channel grayscale.
	IsColor bool `yaml:"is_color"`

	// BatchSize is the number of samples per batch.
	BatchSize int `yaml:"batch_size"`

	// Shuffle the records at setup and at every epoch restart.
	Shuffle bool `yaml:"shuffle"`

	// RandSkip, if > 0, starts reading at a random record in [0, RandSkip). It must be smaller than the
	// number of records.
	RandSkip int `yaml:"rand_skip"`

	// Seed for the shuffling and skipping random number generator. If 0, a seed is drawn from the clock
	// (and logged, so a run can be reproduced).
	Seed uint64 `yaml:"seed"`

	// PrefetchCount is the number of batch buffers in flight. If 0, prefetch.DefaultCount is used.
	PrefetchCount int `yaml:"prefetch_count"`

	// DecodeParallelism is the maximum number of images of a group decoded concurrently.
	// If 0, it uses the number of CPUs.
	DecodeParallelism int `yaml:"decode_parallelism"`

	// Transform configures the default transformer, used when none is given to New or NewAssembler.
	Transform transform.Config `yaml:"transform"`
}

// DefaultConfig returns a configuration with the defaults filled in. Source and GroupSize still need to be set.
func DefaultConfig() Config {
	return Config{
		IsColor:       true,
		BatchSize:     1,
		PrefetchCount: prefetch.DefaultCount,
		Transform:     transform.Config{Scale: 1},
	}
}

// Validate checks the configuration for consistency. Errors wrap ErrConfiguration.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.Wrap(ErrConfiguration, "manifest source path is empty")
	}
	if c.GroupSize <= 0 {
		return errors.Wrapf(ErrConfiguration, "image_group_size=%d, it must be > 0", c.GroupSize)
	}
	if !(c.NewHeight == 0 && c.NewWidth == 0) && !(c.NewHeight > 0 && c.NewWidth > 0) {
		return errors.Wrapf(ErrConfiguration, "new_height=%d and new_width=%d: they must be both 0 or both positive",
			c.NewHeight, c.NewWidth)
	}
	if c.BatchSize <= 0 {
		return errors.Wrapf(ErrConfiguration, "batch_size=%d, a positive batch size is required", c.BatchSize)
	}
	if c.RandSkip < 0 {
		return errors.Wrapf(ErrConfiguration, "rand_skip=%d, it must be >= 0", c.RandSkip)
	}
	if c.PrefetchCount < 0 {
		return errors.Wrapf(ErrConfiguration, "prefetch_count=%d, it must be >= 0", c.PrefetchCount)
	}
	if c.Transform.CropSize < 0 {
		return errors.Wrapf(ErrConfiguration, "transform.crop_size=%d, it must be >= 0", c.Transform.CropSize)
	}
	return nil
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig. Unknown fields are an error.
// A leading "~" in the file path, the source and the root folder is replaced by the user's home directory.
func LoadConfig(filePath string) (config Config, err error) {
	config = DefaultConfig()
	filePath, err = fsutil.ExpandHome(filePath)
	if err != nil {
		return
	}
	var contents []byte
	contents, err = os.ReadFile(filePath)
	if err != nil {
		err = errors.Wrapf(err, "failed to read configuration %q", filePath)
		return
	}
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err = decoder.Decode(&config); err != nil {
		err = errors.Wrapf(ErrConfiguration, "parsing %q: %v", filePath, err)
		return
	}
	if config.Source, err = fsutil.ExpandHome(config.Source); err != nil {
		return
	}
	config.RootFolder, err = fsutil.ExpandHome(config.RootFolder)
	return
}
