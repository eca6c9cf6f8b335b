// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// multiimage_bench reads batches from a multi-image manifest and reports the throughput of the pipeline.
//
// Example:
//
//	multiimage_bench -source ~/data/clips/train.txt -root ~/data/clips/ -group 4 -height 128 -width 128 -batch 32 -steps 100
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/gomlx/multiimage/pkg/data/multiimage"
	"github.com/gomlx/multiimage/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML configuration file. Other flags, if set, override its values.")
	flagSource = flag.String("source", "", "Manifest file: each line with -group image paths followed by an integer label.")
	flagRoot   = flag.String("root", "", "Prefix (string concatenation) to the image paths in the manifest.")
	flagGroup  = flag.Int("group", 1, "Number of images per sample.")
	flagHeight = flag.Int("height", 0, "Resize images to this height. 0 (with -width 0) keeps the native size.")
	flagWidth  = flag.Int("width", 0, "Resize images to this width. 0 (with -height 0) keeps the native size.")
	flagColor  = flag.Bool("color", true, "Read images in RGB. If false, images are converted to grayscale.")
	flagBatch  = flag.Int("batch", 1, "Batch size.")

	flagShuffle  = flag.Bool("shuffle", false, "Shuffle records at start and at every epoch.")
	flagRandSkip = flag.Int("rand_skip", 0, "If > 0, skip a random number of records in [0, rand_skip) at start.")
	flagSeed     = flag.Uint64("seed", 0, "Random seed. 0 uses a seed from the clock.")
	flagPrefetch = flag.Int("prefetch", 3, "Number of batches prefetched in the background.")
	flagSteps    = flag.Int("steps", 100, "Number of batches to read.")

	flagCrop   = flag.Int("crop", 0, "If > 0, center crop images to a square of this size.")
	flagMirror = flag.Bool("mirror", false, "Randomly mirror image groups horizontally.")
	flagScale  = flag.Float64("scale", 1.0, "Multiply pixel values (0-255) by this factor.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	config, err := buildConfig()
	if err != nil {
		klog.Errorf("Invalid configuration: %+v", err)
		os.Exit(1)
	}
	if exists := must.M1(fsutil.FileExists(config.Source)); !exists {
		klog.Errorf("Manifest %q not found. See 'multiimage_bench -help'.", config.Source)
		os.Exit(1)
	}
	stats, err := run(config, *flagSteps)
	if err != nil {
		klog.Errorf("Failed reading batches: %+v", err)
		os.Exit(1)
	}
	report(config, stats)
}

// buildConfig reads the -config file, if given, and applies the flags explicitly set on top of it.
func buildConfig() (config multiimage.Config, err error) {
	config = multiimage.DefaultConfig()
	if *flagConfig != "" {
		config, err = multiimage.LoadConfig(*flagConfig)
		if err != nil {
			return
		}
	} else {
		// Without a configuration file the flags defaults are used.
		config.GroupSize = *flagGroup
		config.IsColor = *flagColor
		config.BatchSize = *flagBatch
		config.PrefetchCount = *flagPrefetch
		config.Transform.Scale = float32(*flagScale)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			config.Source = fsutil.MustExpandHome(*flagSource)
		case "root":
			config.RootFolder = fsutil.MustExpandHome(*flagRoot)
		case "group":
			config.GroupSize = *flagGroup
		case "height":
			config.NewHeight = *flagHeight
		case "width":
			config.NewWidth = *flagWidth
		case "color":
			config.IsColor = *flagColor
		case "batch":
			config.BatchSize = *flagBatch
		case "shuffle":
			config.Shuffle = *flagShuffle
		case "rand_skip":
			config.RandSkip = *flagRandSkip
		case "seed":
			config.Seed = *flagSeed
		case "prefetch":
			config.PrefetchCount = *flagPrefetch
		case "crop":
			config.Transform.CropSize = *flagCrop
		case "mirror":
			config.Transform.Mirror = *flagMirror
		case "scale":
			config.Transform.Scale = float32(*flagScale)
		}
	})
	err = config.Validate()
	return
}

// benchStats collected while reading batches.
type benchStats struct {
	shape      [4]int
	numRecords int
	steps      int
	elapsed    time.Duration
	firstBatch time.Duration
	values     int64
	labels     map[int32]int
}

// run reads numSteps batches and collects statistics.
func run(config multiimage.Config, numSteps int) (*benchStats, error) {
	start := time.Now()
	pipeline, err := multiimage.New(config, nil)
	if err != nil {
		return nil, err
	}
	defer pipeline.Close()
	stats := &benchStats{
		shape:      pipeline.Shape(),
		numRecords: pipeline.NumRecords(),
		labels:     make(map[int32]int),
	}
	klog.V(1).Infof("Pipeline set up in %s", time.Since(start))

	term := termenv.NewOutput(os.Stdout)
	term.HideCursor()
	defer term.ShowCursor()
	bar := progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("Reading batches"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	start = time.Now()
	err = pipeline.ForEach(context.Background(), numSteps, func(batch *multiimage.Batch) error {
		if stats.steps == 0 {
			stats.firstBatch = time.Since(start)
		}
		stats.steps++
		stats.values += int64(len(batch.Data))
		for _, label := range batch.Labels {
			stats.labels[label]++
		}
		return bar.Add(1)
	})
	stats.elapsed = time.Since(start)
	if finishErr := bar.Finish(); err == nil {
		err = finishErr
	}
	if err != nil {
		return nil, err
	}
	if stats.steps == 0 {
		return nil, errors.Errorf("no batches read, -steps=%d", numSteps)
	}
	return stats, nil
}
