// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package multiimage assembles batches of multi-image samples and prefetches them in the background.
//
// Each sample is a group of GroupSize images (e.g.: the frames of a clip, or the views of an object)
// plus an integer label, listed in a manifest file (see package manifest). The images of a group are
// decoded, resized and transformed into a contiguous block of the batch, with the channels of
// consecutive images stacked: a batch is shaped [BatchSize, GroupSize*Channels, Height, Width].
//
// Use New to create a Pipeline, and then call Next/Release in a loop:
//
//	pipeline, err := multiimage.New(config, nil)
//	if err != nil { ... }
//	defer pipeline.Close()
//	for {
//		batch, err := pipeline.Next(ctx)
//		if err != nil { ... }
//		// ... use batch.Data and batch.Labels ...
//		_ = pipeline.Release(batch)
//	}
package multiimage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gomlx/multiimage/pkg/data/images"
	"github.com/gomlx/multiimage/pkg/data/manifest"
	"github.com/gomlx/multiimage/pkg/data/shuffle"
	"github.com/gomlx/multiimage/pkg/data/transform"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrInsufficientData is returned (wrapped) when the manifest has no records, or fewer than rand_skip.
var ErrInsufficientData = errors.New("insufficient data")

// State of an Assembler.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFilling
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	case StateFilling:
		return "Filling"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Batch holds the data of BatchSize samples. It is allocated once (see Assembler.NewBatch) and reused.
type Batch struct {
	// Data shaped [BatchSize, GroupSize*Channels, Height, Width], row-major.
	Data []float32

	// Labels shaped [BatchSize].
	Labels []int32

	// Shape of Data: [BatchSize, GroupSize*Channels, Height, Width].
	Shape [4]int

	// Step is the sequential number of the batch since the assembler was created, starting at 0.
	Step int
}

// ItemSize is the number of values of one sample.
func (b *Batch) ItemSize() int {
	return b.Shape[1] * b.Shape[2] * b.Shape[3]
}

// Item returns the slice of Data holding the sample at position item.
func (b *Batch) Item(item int) []float32 {
	size := b.ItemSize()
	return b.Data[item*size : (item+1)*size]
}

// Assembler reads the manifest, keeps the cursor over the (optionally shuffled) records and fills
// batches one sample at a time.
//
// It is not safe for concurrent use: it is meant to be driven by a single producer, see Pipeline.
type Assembler struct {
	config      Config
	records     []manifest.Record
	loader      *images.Loader
	transformer transform.Transformer
	rng         *shuffle.Shuffler

	// Per image shape after transformation, and the full batch shape.
	channels, height, width int
	shape                   [4]int

	cursor, epoch, step int
	state               State
	err                 error
}

// NewAssembler reads the manifest, shuffles and skips records as configured, and probes the first record
// to be read to infer the batch shape.
//
// If transformer is nil, a transform.DataTransformer is created from config.Transform.
func NewAssembler(config Config, transformer transform.Transformer) (*Assembler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transformer == nil {
		transformer = transform.New(config.Transform)
	}
	a := &Assembler{
		config:      config,
		transformer: transformer,
		loader: images.NewLoader(config.NewHeight, config.NewWidth, config.IsColor).
			WithParallelism(config.DecodeParallelism),
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		klog.Infof("Using random seed %d", seed)
	}
	a.rng = shuffle.New(seed)

	var err error
	a.records, err = manifest.Read(config.Source, config.RootFolder, config.GroupSize)
	if err != nil {
		return nil, err
	}
	if len(a.records) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData, "manifest %q has no records", config.Source)
	}
	for ii, record := range a.records {
		if record.Label < math.MinInt32 || record.Label > math.MaxInt32 {
			return nil, errors.Wrapf(manifest.ErrFormat, "record #%d of %q: label %d overflows int32",
				ii, config.Source, record.Label)
		}
	}
	if config.Shuffle {
		klog.Infof("Shuffling data")
		shuffle.Slice(a.rng, a.records)
	}
	if config.RandSkip > 0 {
		if config.RandSkip >= len(a.records) {
			return nil, errors.Wrapf(ErrInsufficientData, "rand_skip=%d requires more than %d records in %q",
				config.RandSkip, len(a.records), config.Source)
		}
		a.cursor = a.rng.Intn(config.RandSkip)
		klog.Infof("Skipping first %d data points", a.cursor)
	}

	// Probe the record at the cursor to infer the shape.
	group, err := a.loader.Load(a.records[a.cursor].Paths)
	if err != nil {
		return nil, errors.WithMessagef(err, "probing record #%d to infer the batch shape", a.cursor)
	}
	a.channels, a.height, a.width = a.transformer.InferShape(group[0])
	a.shape = [4]int{config.BatchSize, config.GroupSize * a.channels, a.height, a.width}
	klog.Infof("Output data size: %d,%d,%d,%d", a.shape[0], a.shape[1], a.shape[2], a.shape[3])
	a.state = StateReady
	return a, nil
}

// Shape of the batches: [BatchSize, GroupSize*Channels, Height, Width].
func (a *Assembler) Shape() [4]int { return a.shape }

// Cursor is the index of the next record to read. It is always in [0, NumRecords()).
func (a *Assembler) Cursor() int { return a.cursor }

// Epoch is the number of complete passes over the records so far.
func (a *Assembler) Epoch() int { return a.epoch }

// NumRecords in the manifest.
func (a *Assembler) NumRecords() int { return len(a.records) }

// State of the assembler.
func (a *Assembler) State() State { return a.state }

// NewBatch allocates a Batch with the assembler's shape.
func (a *Assembler) NewBatch() *Batch {
	return &Batch{
		Data:   make([]float32, a.shape[0]*a.shape[1]*a.shape[2]*a.shape[3]),
		Labels: make([]int32, a.shape[0]),
		Shape:  a.shape,
	}
}

// Fill batch with the next BatchSize samples, advancing the cursor. It has the signature of a prefetch.FillFn.
//
// The context is checked before each sample. On cancellation the partially filled batch must be discarded,
// and the records already read into it are consumed: the cursor (and epoch, if it wrapped) stays where the
// cancelled fill left it, and the next Fill continues from there.
// Any other error is fatal: the assembler moves to StateFailed and further calls return the same error.
func (a *Assembler) Fill(ctx context.Context, batch *Batch) error {
	switch a.state {
	case StateReady:
	case StateFailed:
		return a.err
	default:
		return errors.Errorf("multiimage.Assembler.Fill called in state %s", a.state)
	}
	if batch.Shape != a.shape || len(batch.Data) != a.shape[0]*batch.ItemSize() || len(batch.Labels) != a.shape[0] {
		return errors.Errorf("batch shaped %v (%d values, %d labels) doesn't match assembler shape %v",
			batch.Shape, len(batch.Data), len(batch.Labels), a.shape)
	}

	a.state = StateFilling
	start := time.Now()
	var readTime, transformTime time.Duration
	for item := range a.config.BatchSize {
		if err := ctx.Err(); err != nil {
			a.state = StateReady
			return err
		}
		record := a.records[a.cursor]
		readStart := time.Now()
		group, err := a.loader.Load(record.Paths)
		if err != nil {
			return a.fail(errors.WithMessagef(err, "loading record #%d", a.cursor))
		}
		if c, h, w := a.transformer.InferShape(group[0]); c != a.channels || h != a.height || w != a.width {
			return a.fail(errors.Wrapf(images.ErrShapeMismatch,
				"record #%d (%q) transforms to shape (%d, %d, %d), but batch was set up for (%d, %d, %d)",
				a.cursor, record.Paths[0], c, h, w, a.channels, a.height, a.width))
		}
		readTime += time.Since(readStart)

		transformStart := time.Now()
		if err := a.transformer.Transform(group, batch.Item(item)); err != nil {
			return a.fail(errors.WithMessagef(err, "transforming record #%d", a.cursor))
		}
		transformTime += time.Since(transformStart)
		batch.Labels[item] = int32(record.Label)
		a.advance()
	}
	batch.Step = a.step
	a.step++
	a.state = StateReady
	klog.V(1).Infof("Prefetch batch: %s.", time.Since(start))
	klog.V(1).Infof("     Read time: %s.", readTime)
	klog.V(1).Infof("Transform time: %s.", transformTime)
	return nil
}

// advance moves the cursor to the next record, restarting (and reshuffling, if enabled) at the end.
func (a *Assembler) advance() {
	a.cursor++
	if a.cursor < len(a.records) {
		return
	}
	a.cursor = 0
	a.epoch++
	klog.V(1).Infof("Restarting data prefetching from start (epoch %d).", a.epoch)
	if a.config.Shuffle {
		shuffle.Slice(a.rng, a.records)
	}
}

func (a *Assembler) fail(err error) error {
	a.state = StateFailed
	a.err = err
	return err
}
