// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package multiimage

import (
	"context"

	"github.com/gomlx/multiimage/pkg/data/prefetch"
	"github.com/gomlx/multiimage/pkg/data/transform"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pipeline prefetches batches in a background goroutine, using an Assembler to fill a fixed set of
// PrefetchCount batch buffers.
//
// Batches returned by Next are owned by the caller until given back with Release. Close must be called
// to stop the background goroutine.
type Pipeline struct {
	config    Config
	assembler *Assembler
	ring      *prefetch.Ring[*Batch]
	batches   []*Batch
}

// New creates the Assembler (see NewAssembler) and starts prefetching.
//
// If transformer is nil, a transform.DataTransformer is created from config.Transform.
func New(config Config, transformer transform.Transformer) (p *Pipeline, err error) {
	p = &Pipeline{config: config}
	p.assembler, err = NewAssembler(config, transformer)
	if err != nil {
		return nil, err
	}
	count := config.PrefetchCount
	if count == 0 {
		count = prefetch.DefaultCount
	}
	p.batches = make([]*Batch, count)
	for ii := range p.batches {
		p.batches[ii] = p.assembler.NewBatch()
	}
	p.ring = prefetch.New(p.batches, p.assembler.Fill)
	defer func() {
		if err != nil {
			p.Close()
			p = nil
		}
	}()
	if err = p.ring.Start(); err != nil {
		return
	}
	klog.V(1).Infof("Prefetching %d batches shaped %v", count, p.assembler.Shape())
	return
}

// Next blocks until the next batch is ready and returns it. The batch must be given back with Release
// once the caller is done with it.
//
// It returns the error of the background assembler (e.g.: images.ErrDecode) once the batches
// assembled before the failure have been consumed, prefetch.ErrStopped after Close, or ctx.Err()
// if ctx is cancelled while waiting.
func (p *Pipeline) Next(ctx context.Context) (*Batch, error) {
	return p.ring.Next(ctx)
}

// Release gives back a batch returned by Next, so it can be filled again.
func (p *Pipeline) Release(batch *Batch) error {
	return p.ring.Release(batch)
}

// Close stops the background goroutine and waits for it. It is safe to call more than once.
func (p *Pipeline) Close() {
	p.ring.Stop()
}

// ForEach calls fn with the next numBatches batches, releasing each after fn returns.
// If numBatches <= 0 it loops until an error occurs.
// It stops at the first error returned by Next, fn or Release.
func (p *Pipeline) ForEach(ctx context.Context, numBatches int, fn func(batch *Batch) error) error {
	for ii := 0; numBatches <= 0 || ii < numBatches; ii++ {
		batch, err := p.Next(ctx)
		if err != nil {
			return errors.WithMessagef(err, "reading batch #%d", ii)
		}
		err = fn(batch)
		if releaseErr := p.Release(batch); err == nil {
			err = releaseErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Shape of the batches: [BatchSize, GroupSize*Channels, Height, Width].
func (p *Pipeline) Shape() [4]int { return p.assembler.Shape() }

// NumRecords in the manifest.
func (p *Pipeline) NumRecords() int { return p.assembler.NumRecords() }

// Config used to create the pipeline.
func (p *Pipeline) Config() Config { return p.config }

// OwnerCounts returns how many batch buffers are held by each owner. See prefetch.Ring.OwnerCounts.
func (p *Pipeline) OwnerCounts() map[prefetch.Owner]int { return p.ring.OwnerCounts() }
