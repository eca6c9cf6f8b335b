// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package prefetch implements a ring of reusable buffers filled ahead of time by one background goroutine.
//
// The Ring is created with a fixed set of slots (e.g. 3 pre-allocated batches) and a fill function.
// A single worker takes free slots, fills them, and publishes them in FIFO order. The consumer takes
// filled slots with Ring.Next and gives them back with Ring.Release once done.
//
// At any time each slot is owned by exactly one of: the free pool, the worker, the queue of filled
// slots or the consumer. Ownership only moves through channels, so the fill function and the consumer
// never access the same slot at the same time.
//
// Example:
//
//	ring := prefetch.New(slots, fillFn)
//	ring.Start()
//	defer ring.Stop()
//	for {
//		slot, err := ring.Next(ctx)
//		if err != nil {
//			return err
//		}
//		consume(slot)
//		if err = ring.Release(slot); err != nil {
//			return err
//		}
//	}
package prefetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/multiimage/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultCount is the default number of slots in flight.
const DefaultCount = 3

var (
	// ErrStopped is returned by Ring.Next after Ring.Stop was called.
	ErrStopped = errors.New("prefetch ring stopped")

	// ErrNotOwned is returned by Ring.Release for a slot that is not currently held by the consumer.
	ErrNotOwned = errors.New("slot not owned by the consumer")
)

// FillFn fills one slot. It is only ever called from the Ring's worker goroutine.
//
// It should return promptly after ctx is cancelled (when the Ring is stopped), checking it between
// discrete steps. Any other error is fatal: the worker stops and the error is returned by Ring.Next.
type FillFn[T comparable] func(ctx context.Context, slot T) error

// Owner of a slot.
type Owner int

const (
	OwnerFree Owner = iota
	OwnerProducer
	OwnerQueue
	OwnerConsumer
)

// String implements fmt.Stringer.
func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerProducer:
		return "producer"
	case OwnerQueue:
		return "queue"
	case OwnerConsumer:
		return "consumer"
	}
	return fmt.Sprintf("Owner(%d)", int(o))
}

// Ring of prefetched slots. See New.
type Ring[T comparable] struct {
	fill       FillFn[T]
	numSlots   int
	free, full chan T

	ctx    context.Context
	cancel context.CancelFunc

	// exit completes when the worker returns, with the error that stopped it, if any.
	exit *xsync.Completion

	muOwners sync.Mutex
	owners   map[T]Owner
	started  bool
}

// New creates a Ring over the given slots, filled by fill. Slots must be distinct values
// (typically pointers to pre-allocated buffers), and are reused for the lifetime of the Ring.
//
// Call Ring.Start to start prefetching and Ring.Stop to release the worker goroutine.
func New[T comparable](slots []T, fill FillFn[T]) *Ring[T] {
	r := &Ring[T]{
		fill:     fill,
		numSlots: len(slots),
		free:     make(chan T, len(slots)),
		full:     make(chan T, len(slots)),
		exit:     xsync.NewCompletion(),
		owners:   make(map[T]Owner, len(slots)),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	for _, slot := range slots {
		if _, found := r.owners[slot]; found {
			exceptions.Panicf("prefetch.New: slot %v given more than once", slot)
		}
		r.owners[slot] = OwnerFree
		r.free <- slot
	}
	return r
}

// Start the worker goroutine. It returns an error if called more than once, or if the Ring has no slots.
func (r *Ring[T]) Start() error {
	r.muOwners.Lock()
	defer r.muOwners.Unlock()
	if r.started {
		return errors.New("prefetch.Ring.Start called more than once")
	}
	if r.numSlots == 0 {
		return errors.New("prefetch.Ring has no slots to prefetch into")
	}
	r.started = true
	go r.run()
	return nil
}

// Stop signals the worker to exit and waits for it. The fill in progress, if any, is abandoned
// as soon as the fill function observes the cancelled context.
//
// It is safe to call Stop more than once, or on a Ring that was never started.
func (r *Ring[T]) Stop() {
	r.cancel()
	r.muOwners.Lock()
	started := r.started
	r.muOwners.Unlock()
	if started {
		_ = r.exit.Wait()
	}
}

// Err returns the error that stopped the worker, or nil.
func (r *Ring[T]) Err() error {
	return r.exit.Err()
}

// Next blocks until the next filled slot is available and transfers its ownership to the caller,
// who must give it back with Release.
//
// Slots are returned in the order they were filled. Slots filled before a worker failure are still
// delivered, after that Next returns the worker's error. After Stop it returns ErrStopped.
func (r *Ring[T]) Next(ctx context.Context) (slot T, err error) {
	if r.ctx.Err() != nil {
		err = ErrStopped
		return
	}
	select {
	case slot = <-r.full:
		r.transfer(slot, OwnerQueue, OwnerConsumer)
		return
	default:
	}
	select {
	case slot = <-r.full:
		r.transfer(slot, OwnerQueue, OwnerConsumer)
	case <-r.exit.Done():
		// Worker exited: deliver what was completed before, then report why it exited.
		select {
		case slot = <-r.full:
			r.transfer(slot, OwnerQueue, OwnerConsumer)
		default:
			err = r.Err()
			if err == nil {
				err = ErrStopped
			}
		}
	case <-r.ctx.Done():
		err = ErrStopped
	case <-ctx.Done():
		err = ctx.Err()
	}
	return
}

// Release gives a slot obtained with Next back to the Ring, to be filled again.
func (r *Ring[T]) Release(slot T) error {
	r.muOwners.Lock()
	owner, found := r.owners[slot]
	if !found || owner != OwnerConsumer {
		r.muOwners.Unlock()
		if !found {
			return errors.Wrapf(ErrNotOwned, "slot %v doesn't belong to the ring", slot)
		}
		return errors.Wrapf(ErrNotOwned, "slot %v is owned by %s", slot, owner)
	}
	r.owners[slot] = OwnerFree
	r.muOwners.Unlock()
	r.free <- slot // Never blocks: the channel has room for all slots.
	return nil
}

// Owner returns the current owner of slot. Used for debugging and testing.
func (r *Ring[T]) Owner(slot T) Owner {
	r.muOwners.Lock()
	defer r.muOwners.Unlock()
	return r.owners[slot]
}

// OwnerCounts returns how many slots each owner currently holds. The counts always add up to the number of slots.
func (r *Ring[T]) OwnerCounts() map[Owner]int {
	r.muOwners.Lock()
	defer r.muOwners.Unlock()
	counts := make(map[Owner]int, 4)
	for _, owner := range r.owners {
		counts[owner]++
	}
	return counts
}

// transfer moves ownership of slot, checking that it was held by from.
func (r *Ring[T]) transfer(slot T, from, to Owner) {
	r.muOwners.Lock()
	defer r.muOwners.Unlock()
	if current := r.owners[slot]; current != from {
		exceptions.Panicf("prefetch: slot %v expected to be owned by %s, but it is owned by %s", slot, from, current)
	}
	r.owners[slot] = to
}

// run is the worker loop.
func (r *Ring[T]) run() {
	var err error
	defer func() { r.exit.Complete(err) }()
	for {
		var slot T
		select {
		case <-r.ctx.Done():
			return
		case slot = <-r.free:
		}
		r.transfer(slot, OwnerFree, OwnerProducer)
		err = r.fillSlot(slot)
		if err != nil {
			r.transfer(slot, OwnerProducer, OwnerFree)
			r.free <- slot
			if r.ctx.Err() != nil {
				// Stopped in the middle of a fill: not a failure.
				err = nil
				return
			}
			klog.Errorf("prefetch worker stopped: %+v", err)
			return
		}
		r.transfer(slot, OwnerProducer, OwnerQueue)
		select {
		case <-r.ctx.Done():
			return
		case r.full <- slot:
		}
	}
}

// fillSlot calls the fill function, converting a panic into an error.
func (r *Ring[T]) fillSlot(slot T) (err error) {
	exception := exceptions.Try(func() { err = r.fill(r.ctx, slot) })
	if exception != nil {
		if e, ok := exception.(error); ok {
			err = errors.WithMessage(e, "prefetch fill function panicked")
		} else {
			err = errors.Errorf("prefetch fill function panicked: %v", exception)
		}
	}
	return
}
