// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package prefetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

type testSlot struct {
	seq int
}

func newTestSlots(n int) []*testSlot {
	slots := make([]*testSlot, n)
	for ii := range slots {
		slots[ii] = &testSlot{}
	}
	return slots
}

func TestRingOrderAndReuse(t *testing.T) {
	slots := newTestSlots(DefaultCount)
	var count int
	ring := New(slots, func(_ context.Context, slot *testSlot) error {
		slot.seq = count
		count++ // Only the worker goroutine touches count.
		return nil
	})
	require.NoError(t, ring.Start())
	defer ring.Stop()
	require.Error(t, ring.Start(), "Start twice must fail")

	seen := make(map[*testSlot]bool)
	ctx := context.Background()
	for ii := 0; ii < 50; ii++ {
		slot, err := ring.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, ii, slot.seq, "slots must be delivered in FIFO order")
		require.Equal(t, OwnerConsumer, ring.Owner(slot))
		counts := ring.OwnerCounts()
		require.Equal(t, 1, counts[OwnerConsumer], "consumer holds exactly one slot")
		require.Equal(t, DefaultCount, counts[OwnerFree]+counts[OwnerProducer]+counts[OwnerQueue]+counts[OwnerConsumer])
		seen[slot] = true
		require.NoError(t, ring.Release(slot))
	}
	assert.Len(t, seen, DefaultCount, "no slots allocated beyond the initial ones")
}

func TestRingBackpressure(t *testing.T) {
	var calls atomic.Int32
	ring := New(newTestSlots(3), func(_ context.Context, _ *testSlot) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, ring.Start())
	defer ring.Stop()
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "worker must block when all slots are filled")
	assert.Equal(t, 3, ring.OwnerCounts()[OwnerQueue])

	slot, err := ring.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, ring.Release(slot))
	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, time.Millisecond)
}

func TestRingFillError(t *testing.T) {
	fillErr := errors.New("corrupt image")
	var calls int
	ring := New(newTestSlots(2), func(_ context.Context, slot *testSlot) error {
		calls++
		if calls == 2 {
			return fillErr
		}
		return nil
	})
	require.NoError(t, ring.Start())
	defer ring.Stop()
	ctx := context.Background()
	slot, err := ring.Next(ctx)
	require.NoError(t, err, "slots completed before the failure are still delivered")
	require.NoError(t, ring.Release(slot))
	_, err = ring.Next(ctx)
	require.ErrorIs(t, err, fillErr)
	require.ErrorIs(t, ring.Err(), fillErr)
	_, err = ring.Next(ctx)
	require.ErrorIs(t, err, fillErr, "failure is sticky")
}

func TestRingFillPanic(t *testing.T) {
	ring := New(newTestSlots(1), func(_ context.Context, _ *testSlot) error {
		panic(errors.New("boom"))
	})
	require.NoError(t, ring.Start())
	defer ring.Stop()
	_, err := ring.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRingStopDuringFill(t *testing.T) {
	started := make(chan struct{})
	ring := New(newTestSlots(2), func(ctx context.Context, _ *testSlot) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, ring.Start())
	<-started

	stopped := make(chan struct{})
	go func() {
		ring.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop deadlocked while the worker was filling")
	}
	ring.Stop() // Idempotent.
	require.NoError(t, ring.Err(), "stopping is not a failure")
	_, err := ring.Next(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}

func TestRingNextCancelled(t *testing.T) {
	block := make(chan struct{})
	ring := New(newTestSlots(1), func(ctx context.Context, _ *testSlot) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	require.NoError(t, ring.Start())
	defer ring.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ring.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRingReleaseNotOwned(t *testing.T) {
	slots := newTestSlots(2)
	ring := New(slots, func(_ context.Context, _ *testSlot) error { return nil })
	require.NoError(t, ring.Start())
	defer ring.Stop()

	require.ErrorIs(t, ring.Release(&testSlot{}), ErrNotOwned)
	slot, err := ring.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, ring.Release(slot))
	require.ErrorIs(t, ring.Release(slot), ErrNotOwned, "double release")
}

func TestRingNoSlots(t *testing.T) {
	ring := New[*testSlot](nil, func(_ context.Context, _ *testSlot) error { return nil })
	require.Error(t, ring.Start())
	ring.Stop()
}
