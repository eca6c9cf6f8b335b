// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletion(t *testing.T) {
	c := NewCompletion()
	assert.False(t, c.IsDone())
	assert.NoError(t, c.Err())

	first := errors.New("first")
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Complete(first)
	}()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("never completed")
	}
	c.Complete(errors.New("second")) // No-op.
	require.True(t, c.IsDone())
	assert.Equal(t, first, c.Wait())
	assert.Equal(t, first, c.Err())
}

func TestCompletionClean(t *testing.T) {
	c := NewCompletion()
	c.Complete(nil)
	require.True(t, c.IsDone())
	assert.NoError(t, c.Wait())
}
