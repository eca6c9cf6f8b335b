// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import "sync"

// Completion signals, once and for all, that a task finished, along with the error that
// ended it (nil for a clean exit).
//
// Any number of goroutines can wait on it, or select on Completion.Done.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewCompletion returns a pending Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Complete marks the task as finished with err. Only the first call has any effect.
func (c *Completion) Complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done returns a channel closed on completion.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until completion and returns the task's error.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// IsDone returns whether the task completed, without blocking.
func (c *Completion) IsDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns the task's error if it completed, or nil if it is still pending.
func (c *Completion) Err() error {
	if !c.IsDone() {
		return nil
	}
	return c.err
}
