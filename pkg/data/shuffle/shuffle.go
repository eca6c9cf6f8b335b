// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shuffle implements an unbiased Fisher-Yates shuffle over an owned random number generator.
//
// A Shuffler is seeded once and then advanced by every call, so consecutive epochs get
// independent permutations, while the whole sequence of permutations is reproducible from the seed.
package shuffle

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// Source yields uniformly distributed unsigned 32-bit integers.
//
// *rand.Rand from golang.org/x/exp/rand and math/rand implement it.
type Source interface {
	Uint32() uint32
}

// Shuffler owns a random Source and uses it to permute slices and draw bounded integers.
//
// It is not safe for concurrent use: it is meant to be owned by a single goroutine.
type Shuffler struct {
	src   Source
	count uint64
}

// New returns a Shuffler backed by a PCG generator seeded with seed.
func New(seed uint64) *Shuffler {
	return NewWithSource(rand.New(rand.NewSource(seed)))
}

// NewWithSource returns a Shuffler that draws from the given src.
func NewWithSource(src Source) *Shuffler {
	return &Shuffler{src: src}
}

// Count returns how many shuffles were performed so far.
func (s *Shuffler) Count() uint64 {
	return s.count
}

// Intn returns a uniformly distributed integer in [0, n).
//
// It uses rejection sampling on the 32-bit source, so there is no modulo bias.
// It panics if n <= 0 or n > math.MaxUint32.
func (s *Shuffler) Intn(n int) int {
	if n <= 0 || uint64(n) > math.MaxUint32 {
		panic(errors.Errorf("shuffle.Intn(%d): n must be in the range [1, %d]", n, uint64(math.MaxUint32)))
	}
	bound := uint32(n)
	// threshold == 2^32 mod bound: values below it would over-represent the first residues.
	threshold := -bound % bound
	for {
		r := s.src.Uint32()
		if r >= threshold {
			return int(r % bound)
		}
	}
}

// Shuffle permutes n elements, calling swap to exchange elements i and j.
// All n! orderings are equally likely.
func (s *Shuffler) Shuffle(n int, swap func(i, j int)) {
	s.count++
	for ii := n - 1; ii > 0; ii-- {
		jj := s.Intn(ii + 1)
		if jj != ii {
			swap(ii, jj)
		}
	}
}

// Slice shuffles values in place using s.
func Slice[T any](s *Shuffler, values []T) {
	s.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})
}
