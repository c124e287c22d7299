// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bufpool provides tiered byte-slice pooling for the buffers
// the fanout engine and HTTP handlers churn through on every request:
// encoded request/response bodies, decompression scratch space.
package bufpool

import "sync"

const (
	smallSize  = 4 * 1024
	mediumSize = 64 * 1024
	largeSize  = 1024 * 1024
)

var (
	small = sync.Pool{New: func() any { return make([]byte, 0, smallSize) }}
	medium = sync.Pool{New: func() any { return make([]byte, 0, mediumSize) }}
	large = sync.Pool{New: func() any { return make([]byte, 0, largeSize) }}
)

// Get returns a zero-length byte slice with capacity at least size,
// drawn from the smallest tier that fits. Buffers larger than the
// largest tier are allocated directly and never pooled.
func Get(size int) []byte {
	switch {
	case size <= smallSize:
		return small.Get().([]byte)[:0]
	case size <= mediumSize:
		return medium.Get().([]byte)[:0]
	case size <= largeSize:
		return large.Get().([]byte)[:0]
	default:
		return make([]byte, 0, size)
	}
}

// Put returns buf to the tier matching its capacity. Buffers outside
// every tier's capacity are dropped for the garbage collector to
// reclaim instead of being forced into an ill-fitting pool.
func Put(buf []byte) {
	switch cap(buf) {
	case smallSize:
		small.Put(buf)
	case mediumSize:
		medium.Put(buf)
	case largeSize:
		large.Put(buf)
	}
}
