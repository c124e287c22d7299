// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sample implements the per-kind merge arithmetic for DataSample:
// the rules that combine two same-kind, same-dimension samples from
// different machines into one.
package sample

import (
	"errors"
	"fmt"
	"math"

	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// ErrPercentileMerge is returned whenever a merge is attempted with a
// per-machine Percentile sample on either side; percentile samples are
// only ever produced by post-aggregation, never merged.
var ErrPercentileMerge = errors.New("[SAMPLE]> percentile samples cannot be merged, only produced by post-aggregation")

// ErrKindMismatch is returned when the two samples do not share a kind.
var ErrKindMismatch = errors.New("[SAMPLE]> cannot merge samples of different kinds")

// ErrDimensionMismatch is returned when the two samples' dimension sets
// differ under case-insensitive comparison.
var ErrDimensionMismatch = errors.New("[SAMPLE]> cannot merge samples with different dimensions")

// ErrCountOverflow is returned by the Average merge when the combined
// weight overflows int64.
var ErrCountOverflow = errors.New("[SAMPLE]> merged sample count overflows int64")

// Merge combines a and b, both of the same SampleKind and with identical
// DimensionSpecs (case-insensitive), into a new DataSample. a and b are
// left unmodified.
func Merge(a, b *schema.DataSample) (*schema.DataSample, error) {
	if a == nil {
		return b.Clone(), nil
	}
	if b == nil {
		return a.Clone(), nil
	}
	if a.Kind != b.Kind {
		return nil, fmt.Errorf("%w: %s vs %s", ErrKindMismatch, a.Kind, b.Kind)
	}
	if a.Kind == schema.Percentile {
		return nil, ErrPercentileMerge
	}
	if !a.Dimensions.Equal(b.Dimensions) {
		return nil, ErrDimensionMismatch
	}

	out := &schema.DataSample{
		Kind:       a.Kind,
		Dimensions: a.Dimensions.Clone(),
		Start:      minInt64(a.Start, b.Start),
		End:        maxInt64(a.End, b.End),
	}
	out.MachineCount = mergeMachineCount(a.MachineCount, b.MachineCount)

	switch a.Kind {
	case schema.HitCount:
		out.Hits = a.Hits + b.Hits

	case schema.Histogram:
		out.Histo = make(map[int64]int64, len(a.Histo)+len(b.Histo))
		for k, v := range a.Histo {
			out.Histo[k] += v
		}
		for k, v := range b.Histo {
			out.Histo[k] += v
		}
		out.HistoCount = a.HistoCount + b.HistoCount

	case schema.Average:
		n, err := checkedAdd(a.N, b.N)
		if err != nil {
			return nil, err
		}
		out.N = n
		if n == 0 {
			out.Avg = 0
		} else {
			// Numerically stable weighted mean: weight each side's average
			// by its share of the combined count rather than summing
			// a.avg*a.n + b.avg*b.n directly, which can overflow for large
			// counts before the division ever happens.
			wa := float64(a.N) / float64(n)
			wb := float64(b.N) / float64(n)
			out.Avg = wa*a.Avg + wb*b.Avg
		}

	case schema.Min:
		out.Extreme = math.Min(a.Extreme, b.Extreme)
		out.ExtCount = a.ExtCount + b.ExtCount

	case schema.Max:
		out.Extreme = math.Max(a.Extreme, b.Extreme)
		out.ExtCount = a.ExtCount + b.ExtCount

	default:
		return nil, fmt.Errorf("[SAMPLE]> unhandled sample kind %s", a.Kind)
	}

	return out, nil
}

// mergeMachineCount implements the §4.1 rule: sum unless both sides are
// zero, in which case the result is 1 (a single contributing machine that
// never set machine_count explicitly).
func mergeMachineCount(a, b int64) int64 {
	if a == 0 && b == 0 {
		return 1
	}
	return a + b
}

func checkedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrCountOverflow
	}
	return sum, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MergeAll folds a slice of same-kind, same-dimension samples pairwise,
// left to right. Returns nil, nil for an empty slice.
func MergeAll(samples []*schema.DataSample) (*schema.DataSample, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	acc := samples[0]
	for _, s := range samples[1:] {
		merged, err := Merge(acc, s)
		if err != nil {
			log.Warnf("MergeAll: %v", err)
			return nil, err
		}
		acc = merged
	}
	return acc, nil
}
