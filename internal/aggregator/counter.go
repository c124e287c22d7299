// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aggregator implements the response aggregators that merge
// per-counter, time-bucketed samples from many machines: CounterAggregator,
// BatchAggregator and CounterInfoCombiner.
package aggregator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-backend/internal/sample"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

type bucketKey struct {
	dims  string
	start int64
	end   int64
}

// CounterAggregator accumulates per-machine CounterQueryResponses for a
// single counter, optionally collapsing time buckets and applying a
// post-aggregation percentile conversion. All methods are safe for
// concurrent use; mutations are serialized by mu so GetResponse always
// observes every AddMachineResponse call that happened-before it.
type CounterAggregator struct {
	mu sync.Mutex

	buckets map[bucketKey]*schema.DataSample
	order   []bucketKey // insertion order of first contribution to each bucket

	percentileParam string
	percentileSet   bool
}

// NewCounterAggregator returns an empty aggregator ready to accept
// machine responses.
func NewCounterAggregator() *CounterAggregator {
	return &CounterAggregator{
		buckets: make(map[bucketKey]*schema.DataSample),
	}
}

// AddMachineResponse merges in the samples of one per-machine response.
// It rejects the whole call (without mutating state) if any sample is a
// per-machine Percentile, since such a sample cannot be merged further.
func (c *CounterAggregator) AddMachineResponse(resp *schema.CounterQueryResponse) error {
	if resp == nil {
		return nil
	}
	for _, s := range resp.Samples {
		if s.Kind == schema.Percentile {
			return fmt.Errorf("[AGGREGATOR]> machine response contains a per-machine Percentile sample, which cannot be merged")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range resp.Samples {
		key := bucketKey{dims: s.Dimensions.Key(), start: s.Start, end: s.End}
		existing, ok := c.buckets[key]
		if !ok {
			c.buckets[key] = s.Clone()
			c.order = append(c.order, key)
			continue
		}

		merged, err := sample.Merge(existing, s)
		if err != nil {
			return err
		}
		c.buckets[key] = merged
	}

	return nil
}

// ApplyPercentileCalculationAggregation inspects params (case-insensitive)
// for the reserved "percentile" dimension. If recognized, it records the
// intent on the aggregator (Histogram samples are converted to Percentile
// at GetResponse time) and returns a copy of params with "percentile"
// removed, so that requests sent further downstream ask sources for raw
// Histograms instead of a pre-filtered percentile value. A nil params
// returns an empty DimensionSpec; params without a recognized percentile
// key return an unchanged copy of params.
// Calling this twice with the same params is idempotent: the state it
// records does not change on the second call.
func (c *CounterAggregator) ApplyPercentileCalculationAggregation(params *schema.DimensionSpec) *schema.DimensionSpec {
	if params == nil {
		return schema.NewDimensionSpec(nil)
	}

	out := params.Clone()
	raw, ok := out.Get(schema.DimPercentile)
	if !ok {
		return out
	}

	parsed, ok := sample.ParsePercentileParam(raw)
	if !ok {
		log.Warnf("ApplyPercentileCalculationAggregation: unrecognized percentile value %q, ignoring", raw)
		return out
	}

	c.mu.Lock()
	c.percentileParam = parsed
	c.percentileSet = true
	c.mu.Unlock()

	out.Delete(schema.DimPercentile)
	return out
}

// GetResponse produces the aggregator's current CounterQueryResponse. If
// collapseTimeBuckets is true, all buckets sharing a DimensionSpec are
// merged into one via iterated pairwise SampleMerger calls before any
// configured percentile conversion runs.
func (c *CounterAggregator) GetResponse(collapseTimeBuckets bool) (*schema.CounterQueryResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var samples []*schema.DataSample
	if collapseTimeBuckets {
		groupOrder := make([]string, 0, len(c.order))
		groups := make(map[string][]*schema.DataSample)
		for _, key := range c.order {
			if _, seen := groups[key.dims]; !seen {
				groupOrder = append(groupOrder, key.dims)
			}
			groups[key.dims] = append(groups[key.dims], c.buckets[key])
		}
		for _, dimsKey := range groupOrder {
			merged, err := sample.MergeAll(groups[dimsKey])
			if err != nil {
				return nil, err
			}
			samples = append(samples, merged)
		}
	} else {
		samples = make([]*schema.DataSample, 0, len(c.order))
		for _, key := range c.order {
			samples = append(samples, c.buckets[key])
		}
	}

	if c.percentileSet {
		for i, s := range samples {
			if s.Kind == schema.Histogram {
				samples[i] = sample.ToPercentile(s, c.percentileParam)
			}
		}
	}

	return &schema.CounterQueryResponse{Samples: samples}, nil
}

// normalizeKey lowercases a dimension map key for case-insensitive lookup,
// used by the info combiner as well.
func normalizeKey(s string) string { return strings.ToLower(s) }
