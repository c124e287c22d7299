// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func minuteDims() *schema.DimensionSpec {
	d := schema.NewDimensionSpec(nil)
	d.Set("host", "node01")
	return d
}

// Seed scenario 1: "Smash-together" — 10 one-minute HitCount buckets,
// aggregate=true collapses them to one sample spanning the whole range.
func TestSmashTogether(t *testing.T) {
	agg := NewCounterAggregator()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	var samples []*schema.DataSample
	for i := 0; i < 10; i++ {
		samples = append(samples, &schema.DataSample{
			Kind:       schema.HitCount,
			Dimensions: minuteDims(),
			Start:      base + int64(i)*60_000,
			End:        base + int64(i+1)*60_000,
			Hits:       1,
		})
	}
	require.NoError(t, agg.AddMachineResponse(&schema.CounterQueryResponse{Samples: samples}))

	resp, err := agg.GetResponse(true)
	require.NoError(t, err)
	require.Len(t, resp.Samples, 1)
	assert.EqualValues(t, 10, resp.Samples[0].Hits)
	assert.Equal(t, base, resp.Samples[0].Start)
	assert.Equal(t, base+10*60_000, resp.Samples[0].End)
}

// Seed scenario 3: with collapseTimeBuckets=false, disjoint time ranges
// never collapse into each other.
func TestDisjointTimeRangesStayDistinct(t *testing.T) {
	agg := NewCounterAggregator()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	dayBefore := base - 24*3600_000

	var samples []*schema.DataSample
	for i := 0; i < 5; i++ {
		samples = append(samples, &schema.DataSample{
			Kind: schema.HitCount, Dimensions: minuteDims(),
			Start: base + int64(i)*60_000, End: base + int64(i+1)*60_000, Hits: 1,
		})
		samples = append(samples, &schema.DataSample{
			Kind: schema.HitCount, Dimensions: minuteDims(),
			Start: dayBefore + int64(i)*60_000, End: dayBefore + int64(i+1)*60_000, Hits: 1,
		})
	}
	require.NoError(t, agg.AddMachineResponse(&schema.CounterQueryResponse{Samples: samples}))

	resp, err := agg.GetResponse(false)
	require.NoError(t, err)
	assert.Len(t, resp.Samples, 10)
}

// Seed scenario 4: post-aggregation percentile over a single histogram.
func TestPostAggregationPercentile(t *testing.T) {
	agg := NewCounterAggregator()
	dims := minuteDims()
	dims.Set("percentile", "99.999")
	stripped := agg.ApplyPercentileCalculationAggregation(dims)
	assert.False(t, stripped.Has("percentile"))

	histo := map[int64]int64{}
	for i := int64(1); i <= 10; i++ {
		histo[i] = 1
	}
	require.NoError(t, agg.AddMachineResponse(&schema.CounterQueryResponse{
		Samples: []*schema.DataSample{{
			Kind: schema.Histogram, Dimensions: minuteDims(),
			Start: 0, End: 60_000, Histo: histo, HistoCount: 10,
		}},
	}))

	resp, err := agg.GetResponse(false)
	require.NoError(t, err)
	require.Len(t, resp.Samples, 1)
	assert.Equal(t, schema.Percentile, resp.Samples[0].Kind)
	assert.Equal(t, 10.0, resp.Samples[0].PercValue)
}

func TestApplyPercentileIdempotent(t *testing.T) {
	agg := NewCounterAggregator()
	dims := minuteDims()
	dims.Set("percentile", "50")

	first := agg.ApplyPercentileCalculationAggregation(dims)
	second := agg.ApplyPercentileCalculationAggregation(first)

	assert.Equal(t, "50", agg.percentileParam)
	assert.False(t, second.Has("percentile"))
}

func TestAddMachineResponseRejectsPercentileSample(t *testing.T) {
	agg := NewCounterAggregator()
	err := agg.AddMachineResponse(&schema.CounterQueryResponse{
		Samples: []*schema.DataSample{{Kind: schema.Percentile, Dimensions: minuteDims()}},
	})
	require.Error(t, err)
}

// Seed scenario 2: 15 identical single-bucket responses -> machine_count 15.
func TestCountedMachines(t *testing.T) {
	agg := NewCounterAggregator()
	for i := 0; i < 15; i++ {
		require.NoError(t, agg.AddMachineResponse(&schema.CounterQueryResponse{
			Samples: []*schema.DataSample{{
				Kind: schema.HitCount, Dimensions: minuteDims(),
				Start: 0, End: 60_000, Hits: 1, MachineCount: 1,
			}},
		}))
	}
	resp, err := agg.GetResponse(false)
	require.NoError(t, err)
	require.Len(t, resp.Samples, 1)
	assert.EqualValues(t, 15, resp.Samples[0].MachineCount)
	assert.EqualValues(t, 15, resp.Samples[0].Hits)
}
