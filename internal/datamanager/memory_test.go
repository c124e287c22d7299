// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package datamanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func TestMemoryQueryUnknownCounterReturnsErrNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.Query(context.Background(), "cpu_load", nil, 0, 1000)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryWriteThenQueryRoundTrips(t *testing.T) {
	m := NewMemory()
	dims := schema.NewDimensionSpec(map[string]string{"host": "node01"})

	err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
		{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 60_000, Hits: 1},
	})
	require.NoError(t, err)

	samples, err := m.Query(context.Background(), "cpu_load", nil, 0, 60_000)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.EqualValues(t, 1, samples[0].Hits)
}

func TestMemoryWriteMergesSameBucket(t *testing.T) {
	m := NewMemory()
	dims := schema.NewDimensionSpec(map[string]string{"host": "node01"})

	for i := 0; i < 3; i++ {
		err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
			{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 60_000, Hits: 1},
		})
		require.NoError(t, err)
	}

	samples, err := m.Query(context.Background(), "cpu_load", nil, 0, 60_000)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.EqualValues(t, 3, samples[0].Hits)
}

func TestMemoryQueryFiltersByDimension(t *testing.T) {
	m := NewMemory()
	err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
		{Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(map[string]string{"host": "node01"}), Start: 0, End: 60_000, Hits: 1},
		{Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(map[string]string{"host": "node02"}), Start: 0, End: 60_000, Hits: 1},
	})
	require.NoError(t, err)

	samples, err := m.Query(context.Background(), "cpu_load", schema.NewDimensionSpec(map[string]string{"host": "node02"}), 0, 60_000)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	got, _ := samples[0].Dimensions.Get("host")
	assert.Equal(t, "node02", got)
}

func TestMemoryQueryExcludesOutOfRangeBuckets(t *testing.T) {
	m := NewMemory()
	dims := schema.NewDimensionSpec(map[string]string{"host": "node01"})
	err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
		{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 60_000, Hits: 1},
		{Kind: schema.HitCount, Dimensions: dims, Start: 120_000, End: 180_000, Hits: 1},
	})
	require.NoError(t, err)

	samples, err := m.Query(context.Background(), "cpu_load", nil, 0, 60_000)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.EqualValues(t, 0, samples[0].Start)
}

func TestMemoryInfoReportsUnionedDimensionsAndTimeRange(t *testing.T) {
	m := NewMemory()
	err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
		{Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(map[string]string{"Host": "Node01"}), Start: 100, End: 200, Hits: 1},
		{Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(map[string]string{"host": "node02"}), Start: 50, End: 300, Hits: 1},
	})
	require.NoError(t, err)

	info, err := m.Info(context.Background(), "cpu_load")
	require.NoError(t, err)
	assert.Equal(t, []string{"host"}, info.Dimensions)
	assert.ElementsMatch(t, []string{"node01", "node02"}, info.DimensionValues["host"])
	assert.EqualValues(t, 50, info.StartTime)
	assert.EqualValues(t, 300, info.EndTime)
}

func TestMemoryLatestEndTimeTracksMax(t *testing.T) {
	m := NewMemory()
	dims := schema.NewDimensionSpec(map[string]string{"host": "node01"})
	assert.EqualValues(t, 0, m.LatestEndTime("cpu_load"))

	err := m.Write(context.Background(), "cpu_load", []*schema.DataSample{
		{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 60_000, Hits: 1},
		{Kind: schema.HitCount, Dimensions: dims, Start: 60_000, End: 120_000, Hits: 1},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 120_000, m.LatestEndTime("cpu_load"))
}

func TestMemoryCountersListsWrittenCounters(t *testing.T) {
	m := NewMemory()
	dims := schema.NewDimensionSpec(map[string]string{"host": "node01"})
	_ = m.Write(context.Background(), "b_counter", []*schema.DataSample{{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 1, Hits: 1}})
	_ = m.Write(context.Background(), "a_counter", []*schema.DataSample{{Kind: schema.HitCount, Dimensions: dims, Start: 0, End: 1, Hits: 1}})

	assert.Equal(t, []string{"a_counter", "b_counter"}, m.Counters())
}
