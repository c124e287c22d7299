// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func TestCounterInfoCombinerMergesDimensionValues(t *testing.T) {
	c := NewCounterInfoCombiner(InfoDropDiagnostics)

	c.Add(&schema.CounterInfoResponse{Info: &schema.CounterInfo{
		Name: "cpu_load", StartTime: 100, EndTime: 200,
		Dimensions:      []string{"Host"},
		DimensionValues: map[string][]string{"Host": {"Node01"}},
	}})
	c.Add(&schema.CounterInfoResponse{Info: &schema.CounterInfo{
		Name: "cpu_load", StartTime: 50, EndTime: 300,
		Dimensions:      []string{"host"},
		DimensionValues: map[string][]string{"host": {"node02", "NODE01"}},
	}})

	responses := c.GetResponses()
	require.Len(t, responses, 1)
	info := responses[0]
	assert.Equal(t, int64(50), info.StartTime)
	assert.Equal(t, int64(300), info.EndTime)
	assert.ElementsMatch(t, []string{"host"}, info.Dimensions)
	assert.ElementsMatch(t, []string{"node01", "node02"}, info.DimensionValues["host"])
}

func TestCounterInfoCombinerPreservesFirstSeenOrder(t *testing.T) {
	c := NewCounterInfoCombiner(InfoDropDiagnostics)
	c.Add(&schema.CounterInfoResponse{Info: &schema.CounterInfo{Name: "zeta"}})
	c.Add(&schema.CounterInfoResponse{Info: &schema.CounterInfo{Name: "alpha"}})

	responses := c.GetResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, "zeta", responses[0].Name)
	assert.Equal(t, "alpha", responses[1].Name)
}

func TestCounterInfoCombinerDropsDiagnosticsByDefault(t *testing.T) {
	c := NewCounterInfoCombiner(InfoDropDiagnostics)
	c.Add(&schema.CounterInfoResponse{
		Info:    &schema.CounterInfo{Name: "cpu_load"},
		Details: []schema.RequestDetails{{Server: schema.ServerInfo{Hostname: "node01"}, Status: schema.TimedOut}},
	})
	assert.Empty(t, c.Details())
}

func TestCounterInfoCombinerAggregatesDiagnosticsWhenRequested(t *testing.T) {
	c := NewCounterInfoCombiner(InfoAggregateDiagnostics)
	c.Add(&schema.CounterInfoResponse{
		Info:    &schema.CounterInfo{Name: "cpu_load"},
		Details: []schema.RequestDetails{{Server: schema.ServerInfo{Hostname: "node01"}, Status: schema.TimedOut}},
	})
	c.Add(&schema.CounterInfoResponse{
		Info:    &schema.CounterInfo{Name: "cpu_load"},
		Details: []schema.RequestDetails{{Server: schema.ServerInfo{Hostname: "node02"}, Status: schema.Success}},
	})
	assert.Len(t, c.Details(), 2)
}

func TestCounterInfoCombinerIgnoresNilInfo(t *testing.T) {
	c := NewCounterInfoCombiner(InfoAggregateDiagnostics)
	c.Add(&schema.CounterInfoResponse{
		Details: []schema.RequestDetails{{Server: schema.ServerInfo{Hostname: "node01"}, Status: schema.RequestException}},
	})
	assert.Empty(t, c.GetResponses())
	assert.Len(t, c.Details(), 1)
}
