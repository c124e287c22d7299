// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package poller

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func TestCounterSinkCommitsMergedSamplesToDataManager(t *testing.T) {
	dm := datamanager.NewMemory()
	newSink := NewCounterSink(dm, codec.JSON)
	sink := newSink("cpu_load")

	resp := schema.CounterQueryResponse{Samples: []*schema.DataSample{{
		Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(nil), Start: 0, End: 60000, Hits: 3,
	}}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	require.NoError(t, sink.Decode(data))

	require.NoError(t, sink.Commit(context.Background(), "cpu_load", 0, 60000))

	samples, err := dm.Query(context.Background(), "cpu_load", schema.NewDimensionSpec(nil), 0, 60000)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.EqualValues(t, 3, samples[0].Hits)
}

func TestCounterSinkCommitIsNoopWhenNothingDecoded(t *testing.T) {
	dm := datamanager.NewMemory()
	sink := NewCounterSink(dm, codec.JSON)("mem_used")
	assert.NoError(t, sink.Commit(context.Background(), "mem_used", 0, 1000))
}
