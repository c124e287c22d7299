// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package poller

import (
	"context"
	"sync"

	"github.com/ClusterCockpit/cc-backend/internal/aggregator"
	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// counterSink adapts a CounterAggregator to the poller.Sink interface:
// Decode/Synthetic merge peer responses the same way the query path
// does, and Commit writes the merged result back into local storage so
// the next poll tick sees it as already-known data.
type counterSink struct {
	mu    sync.Mutex
	agg   *aggregator.CounterAggregator
	dm    datamanager.DataManager
	codec codec.Codec
}

// NewCounterSink returns the Sink constructor AggregationPoller needs,
// pre-bound to dm and the wire codec the poller's own fanout engine
// encodes with: every tick's merged samples are committed back into dm
// as they are produced.
func NewCounterSink(dm datamanager.DataManager, c codec.Codec) func(counter string) Sink {
	return func(counter string) Sink {
		return &counterSink{agg: aggregator.NewCounterAggregator(), dm: dm, codec: c}
	}
}

func (s *counterSink) Decode(data []byte) error {
	var resp schema.CounterQueryResponse
	if err := s.codec.Decode(data, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.AddMachineResponse(&resp)
}

func (s *counterSink) Synthetic(details []schema.RequestDetails) {}

// Commit writes every sample the aggregator collected for this tick back
// into local storage, collapsing time buckets so the merged ranges do
// not fragment further on the next poll.
func (s *counterSink) Commit(ctx context.Context, counter string, start, end int64) error {
	s.mu.Lock()
	resp, err := s.agg.GetResponse(true)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if len(resp.Samples) == 0 {
		return nil
	}
	return s.dm.Write(ctx, counter, resp.Samples)
}
