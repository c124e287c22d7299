// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func srcs(n int) []schema.ServerInfo {
	out := make([]schema.ServerInfo, n)
	for i := range out {
		out[i] = schema.ServerInfo{Hostname: fmt.Sprintf("node%02d", i), Port: 9000}
	}
	return out
}

func TestSplitBlocksSingletonsBelowMaxFanout(t *testing.T) {
	blocks := SplitBlocks(srcs(5), 10)
	assert.Len(t, blocks, 5)
	for _, b := range blocks {
		assert.Len(t, b, 1)
	}
}

func TestSplitBlocksEvenSplit(t *testing.T) {
	blocks := SplitBlocks(srcs(9), 3)
	require.Len(t, blocks, 3)
	for _, b := range blocks {
		assert.Len(t, b, 3)
	}
}

func TestSplitBlocksUnevenSplitCoversAllSources(t *testing.T) {
	blocks := SplitBlocks(srcs(10), 3)
	total := 0
	seen := map[string]bool{}
	for _, b := range blocks {
		total += len(b)
		for _, s := range b {
			seen[s.Hostname] = true
		}
	}
	assert.Equal(t, 10, total)
	assert.Len(t, seen, 10)
	assert.LessOrEqual(t, len(blocks), 3)
}

// fakeTransport dispatches canned outcomes keyed by hostname.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeOutcome
	delay     map[string]time.Duration
}

type fakeOutcome struct {
	body   []byte
	status int
	err    error
}

func (f *fakeTransport) Do(ctx context.Context, leader schema.ServerInfo, path string, body []byte, accept codec.ContentType) ([]byte, int, error) {
	if d, ok := f.delay[leader.Hostname]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	f.mu.Lock()
	o, ok := f.responses[leader.Hostname]
	f.mu.Unlock()
	if !ok {
		return []byte(`{}`), 200, nil
	}
	return o.body, o.status, o.err
}

// recordingSink counts decoded hits and collects every diagnostic row.
type recordingSink struct {
	mu      sync.Mutex
	hits    int64
	details []schema.RequestDetails
}

func (s *recordingSink) Decode(data []byte) error {
	var resp schema.CounterQueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sample := range resp.Samples {
		s.hits += sample.Hits
	}
	s.details = append(s.details, resp.Details...)
	return nil
}

func (s *recordingSink) Synthetic(details []schema.RequestDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = append(s.details, details...)
}

func fixedRand(pick int) func() *rand.Rand {
	return func() *rand.Rand { return rand.New(rand.NewSource(int64(pick))) }
}

// Seed scenario 5: 10 sources, MaxFanout=2, every leader times out.
// Expect zero samples, 2 TimedOut rows, 8 FederationError rows.
func TestFanoutTimeoutScenario(t *testing.T) {
	sources := srcs(10)
	ft := &fakeTransport{
		responses: map[string]fakeOutcome{},
		delay:     map[string]time.Duration{},
	}
	for _, s := range sources {
		ft.delay[s.Hostname] = 200 * time.Millisecond
	}

	engine := New(ft, codec.JSON)
	sink := &recordingSink{}

	req := schema.TieredRequest{
		Sources:                   sources,
		MaxFanout:                 2,
		FanoutTimeoutMs:           20,
		IncludeRequestDiagnostics: true,
	}
	err := engine.Run(context.Background(), req, "/counters/cpu_load/query", sink)
	require.Error(t, err)

	assert.EqualValues(t, 0, sink.hits)

	timedOut, fed := 0, 0
	for _, d := range sink.details {
		switch d.Status {
		case schema.TimedOut:
			timedOut++
		case schema.FederationError:
			fed++
		}
	}
	assert.Equal(t, 2, timedOut)
	assert.Equal(t, 8, fed)
}

// Seed scenario 6: 9 sources, MaxFanout=3, one leader times out, the
// other two succeed with hits=1 per sub-source (3 sub-sources each).
func TestFanoutMixedSuccessScenario(t *testing.T) {
	sources := srcs(9)
	blocks := SplitBlocks(sources, 3)
	require.Len(t, blocks, 3)

	ft := &fakeTransport{responses: map[string]fakeOutcome{}, delay: map[string]time.Duration{}}

	// Force block 0's leader (index 0 of each block under fixedRand(0))
	// to time out; blocks 1 and 2 succeed, each leader reporting hits
	// equal to its own block size (self + delegated sub-sources).
	timeoutLeader := blocks[0][0].Hostname
	ft.delay[timeoutLeader] = 200 * time.Millisecond

	for i, b := range blocks[1:] {
		leader := b[0]
		body, err := json.Marshal(schema.CounterQueryResponse{
			Samples: []*schema.DataSample{{
				Kind: schema.HitCount, Dimensions: schema.NewDimensionSpec(map[string]string{"host": leader.Hostname}),
				Start: 0, End: 60_000, Hits: int64(len(b)), MachineCount: int64(len(b)),
			}},
		})
		require.NoError(t, err)
		ft.responses[leader.Hostname] = fakeOutcome{body: body, status: 200}
		_ = i
	}

	engine := New(ft, codec.JSON)
	engine.newRand = fixedRand(0)
	sink := &recordingSink{}

	req := schema.TieredRequest{
		Sources:                   sources,
		MaxFanout:                 3,
		FanoutTimeoutMs:           30,
		IncludeRequestDiagnostics: true,
	}
	_ = engine.Run(context.Background(), req, "/counters/cpu_load/query", sink)

	assert.EqualValues(t, 6, sink.hits)
}

func TestRunWithNoSourcesIsNoop(t *testing.T) {
	engine := New(&fakeTransport{responses: map[string]fakeOutcome{}}, codec.JSON)
	sink := &recordingSink{}
	err := engine.Run(context.Background(), schema.TieredRequest{}, "/x", sink)
	require.NoError(t, err)
	assert.Empty(t, sink.details)
}
