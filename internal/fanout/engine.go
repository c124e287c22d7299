// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fanout implements the recursive tiered fanout protocol: block
// splitting, leader election, per-block timeout budgeting, concurrent
// dispatch and partial-failure diagnostic synthesis.
package fanout

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/metrics"
	"github.com/ClusterCockpit/cc-backend/internal/transport"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// Sink receives the outcome of each dispatched block. Decode is called
// with the leader's raw response body on a successful (2xx, readable)
// request; Synthetic is called instead with manufactured diagnostic rows
// when a block could not be completed. Implementations are expected to
// be safe for concurrent calls from different blocks; the engine never
// calls either method twice concurrently for the same block.
type Sink interface {
	Decode(data []byte) error
	Synthetic(details []schema.RequestDetails)
}

// Engine runs one tiered fanout: splitting sources into blocks, picking
// a leader per block, dispatching concurrently, and feeding every
// outcome into a Sink.
type Engine struct {
	Transport transport.Transport
	Codec     codec.Codec

	// newRand returns a fresh random source for one block's leader
	// election. Exposed for tests; production leaves it nil and gets a
	// crypto-seeded math/rand.Rand per block.
	newRand func() *mrand.Rand
}

// New builds an Engine that dispatches through t, encoding bodies with c.
func New(t transport.Transport, c codec.Codec) *Engine {
	return &Engine{Transport: t, Codec: c}
}

func (e *Engine) randForBlock() *mrand.Rand {
	if e.newRand != nil {
		return e.newRand()
	}
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return mrand.New(mrand.NewSource(time.Now().UnixNano()))
	}
	return mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}

// SplitBlocks implements the block split rule: singleton blocks when
// len(sources) <= maxFanout, otherwise exactly maxFanout blocks built by
// walking sources sorted by hostname and placing index i into block
// floor(i / (len/maxFanout)).
func SplitBlocks(sources []schema.ServerInfo, maxFanout int) [][]schema.ServerInfo {
	if maxFanout <= 0 {
		maxFanout = 1
	}
	if len(sources) <= maxFanout {
		blocks := make([][]schema.ServerInfo, len(sources))
		for i, s := range sources {
			blocks[i] = []schema.ServerInfo{s}
		}
		return blocks
	}

	sorted := make([]schema.ServerInfo, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hostname < sorted[j].Hostname })

	blocks := make([][]schema.ServerInfo, maxFanout)
	blockSize := float64(len(sorted)) / float64(maxFanout)
	for i, s := range sorted {
		idx := int(float64(i) / blockSize)
		if idx >= maxFanout {
			idx = maxFanout - 1
		}
		blocks[idx] = append(blocks[idx], s)
	}

	out := blocks[:0]
	for _, b := range blocks {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// electLeader removes and returns one source chosen uniformly at random
// from block, mutating it in place to hold the remaining sources.
func electLeader(r *mrand.Rand, block []schema.ServerInfo) (schema.ServerInfo, []schema.ServerInfo) {
	i := r.Intn(len(block))
	leader := block[i]
	rest := make([]schema.ServerInfo, 0, len(block)-1)
	rest = append(rest, block[:i]...)
	rest = append(rest, block[i+1:]...)
	return leader, rest
}

// Run dispatches one fanout of req.Sources split by req.MaxFanout,
// feeding every block's outcome into sink. path is the downstream
// endpoint (e.g. "/counters/cpu_load/query") POSTed to each leader. The
// wire body for each block's leader is req's own TieredRequest fields
// with Sources narrowed to the block. The overall deadline is
// req.FanoutTimeoutMs; if ctx does not already carry an earlier
// deadline, Run establishes one.
func (e *Engine) Run(ctx context.Context, req schema.TieredRequest, path string, sink Sink) error {
	return e.RunEnvelope(ctx, req, func(child schema.TieredRequest) (interface{}, error) { return child, nil }, path, sink)
}

// RunEnvelope is Run with the wire body customized per block: envelope
// is called with each block's narrowed TieredRequest and returns the
// value actually encoded and sent to that block's leader. This is how
// callers whose request carries fields beyond TieredRequest (a query's
// Dimensions, a batch's Queries) keep those fields on the wire while
// still letting the engine own source-splitting, timeout scaling and
// leader election.
func (e *Engine) RunEnvelope(ctx context.Context, req schema.TieredRequest, envelope func(child schema.TieredRequest) (interface{}, error), path string, sink Sink) error {
	if len(req.Sources) == 0 {
		return nil
	}

	if req.FanoutTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.FanoutTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	defer func() { metrics.FanoutLatency.WithLabelValues(path).Observe(time.Since(start).Seconds()) }()

	blocks := SplitBlocks(req.Sources, req.MaxFanout)
	metrics.BlockCount.Observe(float64(len(blocks)))

	var wg sync.WaitGroup
	wg.Add(len(blocks))
	for _, block := range blocks {
		block := block
		go func() {
			defer wg.Done()
			e.runBlock(ctx, req, envelope, path, block, sink)
		}()
	}
	wg.Wait()

	return ctx.Err()
}

func (e *Engine) runBlock(ctx context.Context, req schema.TieredRequest, envelope func(schema.TieredRequest) (interface{}, error), path string, block []schema.ServerInfo, sink Sink) {
	r := e.randForBlock()
	leader, rest := electLeader(r, block)

	child := req.Clone()
	child.Sources = rest
	child.FanoutTimeoutMs = int64(math.Round(float64(req.FanoutTimeoutMs) * 0.9))

	wireBody, err := envelope(child)
	if err != nil {
		log.Errorf("FANOUT: building envelope for block leader %s: %s", leader, err.Error())
		sink.Synthetic(synthesizeException(leader, rest, req.IncludeRequestDiagnostics))
		return
	}

	body, err := e.Codec.Encode(wireBody)
	if err != nil {
		log.Errorf("FANOUT: encoding child request for block leader %s: %s", leader, err.Error())
		sink.Synthetic(synthesizeException(leader, rest, req.IncludeRequestDiagnostics))
		return
	}

	data, status, err := e.Transport.Do(ctx, leader, path, body, e.Codec.ContentType())

	switch {
	case err != nil && ctx.Err() != nil:
		metrics.RequestStatus.WithLabelValues(schema.TimedOut.String()).Inc()
		sink.Synthetic(synthesizeTimeout(leader, rest, req.IncludeRequestDiagnostics))
	case err != nil:
		metrics.RequestStatus.WithLabelValues(schema.RequestException.String()).Inc()
		sink.Synthetic(synthesizeException(leader, rest, req.IncludeRequestDiagnostics))
	case status == http.StatusNotFound:
		metrics.RequestStatus.WithLabelValues(schema.ServerFailureResponse.String()).Inc()
		sink.Synthetic(synthesizeNotFound(leader, rest, req.IncludeRequestDiagnostics))
	case status < 200 || status >= 300:
		metrics.RequestStatus.WithLabelValues(schema.ServerFailureResponse.String()).Inc()
		sink.Synthetic(synthesizeServerFailure(leader, rest, status, req.IncludeRequestDiagnostics))
	default:
		if decodeErr := sink.Decode(data); decodeErr != nil {
			log.Warnf("FANOUT: decoding response from leader %s: %s", leader, decodeErr.Error())
			metrics.RequestStatus.WithLabelValues(schema.RequestException.String()).Inc()
			sink.Synthetic(synthesizeException(leader, rest, req.IncludeRequestDiagnostics))
		} else {
			metrics.RequestStatus.WithLabelValues(schema.Success.String()).Inc()
		}
	}
}

func synthesizeTimeout(leader schema.ServerInfo, rest []schema.ServerInfo, include bool) []schema.RequestDetails {
	if !include {
		return nil
	}
	out := []schema.RequestDetails{{Server: leader, Status: schema.TimedOut, IsAggregator: len(rest) > 0}}
	for _, s := range rest {
		out = append(out, schema.RequestDetails{Server: s, Status: schema.FederationError})
	}
	return out
}

func synthesizeException(leader schema.ServerInfo, rest []schema.ServerInfo, include bool) []schema.RequestDetails {
	if !include {
		return nil
	}
	out := []schema.RequestDetails{{Server: leader, Status: schema.RequestException, IsAggregator: len(rest) > 0}}
	for _, s := range rest {
		out = append(out, schema.RequestDetails{Server: s, Status: schema.FederationError})
	}
	return out
}

func synthesizeNotFound(leader schema.ServerInfo, rest []schema.ServerInfo, include bool) []schema.RequestDetails {
	if !include {
		return nil
	}
	out := []schema.RequestDetails{{Server: leader, Status: schema.ServerFailureResponse, HTTPCode: http.StatusNotFound, IsAggregator: len(rest) > 0}}
	for _, s := range rest {
		out = append(out, schema.RequestDetails{Server: s, Status: schema.ServerFailureResponse, HTTPCode: http.StatusNotFound})
	}
	return out
}

func synthesizeServerFailure(leader schema.ServerInfo, rest []schema.ServerInfo, status int, include bool) []schema.RequestDetails {
	if !include {
		return nil
	}
	out := []schema.RequestDetails{{Server: leader, Status: schema.ServerFailureResponse, HTTPCode: status, IsAggregator: len(rest) > 0}}
	for _, s := range rest {
		out = append(out, schema.RequestDetails{Server: s, Status: schema.FederationError})
	}
	return out
}
