// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queryhandler is the node-side entry point for counter-query
// requests: it combines a local DataManager lookup with a FanoutEngine
// run over peer sources, merges the two with a CounterAggregator, and
// derives one HTTP status for the combined result.
package queryhandler

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/ClusterCockpit/cc-backend/internal/aggregator"
	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/fanout"
	"github.com/ClusterCockpit/cc-backend/internal/registry"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// StatusConflict is returned when no samples came back and the
// RequestDetails from the local and distributed halves of a query do not
// all carry the same nonzero code, or when merging the responses fails.
const StatusConflict = 409

// Handler ties together local storage, the fanout engine and peer
// discovery for one node.
type Handler struct {
	Self         schema.ServerInfo
	DataManager  datamanager.DataManager
	Engine       *fanout.Engine
	Registry     *registry.Registry
	IsAggregator bool
}

// New builds a Handler.
func New(self schema.ServerInfo, dm datamanager.DataManager, engine *fanout.Engine, reg *registry.Registry, isAggregator bool) *Handler {
	return &Handler{Self: self, DataManager: dm, Engine: engine, Registry: reg, IsAggregator: isAggregator}
}

// Query answers one /counters/<name>/query request.
func (h *Handler) Query(ctx context.Context, counter string, req schema.CounterQueryRequest) *schema.CounterQueryResponse {
	sources := h.resolveSources(req)

	var (
		wg        sync.WaitGroup
		localSamp []*schema.DataSample
		localErr  error
		distErr   error
		ranFanout bool
	)

	start, end := reservedRange(req.Dimensions)

	wg.Add(1)
	go func() {
		defer wg.Done()
		localSamp, localErr = h.DataManager.Query(ctx, counter, req.Dimensions, start, end)
	}()

	agg := aggregator.NewCounterAggregator()
	sink := &counterSink{agg: agg, codec: h.Engine.Codec}

	if len(sources) > 0 {
		ranFanout = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			childReq := req.TieredRequest
			childReq.Sources = sources
			envelope := func(child schema.TieredRequest) (interface{}, error) {
				return schema.CounterQueryRequest{Dimensions: req.Dimensions, TieredRequest: child}, nil
			}
			distErr = h.Engine.RunEnvelope(ctx, childReq, envelope, "/counters/"+counter+"/query", sink)
		}()
	}

	wg.Wait()

	localRow := h.localDetailsRow(localErr)

	if localErr == nil {
		for _, s := range localSamp {
			_ = agg.AddMachineResponse(&schema.CounterQueryResponse{Samples: []*schema.DataSample{s}})
		}
	}

	if ranFanout && distErr != nil {
		log.Warnf("QUERYHANDLER: fanout for counter %s failed: %s", counter, distErr.Error())
	}

	merged, err := agg.GetResponse(false)
	if err != nil {
		return &schema.CounterQueryResponse{HTTPCode: StatusConflict, Error: err.Error()}
	}

	sink.mu.Lock()
	remoteDetails := append([]schema.RequestDetails{}, sink.details...)
	sink.mu.Unlock()

	// The local row always takes part in the status computation; it is
	// only reported back when the caller asked for diagnostics.
	statusDetails := append(append([]schema.RequestDetails{}, remoteDetails...), localRow)
	if req.IncludeRequestDiagnostics {
		merged.Details = statusDetails
	} else {
		merged.Details = remoteDetails
	}
	merged.HTTPCode = finalStatus(len(merged.Samples) > 0, statusDetails)
	return merged
}

// resolveSources returns the peer sources to fan out to: the caller's
// explicit list if given, else (on an aggregator node with known peers)
// the Registry's peers filtered by any machineFunction/datacenter globs
// carried in the query's reserved dimensions.
func (h *Handler) resolveSources(req schema.CounterQueryRequest) []schema.ServerInfo {
	return h.resolvePeers(req.Sources, req.Dimensions)
}

// resolvePeers is resolveSources for callers whose wire envelope has no
// Dimensions field to glob-filter on (Info, Batch).
func (h *Handler) resolvePeers(explicit []schema.ServerInfo, dims *schema.DimensionSpec) []schema.ServerInfo {
	if len(explicit) > 0 {
		return explicit
	}
	if !h.IsAggregator || h.Registry == nil {
		return nil
	}

	mf, _ := dims.Get(schema.DimMachineFunction)
	dc, _ := dims.Get(schema.DimDatacenter)

	var out []schema.ServerInfo
	for _, peer := range h.Registry.Peers() {
		if mf != "" && !matchGlobField(peer.Server.MachineFunction, mf) {
			continue
		}
		if dc != "" && !matchGlobField(peer.Server.Datacenter, dc) {
			continue
		}
		out = append(out, peer.Server)
	}
	return out
}

func matchGlobField(value, pattern string) bool {
	d := schema.NewDimensionSpec(map[string]string{"f": value})
	return d.MatchGlob("f", pattern)
}

// reservedRange reads the start/end reserved dimensions, defaulting to
// the full available range ([0, math.MaxInt64)) when a caller omits one
// or both, so an unfiltered query sees everything a counter holds rather
// than an empty [0,0) window.
func reservedRange(dims *schema.DimensionSpec) (int64, int64) {
	start, end := int64(0), int64(math.MaxInt64)
	if dims == nil {
		return start, end
	}
	if v, ok := dims.Get(schema.DimStart); ok {
		start = parseInt64(v)
	}
	if v, ok := dims.Get(schema.DimEnd); ok {
		end = parseInt64(v)
	}
	return start, end
}

func parseInt64(s string) int64 {
	var v int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + int64(c-'0')
	}
	return v
}

// finalStatus implements the §4.6 status rule: OK if either side
// returned samples; else if every RequestDetails agrees on one non-2xx
// code, return that; else a generic conflict.
func finalStatus(hasSamples bool, details []schema.RequestDetails) int {
	if hasSamples {
		return 200
	}
	if len(details) == 0 {
		return 200
	}
	code := details[0].HTTPCode
	for _, d := range details[1:] {
		if d.HTTPCode != code {
			return StatusConflict
		}
	}
	if code == 0 {
		return StatusConflict
	}
	return code
}

// counterSink adapts a CounterAggregator to the fanout.Sink interface,
// additionally collecting RequestDetails rows for the final HTTP status
// computation.
type counterSink struct {
	mu      sync.Mutex
	agg     *aggregator.CounterAggregator
	codec   codec.Codec
	details []schema.RequestDetails
}

func (s *counterSink) Decode(data []byte) error {
	var resp schema.CounterQueryResponse
	if err := s.codec.Decode(data, &resp); err != nil {
		return err
	}
	if err := s.agg.AddMachineResponse(&resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.details = append(s.details, resp.Details...)
	s.mu.Unlock()
	return nil
}

func (s *counterSink) Synthetic(details []schema.RequestDetails) {
	s.mu.Lock()
	s.details = append(s.details, details...)
	s.mu.Unlock()
}

// Info answers one /counters/<name>/info request, merging the local
// schema/metadata with peer responses the same way Query merges samples.
func (h *Handler) Info(ctx context.Context, counter string, req schema.TieredRequest) *schema.CounterInfoResponse {
	sources := h.resolvePeers(req.Sources, nil)

	var (
		wg        sync.WaitGroup
		localInfo *schema.CounterInfo
		localErr  error
		distErr   error
		ranFanout bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		localInfo, localErr = h.DataManager.Info(ctx, counter)
	}()

	mode := aggregator.InfoDropDiagnostics
	if req.IncludeRequestDiagnostics {
		mode = aggregator.InfoAggregateDiagnostics
	}
	combiner := aggregator.NewCounterInfoCombiner(mode)
	sink := &infoSink{combiner: combiner, codec: h.Engine.Codec}

	if len(sources) > 0 {
		ranFanout = true
		childReq := req
		childReq.Sources = sources
		wg.Add(1)
		go func() {
			defer wg.Done()
			distErr = h.Engine.Run(ctx, childReq, "/counters/"+counter+"/info", sink)
		}()
	}

	wg.Wait()

	if localErr == nil && localInfo != nil {
		combiner.Add(&schema.CounterInfoResponse{Info: localInfo})
	}

	var localDetails []schema.RequestDetails
	if req.IncludeRequestDiagnostics {
		localDetails = []schema.RequestDetails{h.localDetailsRow(localErr)}
	}

	if ranFanout && distErr != nil {
		log.Warnf("QUERYHANDLER: info fanout for counter %s failed: %s", counter, distErr.Error())
	}

	infos := combiner.GetResponses()
	var info *schema.CounterInfo
	if len(infos) > 0 {
		info = infos[0]
	}

	allDetails := append(append([]schema.RequestDetails{}, combiner.Details()...), localDetails...)
	return &schema.CounterInfoResponse{
		HTTPCode: finalStatus(info != nil, allDetails),
		Info:     info,
		Details:  allDetails,
	}
}

// Batch answers one /batchQuery request: every sub-query is fanned out
// together (one wire round trip per source, carrying all narrowed
// sub-queries), and local storage is queried once per sub-query, with
// both halves routed into a single BatchAggregator.
func (h *Handler) Batch(ctx context.Context, req schema.BatchQueryRequest) *schema.BatchQueryResponse {
	ba, narrowed, err := aggregator.NewBatchAggregator(req.Queries)
	if err != nil {
		return &schema.BatchQueryResponse{Details: []schema.RequestDetails{{
			Server: h.Self, Status: schema.RequestException, StatusDescription: err.Error(), IsAggregator: h.IsAggregator,
		}}}
	}

	sources := h.resolvePeers(req.Sources, nil)

	var (
		wg        sync.WaitGroup
		distErr   error
		ranFanout bool
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		local := &schema.BatchQueryResponse{}
		for _, q := range narrowed {
			start, end := reservedRange(q.Dimensions)
			samples, err := h.DataManager.Query(ctx, q.Counter, q.Dimensions, start, end)
			resp := schema.CounterQueryResponse{UserContext: q.UserContext}
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Samples = samples
			}
			local.Responses = append(local.Responses, resp)
		}
		if req.IncludeRequestDiagnostics {
			local.Details = []schema.RequestDetails{h.localDetailsRow(nil)}
		}
		_ = ba.AddResponse(local)
	}()

	if len(sources) > 0 {
		ranFanout = true
		childReq := req.TieredRequest
		childReq.Sources = sources
		envelope := func(child schema.TieredRequest) (interface{}, error) {
			return schema.BatchQueryRequest{Queries: narrowed, TieredRequest: child}, nil
		}
		sink := &batchSink{ba: ba, codec: h.Engine.Codec}
		wg.Add(1)
		go func() {
			defer wg.Done()
			distErr = h.Engine.RunEnvelope(ctx, childReq, envelope, "/batchQuery", sink)
		}()
	}

	wg.Wait()

	if ranFanout && distErr != nil {
		log.Warnf("QUERYHANDLER: batch fanout failed: %s", distErr.Error())
	}

	merged, err := ba.GetResponse()
	if err != nil {
		return &schema.BatchQueryResponse{Details: []schema.RequestDetails{{
			Server: h.Self, Status: schema.RequestException, StatusDescription: err.Error(), IsAggregator: h.IsAggregator,
		}}}
	}
	return merged
}

// localDetailsRow builds the diagnostic row the local half of a query,
// info or batch sub-query contributes, carrying the local outcome and
// is-aggregator flag. Local failures are mapped per §7: a missing
// counter is NotFound, anything else unexpected is a generic 5xx.
func (h *Handler) localDetailsRow(localErr error) schema.RequestDetails {
	if localErr == nil {
		return schema.RequestDetails{Server: h.Self, Status: schema.Success, HTTPCode: 200, IsAggregator: h.IsAggregator}
	}
	if errors.Is(localErr, datamanager.ErrNotFound) {
		return schema.RequestDetails{Server: h.Self, Status: schema.ServerFailureResponse, HTTPCode: 404, StatusDescription: localErr.Error(), IsAggregator: h.IsAggregator}
	}
	return schema.RequestDetails{Server: h.Self, Status: schema.ServerFailureResponse, HTTPCode: 500, StatusDescription: localErr.Error(), IsAggregator: h.IsAggregator}
}

// infoSink adapts a CounterInfoCombiner to the fanout.Sink interface.
type infoSink struct {
	combiner *aggregator.CounterInfoCombiner
	codec    codec.Codec
}

func (s *infoSink) Decode(data []byte) error {
	var resp schema.CounterInfoResponse
	if err := s.codec.Decode(data, &resp); err != nil {
		return err
	}
	s.combiner.Add(&resp)
	return nil
}

func (s *infoSink) Synthetic(details []schema.RequestDetails) {
	s.combiner.Add(&schema.CounterInfoResponse{Details: details})
}

// batchSink adapts a BatchAggregator to the fanout.Sink interface.
type batchSink struct {
	ba    *aggregator.BatchAggregator
	codec codec.Codec
}

func (s *batchSink) Decode(data []byte) error {
	var resp schema.BatchQueryResponse
	if err := s.codec.Decode(data, &resp); err != nil {
		return err
	}
	return s.ba.AddResponse(&resp)
}

func (s *batchSink) Synthetic(details []schema.RequestDetails) {
	_ = s.ba.AddResponse(&schema.BatchQueryResponse{Details: details})
}
