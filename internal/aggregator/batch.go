// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// BatchAggregator multiplexes a CounterAggregator per sub-query of a
// BatchQueryRequest, keyed by the caller-supplied (or generated)
// user_context.
type BatchAggregator struct {
	order    []string // user_context, in request order
	counters map[string]string
	aggs     map[string]*CounterAggregator
	collapse map[string]bool

	detailsMu sync.Mutex
	details   []schema.RequestDetails
}

// NewBatchAggregator builds one CounterAggregator per sub-query. Empty
// user_context values are replaced with a fresh, unique token; duplicate
// (explicit) tokens fail construction, per the §3 invariant that
// user_context is unique within a batch request. Each sub-query's
// reserved "percentile" and "aggregate" dimensions are consumed here so
// sources see only the narrowed DimensionSpec.
func NewBatchAggregator(queries []schema.SubQuery) (*BatchAggregator, []schema.SubQuery, error) {
	ba := &BatchAggregator{
		counters: make(map[string]string),
		aggs:     make(map[string]*CounterAggregator),
		collapse: make(map[string]bool),
	}

	seen := make(map[string]bool, len(queries))
	narrowed := make([]schema.SubQuery, len(queries))
	for i, q := range queries {
		token := q.UserContext
		if token == "" {
			token = uuid.NewString()
		} else if seen[token] {
			return nil, nil, fmt.Errorf("[BATCH]> duplicate user_context %q in batch request", token)
		}
		seen[token] = true

		agg := NewCounterAggregator()
		stripped := agg.ApplyPercentileCalculationAggregation(q.Dimensions)

		collapse := false
		if v, ok := stripped.Get(schema.DimAggregate); ok {
			collapse = v == "true" || v == "1"
			stripped.Delete(schema.DimAggregate)
		}

		ba.order = append(ba.order, token)
		ba.counters[token] = q.Counter
		ba.aggs[token] = agg
		ba.collapse[token] = collapse

		narrowed[i] = schema.SubQuery{UserContext: token, Counter: q.Counter, Dimensions: stripped}
	}

	return ba, narrowed, nil
}

// AddResponse routes each CounterQueryResponse in a decoded
// BatchQueryResponse to the aggregator registered for its user_context;
// responses carrying unknown tokens are logged and dropped. RequestDetails
// from the batch envelope are appended verbatim, under a dedicated lock.
func (ba *BatchAggregator) AddResponse(resp *schema.BatchQueryResponse) error {
	if resp == nil {
		return nil
	}

	for _, r := range resp.Responses {
		agg, ok := ba.aggs[r.UserContext]
		if !ok {
			log.Warnf("BatchAggregator: dropping response with unknown user_context %q", r.UserContext)
			continue
		}
		rcopy := r
		if err := agg.AddMachineResponse(&rcopy); err != nil {
			return err
		}
	}

	if len(resp.Details) > 0 {
		ba.detailsMu.Lock()
		ba.details = append(ba.details, resp.Details...)
		ba.detailsMu.Unlock()
	}

	return nil
}

// GetResponse yields one CounterQueryResponse per sub-query, in request
// order, each carrying its own echo token and an HTTP status of OK when
// it has samples, NotFound otherwise.
func (ba *BatchAggregator) GetResponse() (*schema.BatchQueryResponse, error) {
	out := &schema.BatchQueryResponse{
		Responses: make([]schema.CounterQueryResponse, 0, len(ba.order)),
	}

	for _, token := range ba.order {
		resp, err := ba.aggs[token].GetResponse(ba.collapse[token])
		if err != nil {
			return nil, err
		}
		resp.UserContext = token
		if len(resp.Samples) > 0 {
			resp.HTTPCode = http.StatusOK
		} else {
			resp.HTTPCode = http.StatusNotFound
		}
		out.Responses = append(out.Responses, *resp)
	}

	ba.detailsMu.Lock()
	out.Details = append(out.Details, ba.details...)
	ba.detailsMu.Unlock()

	return out, nil
}
