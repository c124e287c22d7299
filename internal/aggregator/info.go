// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package aggregator

import (
	"sync"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// InfoCombineMode selects whether CounterInfoCombiner aggregates or drops
// request diagnostics.
type InfoCombineMode int

const (
	InfoDropDiagnostics InfoCombineMode = iota
	InfoAggregateDiagnostics
)

// CounterInfoCombiner merges per-machine CounterInfo schema/metadata
// responses keyed by counter name.
type CounterInfoCombiner struct {
	mode InfoCombineMode

	mu      sync.Mutex
	order   []string
	infos   map[string]*schema.CounterInfo
	dimSets map[string]map[string]bool            // counter -> dimension name (lowercased) -> true
	dimVals map[string]map[string]map[string]bool // counter -> dimension (lowercased) -> value (lowercased) -> true
	details []schema.RequestDetails
}

func NewCounterInfoCombiner(mode InfoCombineMode) *CounterInfoCombiner {
	return &CounterInfoCombiner{
		mode:    mode,
		infos:   make(map[string]*schema.CounterInfo),
		dimSets: make(map[string]map[string]bool),
		dimVals: make(map[string]map[string]map[string]bool),
	}
}

// Add merges one machine's CounterInfoResponse in.
func (c *CounterInfoCombiner) Add(resp *schema.CounterInfoResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == InfoAggregateDiagnostics {
		c.details = append(c.details, resp.Details...)
	}

	if resp.Info == nil {
		return
	}

	name := resp.Info.Name
	cur, ok := c.infos[name]
	if !ok {
		c.order = append(c.order, name)
		c.infos[name] = &schema.CounterInfo{
			Name:            name,
			StartTime:       resp.Info.StartTime,
			EndTime:         resp.Info.EndTime,
			DimensionValues: map[string][]string{},
		}
		c.dimSets[name] = map[string]bool{}
		c.dimVals[name] = map[string]map[string]bool{}
		cur = c.infos[name]
	}

	if resp.Info.StartTime < cur.StartTime || cur.StartTime == 0 {
		cur.StartTime = resp.Info.StartTime
	}
	if resp.Info.EndTime > cur.EndTime {
		cur.EndTime = resp.Info.EndTime
	}

	for _, d := range resp.Info.Dimensions {
		c.dimSets[name][normalizeKey(d)] = true
	}

	for dim, values := range resp.Info.DimensionValues {
		ndim := normalizeKey(dim)
		if c.dimVals[name][ndim] == nil {
			c.dimVals[name][ndim] = map[string]bool{}
		}
		for _, v := range values {
			c.dimVals[name][ndim][normalizeKey(v)] = true
		}
	}
}

// GetResponses finalizes the per-counter merged CounterInfo records, in
// first-seen order.
func (c *CounterInfoCombiner) GetResponses() []*schema.CounterInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*schema.CounterInfo, 0, len(c.order))
	for _, name := range c.order {
		info := c.infos[name]

		dims := make([]string, 0, len(c.dimSets[name]))
		for d := range c.dimSets[name] {
			dims = append(dims, d)
		}
		info.Dimensions = dims

		for dim, values := range c.dimVals[name] {
			vs := make([]string, 0, len(values))
			for v := range values {
				vs = append(vs, v)
			}
			info.DimensionValues[dim] = vs
		}

		out = append(out, info)
	}
	return out
}

// Details returns the aggregated request diagnostics, or nil if the
// combiner is in drop mode.
func (c *CounterInfoCombiner) Details() []schema.RequestDetails {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.details
}
