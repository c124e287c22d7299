// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package datamanager

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/ClusterCockpit/cc-backend/internal/sample"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

type bucketKey struct {
	dims  string
	start int64
	end   int64
}

type counterState struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*schema.DataSample
	order    []bucketKey
	dimNames map[string]bool
	dimVals  map[string]map[string]bool
	latest   int64
}

// Memory is a minimal in-memory DataManager, sufficient to exercise the
// fanout tree and QueryHandler end-to-end without a real storage engine.
// It is not a production storage backend: nothing is persisted to disk.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]*counterState
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]*counterState)}
}

var _ DataManager = (*Memory)(nil)

func (m *Memory) counterFor(name string, create bool) *counterState {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok || !create {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; ok {
		return c
	}
	c = &counterState{
		buckets:  make(map[bucketKey]*schema.DataSample),
		dimNames: make(map[string]bool),
		dimVals:  make(map[string]map[string]bool),
	}
	m.counters[name] = c
	return c
}

func (m *Memory) Write(ctx context.Context, counter string, samples []*schema.DataSample) error {
	c := m.counterFor(counter, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range samples {
		key := bucketKey{dims: s.Dimensions.Key(), start: s.Start, end: s.End}
		existing, ok := c.buckets[key]
		if !ok {
			c.buckets[key] = s.Clone()
			c.order = append(c.order, key)
		} else {
			merged, err := sample.Merge(existing, s)
			if err != nil {
				return err
			}
			c.buckets[key] = merged
		}

		for _, dk := range s.Dimensions.Keys() {
			lk := strings.ToLower(dk)
			c.dimNames[lk] = true
			if c.dimVals[lk] == nil {
				c.dimVals[lk] = map[string]bool{}
			}
			if v, ok := s.Dimensions.Get(dk); ok {
				c.dimVals[lk][strings.ToLower(v)] = true
			}
		}

		if s.End > c.latest {
			c.latest = s.End
		}
	}

	return nil
}

func (m *Memory) Query(ctx context.Context, counter string, dims *schema.DimensionSpec, start, end int64) ([]*schema.DataSample, error) {
	c := m.counterFor(counter, false)
	if c == nil {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*schema.DataSample, 0, len(c.order))
	for _, key := range c.order {
		if key.end <= start || key.start >= end {
			continue
		}
		s := c.buckets[key]
		if !matchesFilter(s.Dimensions, dims) {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func matchesFilter(sampleDims, filter *schema.DimensionSpec) bool {
	if filter == nil {
		return true
	}
	for _, k := range filter.Keys() {
		want, _ := filter.Get(k)
		got, ok := sampleDims.Get(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (m *Memory) Info(ctx context.Context, counter string) (*schema.CounterInfo, error) {
	c := m.counterFor(counter, false)
	if c == nil {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	info := &schema.CounterInfo{
		Name:            counter,
		DimensionValues: map[string][]string{},
	}
	for dk := range c.dimNames {
		info.Dimensions = append(info.Dimensions, dk)
	}
	sort.Strings(info.Dimensions)
	for dk, vals := range c.dimVals {
		vs := make([]string, 0, len(vals))
		for v := range vals {
			vs = append(vs, v)
		}
		sort.Strings(vs)
		info.DimensionValues[dk] = vs
	}
	for _, key := range c.order {
		if info.StartTime == 0 || key.start < info.StartTime {
			info.StartTime = key.start
		}
		if key.end > info.EndTime {
			info.EndTime = key.end
		}
	}
	return info, nil
}

func (m *Memory) Transfer(ctx context.Context, counter string, start, end int64) (io.Reader, error) {
	samples, err := m.Query(ctx, counter, nil, start, end)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (m *Memory) Counters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.counters))
	for name := range m.counters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) LatestEndTime(counter string) int64 {
	c := m.counterFor(counter, false)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}
