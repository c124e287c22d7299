// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the wire-level data model shared by every node in
// the fanout fabric: dimension specs, samples, per-counter responses and
// the tiered request envelope that travels down the fanout tree.
package schema

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"path"
	"sort"
	"strings"
)

// Reserved dimension keys carry query control parameters rather than
// arbitrary grouping dimensions.
const (
	DimStart           = "start"
	DimEnd             = "end"
	DimDimension       = "dimension"
	DimAggregate       = "aggregate"
	DimPercentile      = "percentile"
	DimMachineFunction = "machineFunction"
	DimDatacenter      = "datacenter"
)

// DimensionSpec is an ordered, case-insensitive name->value mapping. Key
// comparisons (Get, Has, Delete) ignore case; the original casing of the
// first insertion is preserved in Keys() for display purposes.
type DimensionSpec struct {
	keys   []string // original-case, insertion order
	values map[string]string
}

// NewDimensionSpec builds a DimensionSpec from an ordinary map, inserting
// the keys in sorted order; callers that want a different insertion order
// build up the spec with Set instead.
func NewDimensionSpec(m map[string]string) *DimensionSpec {
	d := &DimensionSpec{values: make(map[string]string, len(m))}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, m[k])
	}
	return d
}

func lower(s string) string { return strings.ToLower(s) }

// Set inserts or updates a dimension value. Case is preserved for display,
// but a later Set with only a different case for the same key overwrites
// the value in place rather than inserting a second entry.
func (d *DimensionSpec) Set(key, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	lk := lower(key)
	if _, ok := d.values[lk]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[lk] = value
}

// Get returns the value for key (case-insensitive) and whether it exists.
func (d *DimensionSpec) Get(key string) (string, bool) {
	if d == nil || d.values == nil {
		return "", false
	}
	v, ok := d.values[lower(key)]
	return v, ok
}

// Has reports whether key is present, case-insensitive.
func (d *DimensionSpec) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete removes key (case-insensitive) if present.
func (d *DimensionSpec) Delete(key string) {
	if d == nil || d.values == nil {
		return
	}
	lk := lower(key)
	if _, ok := d.values[lk]; !ok {
		return
	}
	delete(d.values, lk)
	for i, k := range d.keys {
		if lower(k) == lk {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of dimensions.
func (d *DimensionSpec) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the dimension names in insertion order, original case.
func (d *DimensionSpec) Keys() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Clone returns a deep copy.
func (d *DimensionSpec) Clone() *DimensionSpec {
	if d == nil {
		return NewDimensionSpec(nil)
	}
	n := &DimensionSpec{
		keys:   make([]string, len(d.keys)),
		values: make(map[string]string, len(d.values)),
	}
	copy(n.keys, d.keys)
	for k, v := range d.values {
		n.values[k] = v
	}
	return n
}

// WithoutReserved returns a clone with the reserved query dimensions
// (start, end, dimension, aggregate, percentile, machineFunction,
// datacenter) stripped, used when a sample's grouping dimensions are
// derived from the query a client sent.
func (d *DimensionSpec) WithoutReserved() *DimensionSpec {
	n := d.Clone()
	for _, r := range []string{DimStart, DimEnd, DimDimension, DimAggregate, DimPercentile, DimMachineFunction, DimDatacenter} {
		n.Delete(r)
	}
	return n
}

// Equal reports whether two specs contain the same keys/values, ignoring
// key case and insertion order (DATA MODEL invariant: merging requires an
// identical DimensionSpec under case-insensitive comparison).
func (d *DimensionSpec) Equal(o *DimensionSpec) bool {
	if d.Len() != o.Len() {
		return false
	}
	for _, k := range d.Keys() {
		v1, _ := d.Get(k)
		v2, ok := o.Get(k)
		if !ok || !strings.EqualFold(v1, v2) && v1 != v2 {
			return false
		}
	}
	return true
}

// Key returns a stable, case-normalized string usable as a map key for
// bucketing samples by dimension set.
func (d *DimensionSpec) Key() string {
	keys := d.Keys()
	norm := make([]string, len(keys))
	for i, k := range keys {
		v, _ := d.Get(k)
		norm[i] = lower(k) + "=" + lower(v)
	}
	sort.Strings(norm)
	return strings.Join(norm, "\x1f")
}

// asMap renders the spec as an ordinary map, original-case keys, for wire
// encoding. Insertion order is not preserved across the wire; nothing
// downstream depends on it, only on case-insensitive lookup and Key().
func (d *DimensionSpec) asMap() map[string]string {
	m := make(map[string]string, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the spec as a plain JSON object of original-case
// key/value pairs.
func (d *DimensionSpec) MarshalJSON() ([]byte, error) {
	if d == nil {
		return json.Marshal(map[string]string{})
	}
	return json.Marshal(d.asMap())
}

// UnmarshalJSON rebuilds the spec from a plain JSON object.
func (d *DimensionSpec) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = *NewDimensionSpec(m)
	return nil
}

// GobEncode mirrors MarshalJSON so DimensionSpec round-trips through the
// gob-backed compact binary codec as well as JSON.
func (d *DimensionSpec) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d.asMap()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode is the GobEncode counterpart.
func (d *DimensionSpec) GobDecode(data []byte) error {
	var m map[string]string
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	*d = *NewDimensionSpec(m)
	return nil
}

// MatchGlob reports whether the dimension named key matches the shell
// glob pattern (used for machineFunction/datacenter filters at aggregator
// nodes). A missing dimension never matches a non-empty pattern and
// always matches an empty one.
func (d *DimensionSpec) MatchGlob(key, pattern string) bool {
	if pattern == "" {
		return true
	}
	v, ok := d.Get(key)
	if !ok {
		return false
	}
	ok2, err := path.Match(pattern, v)
	return err == nil && ok2
}
