// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package datamanager defines the seam between the fanout fabric and a
// node's local counter storage engine. QueryHandler and AggregationPoller
// only ever see this interface; how counters are actually stored,
// compacted or persisted is out of scope here.
package datamanager

import (
	"context"
	"errors"
	"io"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// ErrNotFound is returned by Query/Info when the named counter has
// never been written locally.
var ErrNotFound = errors.New("[DATAMANAGER]> unknown counter")

// DataManager yields counters and accepts queries against local storage.
type DataManager interface {
	// Query returns the samples a counter has for the given dimension
	// filters and time range. An unknown counter returns ErrNotFound.
	Query(ctx context.Context, counter string, dims *schema.DimensionSpec, start, end int64) ([]*schema.DataSample, error)

	// Info returns the schema/metadata description of a counter.
	Info(ctx context.Context, counter string) (*schema.CounterInfo, error)

	// Write appends samples to a counter, creating it if necessary.
	Write(ctx context.Context, counter string, samples []*schema.DataSample) error

	// Transfer streams every sample of a counter within [start, end) in
	// an implementation-defined wire format, for bulk hand-off between
	// tiers during pre-aggregation.
	Transfer(ctx context.Context, counter string, start, end int64) (io.Reader, error)

	// Counters lists every counter name currently known locally.
	Counters() []string

	// LatestEndTime returns the end timestamp of the most recent sample
	// committed for counter, or 0 if the counter has no data yet.
	LatestEndTime(counter string) int64
}
