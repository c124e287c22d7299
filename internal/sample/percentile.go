// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package sample

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// ParsePercentileParam recognizes the reserved "percentile" dimension
// value: "average", "minimum", "maximum" or a numeric string in [0,100].
// ok is false if value does not match any recognized form.
func ParsePercentileParam(value string) (param string, ok bool) {
	switch strings.ToLower(value) {
	case "average", "minimum", "maximum":
		return strings.ToLower(value), true
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 || f > 100 {
		return "", false
	}
	return value, true
}

// ToPercentile converts a merged Histogram sample into a Percentile
// sample for the requested param, using the nearest-rank method (no
// interpolation) over the histogram's bucket upper bounds. Average/minimum/maximum bypass the
// rank computation entirely.
func ToPercentile(h *schema.DataSample, param string) *schema.DataSample {
	out := &schema.DataSample{
		Kind:         schema.Percentile,
		Dimensions:   h.Dimensions.Clone(),
		Start:        h.Start,
		End:          h.End,
		MachineCount: h.MachineCount,
		PercParam:    param,
	}

	switch param {
	case "minimum":
		out.PercValue = histoBound(h, false)
		return out
	case "maximum":
		out.PercValue = histoBound(h, true)
		return out
	case "average":
		out.PercValue = histoMean(h)
		return out
	}

	p, err := strconv.ParseFloat(param, 64)
	if err != nil {
		p = 50
	}
	out.PercValue = histoRank(h, p)
	return out
}

type bucket struct {
	upper int64
	count int64
}

func sortedBuckets(h *schema.DataSample) []bucket {
	buckets := make([]bucket, 0, len(h.Histo))
	for upper, count := range h.Histo {
		buckets = append(buckets, bucket{upper: upper, count: count})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].upper < buckets[j].upper })
	return buckets
}

func histoBound(h *schema.DataSample, max bool) float64 {
	buckets := sortedBuckets(h)
	for i := range buckets {
		idx := i
		if max {
			idx = len(buckets) - 1 - i
		}
		if buckets[idx].count > 0 {
			return float64(buckets[idx].upper)
		}
	}
	return 0
}

func histoMean(h *schema.DataSample) float64 {
	buckets := sortedBuckets(h)
	var sum, n float64
	for _, b := range buckets {
		sum += float64(b.upper) * float64(b.count)
		n += float64(b.count)
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// histoRank returns the value at percentile p (0-100) using the
// nearest-rank method: rank = ceil(p/100 * N), clamped to [1,N], and the
// result is the upper bound of the bucket whose cumulative count first
// reaches that rank.
func histoRank(h *schema.DataSample, p float64) float64 {
	buckets := sortedBuckets(h)
	if len(buckets) == 0 || h.HistoCount == 0 {
		return 0
	}

	rank := int64(math.Ceil(p / 100.0 * float64(h.HistoCount)))
	if rank < 1 {
		rank = 1
	}
	if rank > h.HistoCount {
		rank = h.HistoCount
	}

	var cum int64
	for _, b := range buckets {
		cum += b.count
		if cum >= rank {
			return float64(b.upper)
		}
	}
	return float64(buckets[len(buckets)-1].upper)
}
