// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes the daemon's own operational counters and
// histograms, independent of the counters it serves to clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FanoutLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccfanout",
		Subsystem: "fanout",
		Name:      "latency_seconds",
		Help:      "Wall-clock duration of one FanoutEngine.Run call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})

	BlockCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ccfanout",
		Subsystem: "fanout",
		Name:      "blocks",
		Help:      "Number of blocks a fanout was split into.",
		Buckets:   []float64{1, 2, 4, 8, 16, 20, 32, 64},
	})

	RequestStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccfanout",
		Subsystem: "fanout",
		Name:      "request_status_total",
		Help:      "Count of per-block fanout outcomes by RequestStatus.",
	}, []string{"status"})

	RegistryPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ccfanout",
		Subsystem: "registry",
		Name:      "peers",
		Help:      "Number of peers currently held in the registry.",
	})

	PollerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccfanout",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Count of aggregation poller ticks by outcome.",
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccfanout",
		Subsystem: "transport",
		Name:      "http_requests_total",
		Help:      "Count of inbound HTTP requests by route and status code.",
	}, []string{"route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccfanout",
		Subsystem: "transport",
		Name:      "http_request_duration_seconds",
		Help:      "Wall-clock duration of one inbound HTTP request, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
