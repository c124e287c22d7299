// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/cc-backend/internal/api"
	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/config"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/eventbus"
	"github.com/ClusterCockpit/cc-backend/internal/fanout"
	"github.com/ClusterCockpit/cc-backend/internal/metrics"
	"github.com/ClusterCockpit/cc-backend/internal/poller"
	"github.com/ClusterCockpit/cc-backend/internal/queryhandler"
	"github.com/ClusterCockpit/cc-backend/internal/registry"
	"github.com/ClusterCockpit/cc-backend/internal/registryclient"
	"github.com/ClusterCockpit/cc-backend/internal/transport"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

var (
	router *mux.Router
	server *http.Server

	dataManager  datamanager.DataManager
	nodeRegistry *registry.Registry
	bus          *eventbus.Bus

	aggregationPoller *poller.Poller
	pushClient        *registryclient.Client
)

// selfFromAddr derives this node's ServerInfo from its listen address,
// the way a peer addresses it in a fanout request's Sources.
func selfFromAddr(addr string) schema.ServerInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	port := 8080
	if _, portStr, err := net.SplitHostPort(addr); err == nil && portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}

	return schema.ServerInfo{Hostname: hostname, Port: port}
}

func codecByName(name string) codec.Codec {
	switch name {
	case "bond-compact-binary":
		return codec.BondCompactBinary
	default:
		return codec.JSON
	}
}

// metricsMiddleware observes every request this node answers, by the
// route template mux matched it against, for the operational metrics
// surfaced at /metrics alongside the fanout-internal ones.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if m := mux.CurrentRoute(r); m != nil {
			if tpl, err := m.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// serverInit wires every component built from internal/... into a
// runnable daemon: local storage, peer registry, the fanout engine, the
// query handler and the inbound HTTP router, plus the two background
// actors (AggregationPoller, registryclient.Client) that keep the fabric
// converging without a query ever having been asked.
func serverInit() {
	self := selfFromAddr(config.Keys.Addr)
	wireCodec := codecByName(config.Keys.Codec)

	dataManager = datamanager.NewMemory()
	nodeRegistry = registry.New()
	if d, err := time.ParseDuration(config.Keys.RegistryExpiration); err == nil {
		nodeRegistry.SetExpiration(d)
	}

	if config.Keys.Nats.Address != "" {
		b, err := eventbus.Connect(config.Keys.Nats.Address)
		if err != nil {
			log.Warnf("SERVER: connecting to NATS at %s failed, falling back to in-process eventbus: %s", config.Keys.Nats.Address, err.Error())
			bus = eventbus.Local()
		} else {
			bus = b
		}
	} else {
		bus = eventbus.Local()
	}

	nodeRegistry.OnAdvance(func(hostname, counter string, endTime int64) {
		bus.Publish(eventbus.SubjectPeerAdvanced, eventbus.PeerAdvancedEvent{Hostname: hostname, Counter: counter, EndTime: endTime})
	})

	httpTransport := transport.NewHTTPTransport()
	engine := fanout.New(httpTransport, wireCodec)
	queryHandler := queryhandler.New(self, dataManager, engine, nodeRegistry, config.Keys.IsAggregator)

	aggregationPoller = poller.New(dataManager, nodeRegistry, engine, poller.NewCounterSink(dataManager, wireCodec), bus)
	aggregationPoller.SetMaxFanout(config.Keys.MaxFanout)

	if config.Keys.RegistrationDestinationHost != "" {
		destination := schema.ServerInfo{Hostname: config.Keys.RegistrationDestinationHost, Port: config.Keys.RegistrationDestinationPort}
		pushClient = registryclient.New(self, destination, dataManager, httpTransport, wireCodec)
	}

	a := &api.API{
		QueryHandler:    queryHandler,
		DataManager:     dataManager,
		Registry:        nodeRegistry,
		RegisterLimiter: rate.NewLimiter(rate.Limit(20), 40),
		WriteLimiter:    rate.NewLimiter(rate.Limit(200), 400),
	}

	router = mux.NewRouter()
	a.MountRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(metricsMiddleware)
	router.Use(api.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
}

func serverStart() {
	handler := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	server = &http.Server{
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Fatalf("starting tcp listener failed: %s", err.Error())
	}
	log.Infof("SERVER: listening at %s", config.Keys.Addr)

	sweepInterval := 1 * time.Minute
	if d, err := time.ParseDuration(config.Keys.RegistrySweepInterval); err == nil {
		sweepInterval = d
	}
	go func() {
		for range time.Tick(sweepInterval) {
			if removed := nodeRegistry.Sweep(time.Now()); len(removed) > 0 {
				log.Infof("REGISTRY: expired %d peer(s): %s", len(removed), strings.Join(removed, ", "))
			}
			metrics.RegistryPeers.Set(float64(nodeRegistry.Count()))
		}
	}()

	pollInterval := poller.DefaultInterval
	if d, err := time.ParseDuration(config.Keys.PollerInterval); err == nil {
		pollInterval = d
	}
	if err := aggregationPoller.Start(pollInterval); err != nil {
		log.Errorf("SERVER: starting poller failed: %s", err.Error())
	}

	if pushClient != nil {
		interval := 1 * time.Minute
		if d, err := time.ParseDuration(config.Keys.RegistrationInterval); err == nil {
			interval = d
		}
		if err := pushClient.Start(interval); err != nil {
			log.Errorf("SERVER: starting registryclient failed: %s", err.Error())
		}
	}

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serving http failed: %s", err.Error())
	}
}

func serverShutdown() {
	server.Shutdown(context.Background())

	aggregationPoller.Stop()
	if pushClient != nil {
		pushClient.Stop()
	}
	bus.Close()
}
