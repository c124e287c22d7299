// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poller drives periodic pre-aggregation: for every counter the
// DataManager lists (there is no per-counter opt-in; all of them are
// polled), it finds sources with fresher data than the local copy and
// runs a fanout to pull it in, via the same FanoutEngine the query path
// uses.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/eventbus"
	"github.com/ClusterCockpit/cc-backend/internal/fanout"
	"github.com/ClusterCockpit/cc-backend/internal/metrics"
	"github.com/ClusterCockpit/cc-backend/internal/registry"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// DefaultInterval is how often the poller scans for pending counters.
const DefaultInterval = 1 * time.Minute

// DefaultMaxFanout is the MaxFanout the poller drives its fanouts with.
const DefaultMaxFanout = 20

// timeoutLadder picks a deadline from a fixed ladder keyed by source
// count and maxFanout: <=maxFanout -> 5s, <=maxFanout^2 -> 12s,
// <=maxFanout^3 -> 20s, larger -> 30s.
func timeoutLadder(sourceCount, maxFanout int) time.Duration {
	switch {
	case sourceCount <= maxFanout:
		return 5 * time.Second
	case sourceCount <= maxFanout*maxFanout:
		return 12 * time.Second
	case sourceCount <= maxFanout*maxFanout*maxFanout:
		return 20 * time.Second
	default:
		return 30 * time.Second
	}
}

// Sink is satisfied by a fanout.Sink that also knows how to commit a
// merged response back into local storage; AggregationPoller needs both
// ends since it both merges and then persists the result.
type Sink interface {
	fanout.Sink
	Commit(ctx context.Context, counter string, start, end int64) error
}

// Poller ties together a DataManager, a Registry and a FanoutEngine to
// periodically pull fresher data for every counter the DataManager
// lists.
type Poller struct {
	dm        datamanager.DataManager
	reg       *registry.Registry
	engine    *fanout.Engine
	newSink   func(counter string) Sink
	maxFanout int
	bus       *eventbus.Bus

	scheduler gocron.Scheduler

	activeMu sync.Mutex
	active   map[string]bool
}

// New builds a Poller. newSink constructs the per-counter Sink used to
// merge and then commit one tick's fanout for that counter. bus may be
// nil; events are simply dropped in that case.
func New(dm datamanager.DataManager, reg *registry.Registry, engine *fanout.Engine, newSink func(counter string) Sink, bus *eventbus.Bus) *Poller {
	return &Poller{
		dm:        dm,
		reg:       reg,
		engine:    engine,
		newSink:   newSink,
		maxFanout: DefaultMaxFanout,
		bus:       bus,
		active:    make(map[string]bool),
	}
}

// SetMaxFanout overrides DefaultMaxFanout for every fanout this poller
// drives, matching the node's configured MaxFanout.
func (p *Poller) SetMaxFanout(n int) {
	if n > 0 {
		p.maxFanout = n
	}
}

// Start schedules periodic ticks at interval.
func (p *Poller) Start(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	p.scheduler = s

	if _, err := s.NewJob(gocron.DurationJob(interval), gocron.NewTask(func() { p.Tick(context.Background()) })); err != nil {
		return err
	}
	s.Start()
	return nil
}

// Stop halts the scheduler. In-flight ticks are not cancelled; they run
// to completion since each is bounded by its own fanout deadline.
func (p *Poller) Stop() {
	if p.scheduler != nil {
		_ = p.scheduler.Shutdown()
	}
}

// Tick runs one scan-and-poll pass over every counter that
// DataManager.Counters returns; no counter is filtered out. A worker
// set bounded by the counter count runs them concurrently; at most one
// outstanding poll per counter is allowed, tracked by the active set.
func (p *Poller) Tick(ctx context.Context) {
	counters := p.dm.Counters()

	var wg sync.WaitGroup
	wg.Add(len(counters))
	for _, counter := range counters {
		counter := counter
		go func() {
			defer wg.Done()
			p.pollOne(ctx, counter)
		}()
	}
	wg.Wait()
}

func (p *Poller) pollOne(ctx context.Context, counter string) {
	p.activeMu.Lock()
	if p.active[counter] {
		p.activeMu.Unlock()
		metrics.PollerTicks.WithLabelValues("skipped_active").Inc()
		return
	}
	p.active[counter] = true
	p.activeMu.Unlock()

	defer func() {
		p.activeMu.Lock()
		delete(p.active, counter)
		p.activeMu.Unlock()
	}()

	localEnd := p.dm.LatestEndTime(counter)
	sources, newEnd := p.reg.PeersWithCounterAfter(counter, localEnd)
	if len(sources) == 0 {
		metrics.PollerTicks.WithLabelValues("no_pending").Inc()
		return
	}

	timeout := timeoutLadder(len(sources), p.maxFanout)
	req := schema.TieredRequest{
		Sources:                   sources,
		MaxFanout:                 p.maxFanout,
		FanoutTimeoutMs:           timeout.Milliseconds(),
		IncludeRequestDiagnostics: true,
	}

	sink := p.newSink(counter)

	if err := p.engine.Run(ctx, req, "/counters/"+counter+"/query", sink); err != nil {
		log.Warnf("POLLER: fanout for counter %s failed: %s", counter, err.Error())
		metrics.PollerTicks.WithLabelValues("fanout_error").Inc()
		p.bus.Publish(eventbus.SubjectPollFailed, eventbus.PollOutcomeEvent{Counter: counter, Sources: len(sources), Error: err.Error()})
		return
	}

	if err := sink.Commit(ctx, counter, localEnd, newEnd); err != nil {
		log.Warnf("POLLER: committing merged range for counter %s failed: %s", counter, err.Error())
		metrics.PollerTicks.WithLabelValues("commit_error").Inc()
		p.bus.Publish(eventbus.SubjectPollFailed, eventbus.PollOutcomeEvent{Counter: counter, Sources: len(sources), Error: err.Error()})
		return
	}

	metrics.PollerTicks.WithLabelValues("committed").Inc()
	p.bus.Publish(eventbus.SubjectPollComplete, eventbus.PollOutcomeEvent{Counter: counter, Sources: len(sources)})
}
