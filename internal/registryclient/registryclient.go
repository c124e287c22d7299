// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registryclient runs the timer-driven actor that pushes this
// node's identity and per-counter cursors to a configured destination,
// the push side of the registration/discovery layer (internal/registry
// is the pull/storage side a destination node keeps).
package registryclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/transport"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// Client periodically POSTs this node's ServerRegistration to a
// destination node's /register endpoint.
type Client struct {
	self        schema.ServerInfo
	destination schema.ServerInfo
	dm          datamanager.DataManager
	transport   transport.Transport
	codec       codec.Codec

	scheduler gocron.Scheduler

	mu        sync.Mutex
	inFlight  context.CancelFunc
	inFlightWG sync.WaitGroup
}

// New builds a Client that will register self with destination,
// reading current counter cursors from dm.
func New(self, destination schema.ServerInfo, dm datamanager.DataManager, t transport.Transport, c codec.Codec) *Client {
	return &Client{self: self, destination: destination, dm: dm, transport: t, codec: c}
}

// Start schedules the periodic registration push at interval and runs
// one immediately. It is an error to call Start twice.
func (c *Client) Start(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	c.scheduler = s

	if _, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { c.tick() }),
	); err != nil {
		return err
	}

	s.Start()
	go c.tick()
	return nil
}

// Stop cancels the scheduler and blocks until any in-flight POST has
// completed or been cancelled. This is the explicit shutdown semantic
// the timer-driven actor needs: a bare timer stop would leave a POST
// racing the process exit.
func (c *Client) Stop() {
	if c.scheduler != nil {
		_ = c.scheduler.Shutdown()
	}

	c.mu.Lock()
	cancel := c.inFlight
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.inFlightWG.Wait()
}

func (c *Client) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	c.mu.Lock()
	c.inFlight = cancel
	c.mu.Unlock()
	c.inFlightWG.Add(1)

	defer func() {
		cancel()
		c.mu.Lock()
		c.inFlight = nil
		c.mu.Unlock()
		c.inFlightWG.Done()
	}()

	reg := schema.ServerRegistration{
		Server:         c.self,
		CounterCursors: make(map[string]int64),
	}
	for _, counter := range c.dm.Counters() {
		reg.CounterCursors[counter] = c.dm.LatestEndTime(counter)
	}

	body, err := c.codec.Encode(reg)
	if err != nil {
		log.Errorf("REGISTRYCLIENT: encoding registration: %s", err.Error())
		return
	}

	_, status, err := c.transport.Do(ctx, c.destination, "/register", body, c.codec.ContentType())
	if err != nil {
		log.Warnf("REGISTRYCLIENT: registering with %s failed: %s", c.destination, err.Error())
		return
	}
	if status < 200 || status >= 300 {
		log.Warnf("REGISTRYCLIENT: registering with %s returned HTTP %d", c.destination, status)
	}
}
