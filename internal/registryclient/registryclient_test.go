// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package registryclient

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

type fakeDM struct {
	counters []string
	latest   map[string]int64
}

func (f *fakeDM) Query(context.Context, string, *schema.DimensionSpec, int64, int64) ([]*schema.DataSample, error) {
	return nil, nil
}
func (f *fakeDM) Info(context.Context, string) (*schema.CounterInfo, error) { return nil, nil }
func (f *fakeDM) Write(context.Context, string, []*schema.DataSample) error { return nil }
func (f *fakeDM) Transfer(context.Context, string, int64, int64) (io.Reader, error) {
	return nil, nil
}
func (f *fakeDM) Counters() []string          { return f.counters }
func (f *fakeDM) LatestEndTime(c string) int64 { return f.latest[c] }

type captureTransport struct {
	mu   sync.Mutex
	body []byte
	n    int
}

func (c *captureTransport) Do(ctx context.Context, leader schema.ServerInfo, path string, body []byte, accept codec.ContentType) ([]byte, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
	c.n++
	return []byte(`{}`), 200, nil
}

func TestTickPostsCurrentCursors(t *testing.T) {
	dm := &fakeDM{counters: []string{"cpu_load"}, latest: map[string]int64{"cpu_load": 500}}
	tr := &captureTransport{}
	self := schema.ServerInfo{Hostname: "node01", Port: 9000}
	dest := schema.ServerInfo{Hostname: "agg01", Port: 9000}

	c := New(self, dest, dm, tr, codec.JSON)
	c.tick()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Equal(t, 1, tr.n)

	var reg schema.ServerRegistration
	require.NoError(t, json.Unmarshal(tr.body, &reg))
	assert.Equal(t, "node01", reg.Server.Hostname)
	assert.EqualValues(t, 500, reg.CounterCursors["cpu_load"])
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	dm := &fakeDM{}
	tr := &captureTransport{}
	c := New(schema.ServerInfo{Hostname: "node01"}, schema.ServerInfo{Hostname: "agg01"}, dm, tr, codec.JSON)

	require.NoError(t, c.Start(time.Hour))
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.GreaterOrEqual(t, tr.n, 1)
}
