// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package poller

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/cc-backend/internal/codec"
	"github.com/ClusterCockpit/cc-backend/internal/datamanager"
	"github.com/ClusterCockpit/cc-backend/internal/fanout"
	"github.com/ClusterCockpit/cc-backend/internal/registry"
	"github.com/ClusterCockpit/cc-backend/internal/transport"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

func TestTimeoutLadder(t *testing.T) {
	assert.Equal(t, 5*time.Second, timeoutLadder(5, 20))
	assert.Equal(t, 12*time.Second, timeoutLadder(300, 20))
	assert.Equal(t, 20*time.Second, timeoutLadder(7000, 20))
	assert.Equal(t, 30*time.Second, timeoutLadder(999999, 20))
}

type fakeTransportOK struct{}

func (fakeTransportOK) Do(ctx context.Context, leader schema.ServerInfo, path string, body []byte, accept codec.ContentType) ([]byte, int, error) {
	return []byte(`{"counter":"cpu_load","rows":[]}`), 200, nil
}

type recordingSink struct {
	mu        sync.Mutex
	decoded   int
	committed bool
}

func (s *recordingSink) Decode(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decoded++
	return nil
}

func (s *recordingSink) Synthetic(details []schema.RequestDetails) {}

func (s *recordingSink) Commit(ctx context.Context, counter string, start, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = true
	return nil
}

func TestPollOneSkipsWhenNoPendingSources(t *testing.T) {
	dm := &stubDM{counters: []string{"cpu_load"}, latest: map[string]int64{"cpu_load": 100}}
	reg := registry.New()
	engine := fanout.New(fakeTransportOK{}, codec.JSON)

	var built int
	p := New(dm, reg, engine, func(counter string) Sink {
		built++
		return &recordingSink{}
	}, nil)

	p.Tick(context.Background())
	assert.Equal(t, 0, built)
}

func TestPollOneRunsFanoutAndCommitsWhenPeerIsAhead(t *testing.T) {
	dm := &stubDM{counters: []string{"cpu_load"}, latest: map[string]int64{"cpu_load": 100}}
	reg := registry.New()
	reg.InsertOrUpdate(schema.ServerRegistration{
		Server:         schema.ServerInfo{Hostname: "node01", Port: 9000},
		CounterCursors: map[string]int64{"cpu_load": 500},
	})
	engine := fanout.New(fakeTransportOK{}, codec.JSON)

	sink := &recordingSink{}
	p := New(dm, reg, engine, func(counter string) Sink { return sink }, nil)

	p.Tick(context.Background())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.decoded)
	assert.True(t, sink.committed)
}

func TestPollOneSkipsWhenAlreadyActive(t *testing.T) {
	dm := &stubDM{counters: []string{"cpu_load"}, latest: map[string]int64{"cpu_load": 100}}
	reg := registry.New()
	reg.InsertOrUpdate(schema.ServerRegistration{
		Server:         schema.ServerInfo{Hostname: "node01"},
		CounterCursors: map[string]int64{"cpu_load": 500},
	})
	engine := fanout.New(fakeTransportOK{}, codec.JSON)

	p := New(dm, reg, engine, func(counter string) Sink { return &recordingSink{} }, nil)
	p.active["cpu_load"] = true

	p.Tick(context.Background())

	require.True(t, p.active["cpu_load"])
}

type stubDM struct {
	counters []string
	latest   map[string]int64
}

func (s *stubDM) Query(context.Context, string, *schema.DimensionSpec, int64, int64) ([]*schema.DataSample, error) {
	return nil, nil
}
func (s *stubDM) Info(context.Context, string) (*schema.CounterInfo, error) { return nil, nil }
func (s *stubDM) Write(context.Context, string, []*schema.DataSample) error { return nil }
func (s *stubDM) Transfer(context.Context, string, int64, int64) (io.Reader, error) {
	return nil, nil
}
func (s *stubDM) Counters() []string          { return s.counters }
func (s *stubDM) LatestEndTime(c string) int64 { return s.latest[c] }

var _ datamanager.DataManager = (*stubDM)(nil)
var _ transport.Transport = fakeTransportOK{}
