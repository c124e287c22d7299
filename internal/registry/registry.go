// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry tracks the peers that have pushed a registration to
// this node: their identity and the latest end-time they have observed
// per counter. Peers are rediscovered via registration, never persisted.
package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-backend/pkg/log"
	"github.com/ClusterCockpit/cc-backend/pkg/schema"
)

// DefaultExpiration is how long a peer record survives without a
// refreshing registration before the expiry sweep removes it.
const DefaultExpiration = 10 * time.Minute

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 1 * time.Minute

// PeerRecord is a snapshot of one peer's identity and the latest
// end-time it has reported per counter. Callers receive copies; the
// Registry's own map is never handed out directly.
type PeerRecord struct {
	Server         schema.ServerInfo
	LastUpdate     time.Time
	CounterCursors map[string]int64
}

type entry struct {
	record PeerRecord
	cursorMu sync.Mutex
}

// Registry is a hostname-keyed table of peer records, guarded by a
// single lock as required by the shared-resource policy; per-peer
// counter-cursor updates take a narrower lock so a registration storm
// from one peer does not block readers of the whole table.
type Registry struct {
	mu         sync.RWMutex
	peers      map[string]*entry
	expiration time.Duration

	onAdvance func(hostname, counter string, endTime int64)
}

// New returns an empty Registry with the default expiration.
func New() *Registry {
	return &Registry{
		peers:      make(map[string]*entry),
		expiration: DefaultExpiration,
	}
}

// SetExpiration overrides the peer expiration used by Sweep. Intended to
// be called once at startup from the daemon's configuration, before any
// registration traffic arrives.
func (r *Registry) SetExpiration(d time.Duration) {
	r.mu.Lock()
	r.expiration = d
	r.mu.Unlock()
}

// OnAdvance registers a callback invoked whenever InsertOrUpdate moves a
// per-counter cursor forward. The server uses it to publish a
// peer.advanced event onto the eventbus; the aggregation poller reads
// cursors through PeersWithCounterAfter instead.
func (r *Registry) OnAdvance(f func(hostname, counter string, endTime int64)) {
	r.onAdvance = f
}

func key(hostname string) string { return strings.ToLower(hostname) }

// InsertOrUpdate creates or refreshes the peer identified by
// reg.Server.Hostname. Per-counter cursors only ever move forward;
// a cursor value older than what is already recorded is ignored and
// logged rather than applied.
func (r *Registry) InsertOrUpdate(reg schema.ServerRegistration) {
	k := key(reg.Server.Hostname)

	r.mu.Lock()
	e, ok := r.peers[k]
	if !ok {
		e = &entry{record: PeerRecord{
			Server:         reg.Server,
			CounterCursors: make(map[string]int64, len(reg.CounterCursors)),
		}}
		r.peers[k] = e
	}
	r.mu.Unlock()

	e.cursorMu.Lock()
	e.record.Server = reg.Server
	e.record.LastUpdate = time.Now()
	for counter, end := range reg.CounterCursors {
		cur, known := e.record.CounterCursors[counter]
		if known && end <= cur {
			if end < cur {
				log.Warnf("REGISTRY: stale cursor for %s/%s: got %d, have %d", reg.Server.Hostname, counter, end, cur)
			}
			continue
		}
		e.record.CounterCursors[counter] = end
		if r.onAdvance != nil {
			r.onAdvance(reg.Server.Hostname, counter, end)
		}
	}
	e.cursorMu.Unlock()
}

// Get returns a snapshot of one peer's record, or false if unknown.
func (r *Registry) Get(hostname string) (PeerRecord, bool) {
	r.mu.RLock()
	e, ok := r.peers[key(hostname)]
	r.mu.RUnlock()
	if !ok {
		return PeerRecord{}, false
	}
	return e.snapshot(), true
}

func (e *entry) snapshot() PeerRecord {
	e.cursorMu.Lock()
	defer e.cursorMu.Unlock()
	cursors := make(map[string]int64, len(e.record.CounterCursors))
	for k, v := range e.record.CounterCursors {
		cursors[k] = v
	}
	return PeerRecord{Server: e.record.Server, LastUpdate: e.record.LastUpdate, CounterCursors: cursors}
}

// Peers returns a snapshot of every peer currently held; expired peers
// stay in the result until Sweep removes them.
func (r *Registry) Peers() []PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerRecord, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e.snapshot())
	}
	return out
}

// PeersWithCounterAfter returns the ServerInfo of every known peer whose
// cursor for counter exceeds after, and the highest such cursor value
// seen (after itself if no peer qualifies). AggregationPoller uses the
// sources to drive its fanout and the cursor to know how far the pulled
// data actually reaches, rather than assuming "now".
func (r *Registry) PeersWithCounterAfter(counter string, after int64) ([]schema.ServerInfo, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schema.ServerInfo
	maxEnd := after
	for _, e := range r.peers {
		snap := e.snapshot()
		if end, ok := snap.CounterCursors[counter]; ok && end > after {
			out = append(out, snap.Server)
			if end > maxEnd {
				maxEnd = end
			}
		}
	}
	return out, maxEnd
}

// Count returns the number of currently known peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Sweep removes every peer whose LastUpdate is older than the registry's
// expiration, returning the hostnames removed. Intended to be called
// periodically by a scheduler.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for k, e := range r.peers {
		e.cursorMu.Lock()
		stale := now.Sub(e.record.LastUpdate) > r.expiration
		host := e.record.Server.Hostname
		e.cursorMu.Unlock()
		if stale {
			delete(r.peers, k)
			removed = append(removed, host)
		}
	}
	return removed
}
