// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventbus publishes lifecycle events (peer cursor advances,
// poller outcomes) onto a NATS subject when configured, and falls back
// to an in-process fan-out otherwise, so the rest of the fabric does not
// need to special-case a standalone deployment with no broker.
package eventbus

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/ClusterCockpit/cc-backend/pkg/log"
)

// Subjects used by the rest of the fabric.
const (
	SubjectPeerAdvanced = "fanout.peer.advanced"
	SubjectPollComplete = "fanout.poll.completed"
	SubjectPollFailed   = "fanout.poll.failed"
)

// Handler receives a subject and its raw payload.
type Handler func(subject string, data []byte)

// Bus is a minimal publish/subscribe seam. A nil *Bus is valid and acts
// as a no-op publisher, so callers that never configured one can still
// call Publish unconditionally.
type Bus struct {
	conn *nats.Conn

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// Local returns a Bus with no broker connection: Publish fans out
// in-process to local Subscribe callbacks only.
func Local() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Connect dials a NATS server at address and returns a Bus backed by it.
// Local subscribers registered via Subscribe still receive every publish
// in addition to the NATS subject.
func Connect(address string) (*Bus, error) {
	nc, err := nats.Connect(address,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("EVENTBUS: disconnected: %s", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("EVENTBUS: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc, handlers: make(map[string][]Handler)}, nil
}

// Subscribe registers a local handler for subject. Works whether or not
// a NATS connection is configured.
func (b *Bus) Subscribe(subject string, h Handler) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.handlers[subject] = append(b.handlers[subject], h)
	b.mu.Unlock()

	if b.conn != nil {
		if _, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			h(msg.Subject, msg.Data)
		}); err != nil {
			log.Warnf("EVENTBUS: subscribing to %q failed: %s", subject, err.Error())
		}
	}
}

// Publish encodes v as JSON and sends it to subject, over NATS if
// connected and always to any in-process Subscribe callbacks. A nil Bus
// silently drops the event.
func (b *Bus) Publish(subject string, v interface{}) {
	if b == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("EVENTBUS: encoding event for %q: %s", subject, err.Error())
		return
	}

	if b.conn != nil {
		if err := b.conn.Publish(subject, data); err != nil {
			log.Warnf("EVENTBUS: publishing to %q failed: %s", subject, err.Error())
		}
	}

	b.mu.RLock()
	hs := append([]Handler{}, b.handlers[subject]...)
	b.mu.RUnlock()
	for _, h := range hs {
		h(subject, data)
	}
}

// Close releases the underlying NATS connection, if any.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}

// PeerAdvancedEvent is published whenever Registry.InsertOrUpdate moves a
// peer's per-counter cursor forward.
type PeerAdvancedEvent struct {
	Hostname string `json:"hostname"`
	Counter  string `json:"counter"`
	EndTime  int64  `json:"endTime"`
}

// PollOutcomeEvent is published by AggregationPoller after each attempted
// poll of one counter.
type PollOutcomeEvent struct {
	Counter string `json:"counter"`
	Sources int    `json:"sources"`
	Error   string `json:"error,omitempty"`
}
