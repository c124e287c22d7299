// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package eventbus

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalBusDeliversToSubscribers(t *testing.T) {
	b := Local()

	var mu sync.Mutex
	var got []PeerAdvancedEvent

	b.Subscribe(SubjectPeerAdvanced, func(subject string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		var ev PeerAdvancedEvent
		_ = json.Unmarshal(data, &ev)
		got = append(got, ev)
	})

	b.Publish(SubjectPeerAdvanced, PeerAdvancedEvent{Hostname: "node01", Counter: "cpu_load", EndTime: 100})

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1)
	assert.Equal(t, "node01", got[0].Hostname)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() {
		b.Publish(SubjectPollComplete, PollOutcomeEvent{Counter: "cpu_load"})
	})
}

func TestBusIgnoresUnsubscribedSubjects(t *testing.T) {
	b := Local()
	called := false
	b.Subscribe(SubjectPeerAdvanced, func(subject string, data []byte) { called = true })

	b.Publish(SubjectPollComplete, PollOutcomeEvent{Counter: "cpu_load"})
	assert.False(t, called)
}
