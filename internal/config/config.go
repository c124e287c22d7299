// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the daemon's JSON configuration
// file into the package-level Keys struct.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ClusterCockpit/cc-backend/pkg/log"
)

// NatsConfig configures the optional eventbus NATS connection.
type NatsConfig struct {
	Address       string `json:"address,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
}

// Config is the daemon's JSON configuration shape.
type Config struct {
	Addr string `json:"addr"`

	// IsAggregator makes this node populate fanout sources from its
	// Registry when a query arrives with none, instead of only ever
	// answering from local storage.
	IsAggregator bool `json:"isAggregator"`

	// MaxFanout bounds block count for any fanout this node initiates.
	MaxFanout int `json:"maxFanout"`

	// FanoutTimeoutMs is the top-level deadline for a fanout this node
	// initiates; child tiers scale it down by 0.9 per hop.
	FanoutTimeoutMs int64 `json:"fanoutTimeoutMs"`

	RegistryExpiration    string `json:"registryExpiration,omitempty"`
	RegistrySweepInterval string `json:"registrySweepInterval,omitempty"`

	RegistrationDestinationHost string `json:"registrationDestinationHost,omitempty"`
	RegistrationDestinationPort int    `json:"registrationDestinationPort,omitempty"`
	RegistrationInterval        string `json:"registrationInterval,omitempty"`

	PollerInterval string `json:"pollerInterval,omitempty"`

	Nats NatsConfig `json:"nats,omitempty"`

	Codec string `json:"codec,omitempty"` // "json" (default) or "bond-compact-binary"

	LogLevel string `json:"logLevel,omitempty"`
}

// Keys holds the process-wide configuration, populated by Init.
var Keys = Config{
	Addr:                  ":8080",
	IsAggregator:          false,
	MaxFanout:             20,
	FanoutTimeoutMs:       30000,
	RegistryExpiration:    "10m",
	RegistrySweepInterval: "1m",
	RegistrationInterval:  "1m",
	PollerInterval:        "1m",
	Codec:                 "json",
	LogLevel:              "info",
}

// Init reads path, validates it against the embedded schema, and decodes
// it over Keys's defaults. A missing file is not an error; the process
// runs with defaults.
func Init(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("CONFIG: %s not found, running with defaults", path)
			return nil
		}
		return fmt.Errorf("[CONFIG]> reading %s: %w", path, err)
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("[CONFIG]> validating %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("[CONFIG]> decoding %s: %w", path, err)
	}

	return nil
}
