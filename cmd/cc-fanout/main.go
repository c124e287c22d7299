// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command cc-fanout runs one node of the tiered metric-query fanout
// fabric: local counter storage, the recursive fanout protocol, peer
// discovery and the aggregation poller, all behind the HTTP endpoints
// internal/api mounts.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"

	"github.com/ClusterCockpit/cc-backend/internal/config"
	"github.com/ClusterCockpit/cc-backend/internal/runtimeEnv"
	"github.com/ClusterCockpit/cc-backend/pkg/log"
)

var (
	version = "development"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("cc-fanout, version %s (commit %s, built %s)\n", version, commit, date)
		os.Exit(0)
	}

	log.SetLogDateTime(flagLogDateTime)

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing './.env' failed: %s", err.Error())
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatal(err)
	}

	if flagLogLevel != "" {
		config.Keys.LogLevel = flagLogLevel
	}
	log.SetLogLevel(config.Keys.LogLevel)

	serverInit()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverStart()
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotify(false, "shutting down")
		serverShutdown()
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}

	runtimeEnv.SystemdNotify(true, "running")
	wg.Wait()
	log.Info("SERVER: graceful shutdown completed")
}
