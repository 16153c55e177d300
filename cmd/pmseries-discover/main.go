// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command pmseries-discover wires configuration, logging, the store
// client, mapping cache, ingest loader, archive discovery driver and
// push-ingestion listener together and drives them from a single event
// loop until signalled to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/performancecopilot/pmseries-core/internal/bootstrap"
	"github.com/performancecopilot/pmseries-core/internal/config"
	"github.com/performancecopilot/pmseries-core/internal/discover"
	"github.com/performancecopilot/pmseries-core/internal/discover/offsetledger"
	"github.com/performancecopilot/pmseries-core/internal/ingest"
	"github.com/performancecopilot/pmseries-core/internal/mapcache"
	"github.com/performancecopilot/pmseries-core/internal/pushingest"
	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/eventloop"
	"github.com/performancecopilot/pmseries-core/pkg/log"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
	natspkg "github.com/performancecopilot/pmseries-core/pkg/nats"
	"github.com/performancecopilot/pmseries-core/pkg/runtimeEnv"
)

func main() {
	var (
		flagConfigFile string
		flagLogLevel   string
		flagUser       string
		flagGroup      string
		flagMetricAddr string
		flagOffsetDB   string
		flagGops       bool
		flagSnapshot   string
	)
	flag.StringVar(&flagConfigFile, "config", "/etc/pmseries/pmseries.ini", "Path to the INI configuration file")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of crit, err, warn, info, debug")
	flag.StringVar(&flagUser, "user", "", "Drop privileges to this user after binding any privileged resources")
	flag.StringVar(&flagGroup, "group", "", "Drop privileges to this group after binding any privileged resources")
	flag.StringVar(&flagMetricAddr, "metrics-addr", ":9271", "Address to serve Prometheus metrics on")
	flag.StringVar(&flagOffsetDB, "offset-db", "/var/lib/pmseries/offsets.db", "Path to the sqlite offset ledger")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagSnapshot, "write-schema-snapshot", "", "Path to write an Avro schema snapshot to on SIGUSR1 (diagnostic, disabled if empty)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	// .env is optional; its absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("loading .env: %s", err)
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err)
		}
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("loading %s: %s", flagConfigFile, err)
	}

	m := metrics.New("pmseries")
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("registering metrics: %s", err)
	}

	loop := eventloop.New(1024)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	var seeds []string
	if cfg.Redis.Seeds != "" {
		seeds = strings.Split(cfg.Redis.Seeds, ",")
	}
	store := storeclient.New(cfg.StoreClientConfig(seeds), loop, m)

	readyCh := make(chan struct{})
	loop.Post(func() {
		bootCfg := bootstrap.Config{ProbeCommandTable: true, ProbeVersion: true}
		bootstrap.Run(ctx, store, bootCfg, func(res *bootstrap.Result, err error) {
			if err != nil {
				log.Fatalf("bootstrap: %s", err)
			}
			if res.SchemaReadOnly {
				log.Warnf("bootstrap: store schema version mismatch, continuing read-only")
			}
			log.Infof("bootstrap: connected, store version %s", res.RedisVersion)
			close(readyCh)
		})
	})

	select {
	case <-readyCh:
	case <-time.After(30 * time.Second):
		log.Fatalf("bootstrap: timed out waiting for initial connection to %v", seeds)
	}

	if err := store.StartReconnectWorker(); err != nil {
		log.Fatalf("starting reconnect worker: %s", err)
	}

	cache := mapcache.New(store, m)
	loader := ingest.New(store, cache, m, ingest.Config{
		StreamMaxLen: cfg.Series.StreamMaxLen,
		StreamExpire: cfg.Series.StreamExpire,
	})

	var snapshotRecorder *bootstrap.Recorder
	if flagSnapshot != "" {
		snapshotRecorder = bootstrap.NewRecorder()
		loader.SetRecorder(snapshotRecorder)
	}

	var discoverDriver *discover.Driver
	var ledger *offsetledger.Ledger
	if cfg.Discover.Enabled {
		ledger, err = offsetledger.Open(flagOffsetDB)
		if err != nil {
			log.Fatalf("opening offset ledger %s: %s", flagOffsetDB, err)
		}
		defer ledger.Close()

		var cold *discover.ColdStorage
		if cfg.Proxy.S3.Bucket != "" {
			cold, err = discover.NewColdStorage(ctx, cfg.Proxy.S3.Bucket, cfg.Proxy.S3.Region, cfg.Proxy.S3.Prefix)
			if err != nil {
				log.Fatalf("configuring cold storage: %s", err)
			}
		}

		discoverDriver = discover.New(
			cfg.Discover.ArchiveDir,
			unimplementedReader{},
			loader,
			ledger,
			cold,
			m,
			discover.Config{
				ExcludeMetrics: cfg.Discover.ExcludeMetrics,
				ExcludeIndoms:  cfg.Discover.ExcludeIndoms,
			},
			loop.Post,
		)
		loop.Post(func() {
			if err := discoverDriver.Start(); err != nil {
				log.Errorf("discover: starting watcher on %s: %s", cfg.Discover.ArchiveDir, err)
			}
		})
	}

	var natsClient *natspkg.Client
	if cfg.Series.Nats.Address != "" {
		natsClient, err = natspkg.NewClient(&cfg.Series.Nats)
		if err != nil {
			log.Fatalf("connecting to NATS at %s: %s", cfg.Series.Nats.Address, err)
		}
		defer natsClient.Close()

		listener := pushingest.New(natsClient, loader, loop.Post)
		if err := listener.Start(cfg.Series.Nats.Subscriptions, "pmseries-discover"); err != nil {
			log.Fatalf("pushingest: subscribing: %s", err)
		}
	}

	metricsSrv := &http.Server{Addr: flagMetricAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %s", err)
		}
	}()

	if err := runtimeEnv.DropPrivileges(flagUser, flagGroup); err != nil {
		log.Fatalf("dropping privileges: %s", err)
	}

	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range sigs {
		if sig == syscall.SIGUSR1 {
			if flagSnapshot == "" {
				log.Warnf("received SIGUSR1 but -write-schema-snapshot was not set, ignoring")
				continue
			}
			entries := snapshotRecorder.Entries()
			if err := bootstrap.WriteSnapshot(flagSnapshot, entries); err != nil {
				log.Errorf("writing schema snapshot to %s: %s", flagSnapshot, err)
				continue
			}
			log.Infof("wrote schema snapshot with %d entries to %s", len(entries), flagSnapshot)
			continue
		}
		break
	}

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	if discoverDriver != nil {
		loop.Post(discoverDriver.Stop)
	}
	store.Close()
	loop.Stop()
	log.Info("pmseries-discover: shutdown complete")
}
