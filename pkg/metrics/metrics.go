// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes Prometheus counters and gauges for the
// operational signals spec §7's error taxonomy calls out: store
// redirection, reconnects, semantic-duplicate writes, and the event loop's
// backlog. Registration follows the CounterVec/HistogramVec shape used
// throughout the example pack's cache and proxy layers.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Set is one registered family of metrics, scoped under namespace so two
// instances (e.g. in tests) never collide in the default registry.
type Set struct {
	BatonPhases     *prometheus.CounterVec
	Redirections    *prometheus.CounterVec
	Reconnects      prometheus.Counter
	DuplicateXAdd   prometheus.Counter
	StoreErrors     *prometheus.CounterVec
	StoreLatency    *prometheus.HistogramVec
	LoopDepth       prometheus.Gauge
	MapCacheOps     *prometheus.CounterVec
	ArchivesByState *prometheus.GaugeVec
}

// New builds a Set without registering it; call Register to attach it to a
// prometheus.Registerer (typically prometheus.DefaultRegisterer).
func New(namespace string) *Set {
	name := func(s string) string { return fmt.Sprintf("%s_%s", namespace, s) }

	return &Set{
		BatonPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name("baton_phases_total"),
			Help: "Baton phases run, labelled by phase name.",
		}, []string{"chain"}),
		Redirections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name("store_redirections_total"),
			Help: "Store requests that were redirected, labelled by MOVED or ASK.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name("store_reconnects_total"),
			Help: "Backing store connections that were dropped and re-established.",
		}),
		DuplicateXAdd: prometheus.NewCounter(prometheus.CounterOpts{
			Name: name("store_duplicate_xadd_total"),
			Help: "XADD calls rejected by the store as semantic duplicates (out-of-order timestamp).",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name("store_errors_total"),
			Help: "Store request failures, labelled by error kind (transport, protocol, oom).",
		}, []string{"kind"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name("store_request_latency_seconds"),
			Help:    "Round-trip latency of store requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		LoopDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: name("event_loop_depth"),
			Help: "Number of tasks currently queued on the event loop.",
		}),
		MapCacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name("mapcache_ops_total"),
			Help: "EnsureMapped outcomes, labelled by local_hit, published or already_present.",
		}, []string{"outcome"}),
		ArchivesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name("discover_archives"),
			Help: "Archives currently tracked by the discovery driver, labelled by lifecycle state.",
		}, []string{"state"}),
	}
}

// Register attaches every collector in the set to reg.
func (s *Set) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		s.BatonPhases, s.Redirections, s.Reconnects,
		s.DuplicateXAdd, s.StoreErrors, s.StoreLatency, s.LoopDepth,
		s.MapCacheOps, s.ArchivesByState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Unregister detaches every collector in the set from reg.
func (s *Set) Unregister(reg prometheus.Registerer) {
	reg.Unregister(s.BatonPhases)
	reg.Unregister(s.Redirections)
	reg.Unregister(s.Reconnects)
	reg.Unregister(s.DuplicateXAdd)
	reg.Unregister(s.StoreErrors)
	reg.Unregister(s.StoreLatency)
	reg.Unregister(s.LoopDepth)
	reg.Unregister(s.MapCacheOps)
	reg.Unregister(s.ArchivesByState)
}
