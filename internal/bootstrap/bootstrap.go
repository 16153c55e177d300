// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bootstrap runs the schema bootstrap phase chain of spec §4.7 on
// top of a connected internal/storeclient.Client: it refreshes the slot
// map, probes the store's command table and version, and reconciles the
// schema version key before telling the caller it is safe to start
// accepting load requests.
package bootstrap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/log"
)

// SeriesVersion is the schema version this build of the core writes to
// pcp:version:schema on a fresh store.
const SeriesVersion = "2"

// MinRedisVersion is the lowest backing-store version the core supports.
const MinRedisVersion = "6.2.0"

// Config tunes which optional bootstrap steps run.
type Config struct {
	// ProbeCommandTable runs COMMAND and caches (name, first-key-position)
	// pairs, used when proxying arbitrary commands.
	ProbeCommandTable bool
	// ProbeVersion runs INFO SERVER and enforces MinRedisVersion.
	ProbeVersion bool
	// StrictSchemaVersion turns a schema version mismatch into a fatal
	// error instead of a read-only warning (spec §6: "schema version
	// conflict when strict" is a startup failure).
	StrictSchemaVersion bool
}

// CommandInfo is the routing-relevant subset of a COMMAND reply entry.
type CommandInfo struct {
	Name             string
	FirstKeyPosition int
}

// Result is the outcome of a successful Run.
type Result struct {
	Commands    map[string]CommandInfo
	RedisVersion string
	SchemaReadOnly bool
}

// Run executes the phase chain and invokes done on the event loop goroutine
// with the outcome. client must already be constructed; Run calls
// client.Bootstrap itself as the chain's first step.
func Run(ctx context.Context, client *storeclient.Client, cfg Config, done func(*Result, error)) {
	client.Bootstrap(ctx, func(err error) {
		if err != nil {
			done(nil, fmt.Errorf("bootstrap: slot map: %w", err))
			return
		}

		res := &Result{Commands: make(map[string]CommandInfo)}
		steps := []func(func(error)){
			func(next func(error)) { probeCommandTable(ctx, client, cfg, res, next) },
			func(next func(error)) { probeVersion(ctx, client, cfg, res, next) },
			func(next func(error)) { reconcileSchemaVersion(ctx, client, cfg, res, next) },
		}
		runSteps(steps, func(err error) { done(res, err) })
	})
}

// runSteps runs steps one at a time, short-circuiting on the first error.
// Each step is optional-aware: callers that disable a probe simply call
// next(nil) immediately.
func runSteps(steps []func(func(error)), done func(error)) {
	if len(steps) == 0 {
		done(nil)
		return
	}
	steps[0](func(err error) {
		if err != nil {
			done(err)
			return
		}
		runSteps(steps[1:], done)
	})
}

func probeCommandTable(ctx context.Context, client *storeclient.Client, cfg Config, res *Result, next func(error)) {
	if !cfg.ProbeCommandTable {
		next(nil)
		return
	}
	cmd := redis.NewCommandsInfoCmd(ctx, "COMMAND")
	client.Request(ctx, nil, cmd, func(cmd redis.Cmder, err error) {
		if err != nil {
			log.Warnf("bootstrap: COMMAND probe failed, routing keys for proxied commands unavailable: %v", err)
			next(nil)
			return
		}
		infoCmd, _ := cmd.(*redis.CommandsInfoCmd)
		for name, info := range infoCmd.Val() {
			res.Commands[strings.ToUpper(name)] = CommandInfo{Name: name, FirstKeyPosition: int(info.FirstKeyPos)}
		}
		next(nil)
	})
}

func probeVersion(ctx context.Context, client *storeclient.Client, cfg Config, res *Result, next func(error)) {
	if !cfg.ProbeVersion {
		next(nil)
		return
	}
	cmd := redis.NewStringCmd(ctx, "INFO", "SERVER")
	client.Request(ctx, nil, cmd, func(cmd redis.Cmder, err error) {
		if err != nil {
			log.Warnf("bootstrap: INFO SERVER probe failed, skipping version check: %v", err)
			next(nil)
			return
		}
		info, _ := cmd.(*redis.StringCmd).Result()
		version := parseRedisVersion(info)
		res.RedisVersion = version
		if version != "" && compareVersions(version, MinRedisVersion) < 0 {
			next(fmt.Errorf("bootstrap: store version %s is below the required minimum %s", version, MinRedisVersion))
			return
		}
		next(nil)
	})
}

func reconcileSchemaVersion(ctx context.Context, client *storeclient.Client, cfg Config, res *Result, next func(error)) {
	getCmd := redis.NewStringCmd(ctx, "GET", "pcp:version:schema")
	client.Request(ctx, []byte("pcp:version:schema"), getCmd, func(cmd redis.Cmder, err error) {
		val, getErr := cmd.(*redis.StringCmd).Result()
		if getErr == redis.Nil {
			setCmd := redis.NewStatusCmd(ctx, "SET", "pcp:version:schema", SeriesVersion)
			client.Request(ctx, []byte("pcp:version:schema"), setCmd, func(cmd redis.Cmder, err error) {
				if err != nil {
					next(fmt.Errorf("bootstrap: initializing schema version: %w", err))
					return
				}
				next(nil)
			})
			return
		}
		if err != nil {
			next(fmt.Errorf("bootstrap: reading schema version: %w", err))
			return
		}
		if val != SeriesVersion {
			if cfg.StrictSchemaVersion {
				next(fmt.Errorf("bootstrap: schema version %s on store does not match this build's %s", val, SeriesVersion))
				return
			}
			log.Warnf("bootstrap: schema version %s on store does not match this build's %s, continuing read-only", val, SeriesVersion)
			res.SchemaReadOnly = true
		}
		next(nil)
	})
}

// parseRedisVersion extracts the redis_version field from an INFO SERVER
// reply.
func parseRedisVersion(info string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, "redis_version:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// compareVersions compares two "x.y.z" version strings, returning -1, 0 or
// 1. Missing components compare as zero.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
