// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mapcache implements the publish-once interned-string discipline
// of spec §4.4: before any loader phase writes a reference to a name, it
// calls EnsureMapped, which makes sure the hash->string mapping exists in
// the backing store and, the first time it is ever created cluster-wide,
// announces it on the class's pub/sub channel.
//
// Cache state (the per-class local maps) is touched only from the event
// loop goroutine, like internal/clustermap and internal/storeclient, so it
// carries no internal lock and needs no dedup primitive of its own: a
// second EnsureMapped call for a (class, hash) pair whose HSET is already
// in flight finds the value inserted by the first call and returns
// immediately, exactly as spec §4.4 describes.
package mapcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/hashid"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
)

// Callback receives the outcome of EnsureMapped. err is non-nil only if
// the store round-trip itself failed; a mapping that already existed is
// reported as a nil error, same as a newly published one.
type Callback func(err error)

// Cache is the mapping cache for one store client. Create one per client;
// every method must be called from the event loop goroutine, same as
// storeclient.Client.Request.
type Cache struct {
	store   *storeclient.Client
	metrics *metrics.Set
	local   map[string]map[hashid.Hash]string
}

// New builds a Cache backed by store. m may be nil to disable metrics.
func New(store *storeclient.Client, m *metrics.Set) *Cache {
	return &Cache{
		store: store,
		metrics: m,
		local: make(map[string]map[hashid.Hash]string),
	}
}

// EnsureMapped makes sure (class, hash) -> value is recorded in the
// backing store, publishing the mapping on pcp:channel:<class> the first
// time it is created anywhere in the cluster, then invokes cb exactly
// once. class is an interned-string kind such as "metricname.name",
// "instancename.name", "context.name", or "label.<name-hash>.value".
func (c *Cache) EnsureMapped(ctx context.Context, class string, hash hashid.Hash, value string, cb Callback) {
	classMap := c.local[class]
	if classMap == nil {
		classMap = make(map[hashid.Hash]string)
		c.local[class] = classMap
	}
	if _, ok := classMap[hash]; ok {
		c.count("local_hit")
		cb(nil)
		return
	}
	// Insert before the round-trip resolves, so a second EnsureMapped call
	// for the same pair that lands on this goroutine while the HSET is
	// still in flight takes the local_hit branch above instead of issuing
	// a duplicate write.
	classMap[hash] = value

	key := fmt.Sprintf("pcp:map:%s", class)
	field := hash.String()
	cmd := redis.NewIntCmd(ctx, "HSET", key, field, value)

	c.store.Request(ctx, []byte(key), cmd, func(cmd redis.Cmder, err error) {
		if err != nil {
			cb(err)
			return
		}
		n, _ := cmd.(*redis.IntCmd).Result()
		if n != 1 {
			c.count("already_present")
			cb(nil)
			return
		}
		c.publish(ctx, class, hash, value, cb)
	})
}

func (c *Cache) publish(ctx context.Context, class string, hash hashid.Hash, value string, cb Callback) {
	channel := fmt.Sprintf("pcp:channel:%s", class)
	msg := hash.String() + ":" + value
	cmd := redis.NewIntCmd(ctx, "PUBLISH", channel, msg)
	c.store.Request(ctx, []byte(channel), cmd, func(cmd redis.Cmder, err error) {
		if err == nil {
			c.count("published")
		}
		cb(err)
	})
}

func (c *Cache) count(outcome string) {
	if c.metrics != nil {
		c.metrics.MapCacheOps.WithLabelValues(outcome).Inc()
	}
}
