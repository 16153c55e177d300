// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storeclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"

	"github.com/performancecopilot/pmseries-core/internal/clustermap"
	"github.com/performancecopilot/pmseries-core/pkg/log"
)

// Bootstrap issues CLUSTER SLOTS against the first configured seed and
// installs the resulting topology, or a single range covering every slot
// if the store reports it is not running in cluster mode. done is called
// on the loop goroutine with the outcome.
func (c *Client) Bootstrap(ctx context.Context, done func(error)) {
	if len(c.cfg.Seeds) == 0 {
		done(fmt.Errorf("storeclient: no seed addresses configured"))
		return
	}
	seed := c.cfg.Seeds[0]
	rdb := c.getConn(seed)

	go func() {
		slots, err := rdb.ClusterSlots(ctx).Result()
		c.loop.Post(func() {
			if err != nil {
				if isNotClusterErr(err) {
					c.slots.InstallSingle(seed)
					c.state = StateConnected
					done(nil)
					return
				}
				done(fmt.Errorf("storeclient: CLUSTER SLOTS against %s: %w", seed, err))
				return
			}
			c.slots.Install(fromClusterSlots(slots))
			c.state = StateConnected
			done(nil)
		})
	}()
}

func isNotClusterErr(err error) bool {
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "CLUSTER SUPPORT DISABLED") ||
		strings.Contains(msg, "UNKNOWN COMMAND 'CLUSTER")
}

func fromClusterSlots(slots []redis.ClusterSlot) []clustermap.Range {
	ranges := make([]clustermap.Range, 0, len(slots))
	for _, s := range slots {
		if len(s.Nodes) == 0 {
			continue
		}
		r := clustermap.Range{Start: s.Start, End: s.End, Primary: s.Nodes[0].Addr}
		for _, n := range s.Nodes[1:] {
			r.Replicas = append(r.Replicas, n.Addr)
		}
		ranges = append(ranges, r)
	}
	return ranges
}

// StartReconnectWorker runs a periodic job (spec §4.3: "a periodic worker
// ... checks state == DISCONNECTED and, if so, re-runs the bootstrap phase
// chain") on a gocron scheduler. The job body only ever posts onto the
// event loop, never touches client state from the gocron goroutine.
func (c *Client) StartReconnectWorker() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("storeclient: creating reconnect scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(c.cfg.ReconnectInterval),
		gocron.NewTask(func() {
			c.loop.Post(func() {
				if c.state != StateDisconnected {
					return
				}
				c.Bootstrap(context.Background(), func(err error) {
					if err != nil {
						log.Warnf("storeclient: reconnect attempt failed: %v", err)
						return
					}
					log.Info("storeclient: reconnected, slot map refreshed")
					if c.metrics != nil {
						c.metrics.Reconnects.Inc()
					}
				})
			})
		}),
	)
	if err != nil {
		return fmt.Errorf("storeclient: scheduling reconnect job: %w", err)
	}

	c.scheduler = s
	s.Start()
	return nil
}
