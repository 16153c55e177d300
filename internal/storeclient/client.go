// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storeclient is the clustered backing-store dispatcher of spec
// §4.2: a single logical connection over a set of cluster nodes that
// routes each request by key, follows MOVED/ASK redirection transparently,
// and reconnects on transport failure. It is built on go-redis's
// single-node *redis.Client rather than go-redis's own ClusterClient,
// because the routing, redirection and reconnect state machine is exactly
// what internal/clustermap and this package implement — reusing
// ClusterClient would duplicate that state in two places.
//
// Request must only be called from the event loop goroutine (pkg/eventloop).
// Replies are always delivered back onto that same goroutine, so
// ReplyHandler, the slot map and the connection table never need locking.
package storeclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/performancecopilot/pmseries-core/internal/clustermap"
	"github.com/performancecopilot/pmseries-core/pkg/eventloop"
	"github.com/performancecopilot/pmseries-core/pkg/log"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
)

// State is the store client's connectivity state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

// maxRedirectHops bounds how many MOVED/ASK hops a single request follows
// before giving up, so a misbehaving or flapping cluster cannot spin a
// request forever.
const maxRedirectHops = 5

// ReplyHandler receives the outcome of a Request once any redirection has
// been resolved. It always runs on the event loop goroutine.
type ReplyHandler func(cmd redis.Cmder, err error)

// Config configures a Client.
type Config struct {
	// Seeds is one or more host:port cluster (or standalone) endpoints
	// used to bootstrap the slot map.
	Seeds []string

	Username string
	Password string

	DialTimeout time.Duration

	// ReconnectInterval is how often the reconnect worker checks for a
	// disconnected client and re-runs bootstrap. Defaults to 5s.
	ReconnectInterval time.Duration

	// RequestsPerSecond, if positive, throttles outbound requests via a
	// token bucket. Zero disables throttling.
	RequestsPerSecond float64
}

// Client is the clustered store dispatcher.
type Client struct {
	cfg     Config
	loop    *eventloop.Loop
	metrics *metrics.Set
	slots   *clustermap.SlotMap

	conns map[string]*redis.Client
	state State

	limiter   *rate.Limiter
	scheduler gocron.Scheduler
}

// New builds a Client. It does not connect; call Bootstrap.
func New(cfg Config, loop *eventloop.Loop, m *metrics.Set) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		loop:  loop,
		metrics: m,
		slots: clustermap.New(),
		conns: make(map[string]*redis.Client),
		state: StateDisconnected,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1)
	}
	return c
}

// State reports the client's current connectivity state.
func (c *Client) State() State {
	return c.state
}

// SlotMap exposes the underlying topology table, mainly for tests and
// diagnostics.
func (c *Client) SlotMap() *clustermap.SlotMap {
	return c.slots
}

func (c *Client) getConn(addr string) *redis.Client {
	if rdb, ok := c.conns[addr]; ok {
		return rdb
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    c.cfg.Username,
		Password:    c.cfg.Password,
		DialTimeout: c.cfg.DialTimeout,
		// RESP2: the store's wire protocol is pre-encoded by callers
		// (spec §4.2), not negotiated; skip the RESP3 HELLO handshake.
		Protocol: 2,
	})
	c.conns[addr] = rdb
	return rdb
}

// Request dispatches cmd to the node owning routeKey's slot, or to any
// known primary if routeKey is nil (a keyless command). handler is called
// on the loop goroutine exactly once, after any redirection is resolved.
// Request must be called from the loop goroutine.
func (c *Client) Request(ctx context.Context, routeKey []byte, cmd redis.Cmder, handler ReplyHandler) {
	addr, ok := c.pick(routeKey)
	if !ok {
		handler(cmd, fmt.Errorf("storeclient: no known node for route key %q", routeKey))
		return
	}
	c.dispatch(ctx, addr, cmd, handler, false, 0)
}

func (c *Client) pick(routeKey []byte) (string, bool) {
	if routeKey == nil {
		primaries := c.slots.Primaries()
		if len(primaries) == 0 {
			return "", false
		}
		return primaries[0], true
	}
	addr, _, ok := c.slots.Lookup(routeKey)
	return addr, ok
}

func (c *Client) dispatch(ctx context.Context, addr string, cmd redis.Cmder, handler ReplyHandler, asking bool, hop int) {
	if hop > maxRedirectHops {
		handler(cmd, fmt.Errorf("storeclient: exceeded %d redirect hops for %v", maxRedirectHops, cmd.Args()))
		return
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			handler(cmd, err)
			return
		}
	}

	rdb := c.getConn(addr)
	go func() {
		var err error
		if asking {
			// ASKING must be seen by the same connection as the
			// redirected command, so pin one connection out of the pool
			// for both calls.
			conn := rdb.Conn()
			if aerr := conn.Process(ctx, redis.NewStatusCmd(ctx, "ASKING")); aerr != nil {
				err = aerr
			} else {
				err = conn.Process(ctx, cmd)
			}
		} else {
			err = rdb.Process(ctx, cmd)
		}

		c.loop.Post(func() {
			c.handleReply(ctx, addr, cmd, err, handler, hop)
		})
	}()
}

func (c *Client) handleReply(ctx context.Context, addr string, cmd redis.Cmder, err error, handler ReplyHandler, hop int) {
	if err == nil {
		handler(cmd, nil)
		return
	}

	if redirect, ok := clustermap.ParseRedirect(err.Error()); ok {
		switch redirect.Kind {
		case clustermap.RedirectMoved:
			c.slots.ApplyMoved(redirect.Slot, redirect.Addr)
			if c.metrics != nil {
				c.metrics.Redirections.WithLabelValues("moved").Inc()
			}
			c.dispatch(ctx, redirect.Addr, cmd, handler, false, hop+1)
		case clustermap.RedirectAsk:
			if c.metrics != nil {
				c.metrics.Redirections.WithLabelValues("ask").Inc()
			}
			c.dispatch(ctx, redirect.Addr, cmd, handler, true, hop+1)
		}
		return
	}

	if isTransportFault(err) {
		c.markDisconnected(addr)
		if c.metrics != nil {
			c.metrics.StoreErrors.WithLabelValues("transport").Inc()
		}
		handler(cmd, fmt.Errorf("storeclient: transport fault talking to %s: %w", addr, err))
		return
	}

	if c.metrics != nil {
		c.metrics.StoreErrors.WithLabelValues("protocol").Inc()
	}
	handler(cmd, err)
}

func (c *Client) markDisconnected(addr string) {
	c.state = StateDisconnected
	if rdb, ok := c.conns[addr]; ok {
		rdb.Close()
		delete(c.conns, addr)
	}
	c.slots.Clear()
	log.Warnf("storeclient: %s marked disconnected, slot map cleared", addr)
}

// isTransportFault distinguishes a dropped connection from a normal
// server-returned command error. go-redis surfaces the latter as plain
// RESP error text (e.g. "WRONGTYPE ..."); the former shows up as a network
// or pool-level error. There is no exported type to discriminate on, so
// this is a heuristic over common Go and go-redis error shapes.
func isTransportFault(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"use of closed network connection",
		"i/o timeout",
		"client is closed",
		"broken pipe",
		"connection reset",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Close shuts down the reconnect worker (if started) and every open
// connection.
func (c *Client) Close() {
	if c.scheduler != nil {
		c.scheduler.Shutdown()
	}
	for addr, rdb := range c.conns {
		rdb.Close()
		delete(c.conns, addr)
	}
}
