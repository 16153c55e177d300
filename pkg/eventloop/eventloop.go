// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventloop is the single-threaded cooperative scheduler described
// in spec §5. Exactly one goroutine calls Run; every other goroutine in the
// process — store-client replies, fsnotify events, NATS deliveries — only
// ever calls Post to hand the loop a task. Nothing outside the loop
// goroutine touches baton, mapcache or clustermap state directly, so those
// packages need no internal locking.
package eventloop

import (
	"context"
	"sync"
)

// Task is one unit of work posted to the loop.
type Task func()

// Loop is a typed task queue drained by a single goroutine.
type Loop struct {
	tasks     chan Task
	quit      chan struct{}
	closeOnce sync.Once
}

// New creates a Loop with room for queueSize pending tasks before Post
// blocks. A bounded queue gives the producers (store client, fsnotify,
// NATS) backpressure instead of letting memory grow unbounded under load.
func New(queueSize int) *Loop {
	return &Loop{
		tasks: make(chan Task, queueSize),
		quit:  make(chan struct{}),
	}
}

// Post enqueues t to run on the loop goroutine. Safe to call from any
// goroutine, including from inside a task running on the loop itself. Post
// is a no-op once the loop has been stopped.
func (l *Loop) Post(t Task) {
	select {
	case l.tasks <- t:
	case <-l.quit:
	}
}

// Depth reports the number of tasks currently queued, for the metrics
// gauge that tracks loop backlog.
func (l *Loop) Depth() int {
	return len(l.tasks)
}

// Run drains tasks on the calling goroutine until ctx is cancelled or Stop
// is called. Run must be called from exactly one goroutine for the
// lifetime of the Loop.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case t := <-l.tasks:
			t()
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		}
	}
}

// Stop unblocks a running Run and causes subsequent Post calls to be
// dropped. Safe to call more than once.
func (l *Loop) Stop() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
}
