// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package baton implements the refcounted phase coordinator described in
// spec §4.5: a sequence of phases runs strictly in order, and within a
// phase any number of fan-out replies may be outstanding before the next
// phase is allowed to start. It is the only concurrency primitive the
// ingestion core uses; every compound operation (ingest loader, schema
// bootstrap) is expressed as a chain of phases over a Baton.
//
// A Baton is owned by a single goroutine — the event loop (pkg/eventloop)
// — for its entire lifetime. Reference and Dereference are not safe to call
// concurrently; replies that complete on other goroutines (store client,
// NATS) must hop back onto the loop before touching a Baton.
package baton

import "fmt"

// magic identifies a live Baton for the defensive checks in Reference and
// Dereference; it catches use of a Baton after Done has already fired.
const magic = 0xba70

// Phase is one step of a phased operation. It receives the Baton so it can
// call Reference for each fan-out request it issues and Fail to abort the
// chain. A phase must eventually call Dereference exactly once for its own
// synchronous work — runPhase does this automatically after invoking the phase
// function, so phases only need to Reference/Dereference around the
// asynchronous work they spawn.
type Phase func(b *Baton)

// Baton coordinates a sequence of phases. See the package doc for the
// ownership rule.
type Baton struct {
	magic    int
	phases   []Phase
	cur      int
	refcount int
	err      error
	done     func(error)
}

// Start builds a Baton over phases and runs the first one. done is invoked
// exactly once, after the last phase's fan-out has fully drained (or as
// soon as a phase calls Fail, once its own in-flight I/O has drained).
func Start(done func(error), phases ...Phase) *Baton {
	b := &Baton{
		magic:  magic,
		phases: phases,
		done:   done,
	}
	b.runPhase()
	return b
}

func (b *Baton) checkLive() {
	if b.magic != magic {
		panic("baton: use of Baton after completion")
	}
}

// Reference increments the outstanding fan-out count by n. Call this once
// per asynchronous request a phase issues, before issuing it.
func (b *Baton) Reference(n int) {
	b.checkLive()
	if n <= 0 {
		panic(fmt.Sprintf("baton: Reference called with n=%d", n))
	}
	b.refcount += n
}

// Dereference drops the outstanding fan-out count by one. When it reaches
// zero, every callback spawned by the current phase has run and the next
// phase (or Done) fires.
func (b *Baton) Dereference() {
	b.checkLive()
	b.refcount--
	switch {
	case b.refcount == 0:
		b.runPhase()
	case b.refcount < 0:
		panic("baton: Dereference without a matching Reference")
	}
}

// Fail records err as the chain's outcome. The first error wins. It does
// not stop already-issued fan-out from draining — callers must still
// Dereference for every Reference they made — but once the current phase's
// refcount reaches zero, remaining phases are skipped and Done fires with
// err.
func (b *Baton) Fail(err error) {
	b.checkLive()
	if err == nil {
		return
	}
	if b.err == nil {
		b.err = err
	}
}

// Err returns the error recorded so far, or nil.
func (b *Baton) Err() error {
	return b.err
}

func (b *Baton) runPhase() {
	if b.err != nil || b.cur >= len(b.phases) {
		b.finish()
		return
	}

	phase := b.phases[b.cur]
	b.cur++
	b.refcount = 1 // represents this phase's own synchronous body
	phase(b)
	b.Dereference()
}

func (b *Baton) finish() {
	done, err := b.done, b.err
	b.magic = 0
	b.phases = nil
	b.done = nil
	if done != nil {
		done(err)
	}
}
