// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clustermap tracks which backing-store node owns which slot
// range and turns a route key into a target address, per spec §4.3. A
// SlotMap is mutated only from the event loop goroutine during phase
// transitions — it carries no internal lock, matching the rest of the
// loop-owned state.
package clustermap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is one contiguous band of slots and the node that currently owns
// it.
type Range struct {
	Start, End int
	Primary    string
	Replicas   []string
}

func (r Range) covers(slot uint16) bool {
	return int(slot) >= r.Start && int(slot) <= r.End
}

// SlotMap is a topology table over the 16384 store slots.
type SlotMap struct {
	ranges []Range
}

// New returns an empty SlotMap. Lookup fails on every key until Install or
// InstallSingle populates it.
func New() *SlotMap {
	return &SlotMap{}
}

// InstallSingle installs one range covering every slot, for the "not a
// cluster" bootstrap case (spec §4.3: a single standalone endpoint).
func (m *SlotMap) InstallSingle(addr string) {
	m.ranges = []Range{{Start: 0, End: TotalSlots - 1, Primary: addr}}
}

// Install replaces the whole topology table, as after a CLUSTER SLOTS
// refresh.
func (m *SlotMap) Install(ranges []Range) {
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })
	m.ranges = cp
}

// Clear empties the topology table, forcing every subsequent Lookup to
// fail until the map is repopulated — used when a reconnect invalidates
// whatever topology was known before.
func (m *SlotMap) Clear() {
	m.ranges = nil
}

// Primaries returns the set of distinct primary addresses currently
// installed, in no particular order. Used by the store client to pick a
// target for keyless commands.
func (m *SlotMap) Primaries() []string {
	seen := make(map[string]struct{}, len(m.ranges))
	out := make([]string, 0, len(m.ranges))
	for _, r := range m.ranges {
		if _, ok := seen[r.Primary]; ok {
			continue
		}
		seen[r.Primary] = struct{}{}
		out = append(out, r.Primary)
	}
	return out
}

// Lookup returns the primary address owning key's slot.
func (m *SlotMap) Lookup(key []byte) (addr string, slot uint16, ok bool) {
	slot = HashSlot(key)
	for _, r := range m.ranges {
		if r.covers(slot) {
			return r.Primary, slot, true
		}
	}
	return "", slot, false
}

// ApplyMoved permanently reassigns the range containing slot to addr, per
// a MOVED reply (spec §4.3: "update the map (MOVED only; ASK is
// one-shot)"). If slot falls in a gap — the map was never populated for
// it — a new single-slot range is inserted rather than discarded.
func (m *SlotMap) ApplyMoved(slot uint16, addr string) {
	for i := range m.ranges {
		if m.ranges[i].covers(slot) {
			if m.ranges[i].Primary == addr {
				return
			}
			m.splitOut(i, slot, addr)
			return
		}
	}
	m.ranges = append(m.ranges, Range{Start: int(slot), End: int(slot), Primary: addr})
	m.Install(m.ranges)
}

// splitOut carves slot out of m.ranges[i] into its own single-slot range
// owned by addr, leaving the remainder (if any) pointing at the old owner.
func (m *SlotMap) splitOut(i int, slot uint16, addr string) {
	old := m.ranges[i]
	var replacement []Range
	if old.Start < int(slot) {
		replacement = append(replacement, Range{Start: old.Start, End: int(slot) - 1, Primary: old.Primary, Replicas: old.Replicas})
	}
	replacement = append(replacement, Range{Start: int(slot), End: int(slot), Primary: addr})
	if int(slot) < old.End {
		replacement = append(replacement, Range{Start: int(slot) + 1, End: old.End, Primary: old.Primary, Replicas: old.Replicas})
	}

	next := make([]Range, 0, len(m.ranges)+len(replacement)-1)
	next = append(next, m.ranges[:i]...)
	next = append(next, replacement...)
	next = append(next, m.ranges[i+1:]...)
	m.Install(next)
}

// RedirectKind distinguishes the two store cluster-redirection replies.
type RedirectKind int

const (
	// RedirectMoved means the slot permanently belongs to a different
	// node; the map should be updated before re-issuing.
	RedirectMoved RedirectKind = iota
	// RedirectAsk means only the single pending request should be
	// re-issued to the new node; the map is left unchanged.
	RedirectAsk
)

// Redirect is a parsed MOVED/ASK error reply.
type Redirect struct {
	Kind RedirectKind
	Slot uint16
	Addr string
}

// ParseRedirect parses a store error line of the form "MOVED 3456
// 127.0.0.1:6380" or "ASK 3456 127.0.0.1:6380". It returns false if msg is
// not a redirection reply at all.
func ParseRedirect(msg string) (Redirect, bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return Redirect{}, false
	}

	var kind RedirectKind
	switch fields[0] {
	case "MOVED":
		kind = RedirectMoved
	case "ASK":
		kind = RedirectAsk
	default:
		return Redirect{}, false
	}

	slot, err := strconv.Atoi(fields[1])
	if err != nil || slot < 0 || slot >= TotalSlots {
		return Redirect{}, false
	}

	return Redirect{Kind: kind, Slot: uint16(slot), Addr: fields[2]}, true
}

// String renders a Redirect back in store wire form, for logging.
func (r Redirect) String() string {
	kind := "MOVED"
	if r.Kind == RedirectAsk {
		kind = "ASK"
	}
	return fmt.Sprintf("%s %d %s", kind, r.Slot, r.Addr)
}
