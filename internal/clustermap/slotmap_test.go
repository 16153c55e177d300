// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clustermap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSlotIsDeterministicAndInRange(t *testing.T) {
	a := HashSlot([]byte("pcp:map:metricname.name"))
	b := HashSlot([]byte("pcp:map:metricname.name"))
	assert.Equal(t, a, b)
	assert.Less(t, a, uint16(TotalSlots))
}

func TestHashSlotHonoursHashTag(t *testing.T) {
	a := HashSlot([]byte("pcp:{host1}:context"))
	b := HashSlot([]byte("other:{host1}:whatever"))
	assert.Equal(t, a, b, "keys sharing a hash tag must land on the same slot")
}

func TestHashSlotEmptyTagFallsBackToWholeKey(t *testing.T) {
	withEmptyTag := HashSlot([]byte("foo{}bar"))
	whole := crc16([]byte("foo{}bar")) % TotalSlots
	assert.Equal(t, whole, withEmptyTag)
}

func TestLookupFailsOnEmptyMap(t *testing.T) {
	m := New()
	_, _, ok := m.Lookup([]byte("anything"))
	assert.False(t, ok)
}

func TestInstallSingleCoversEveryKey(t *testing.T) {
	m := New()
	m.InstallSingle("127.0.0.1:6379")

	addr, _, ok := m.Lookup([]byte("pcp:map:metricname.name"))
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:6379", addr)
}

func TestInstallAndLookup(t *testing.T) {
	m := New()
	m.Install([]Range{
		{Start: 0, End: 8191, Primary: "127.0.0.1:7000"},
		{Start: 8192, End: 16383, Primary: "127.0.0.1:7001"},
	})

	for slot := uint16(0); slot < TotalSlots; slot += 4096 {
		key := []byte{byte(slot), byte(slot >> 8)}
		_, s, ok := m.Lookup(key)
		require.True(t, ok)
		if s <= 8191 {
			addr, _, _ := m.Lookup(key)
			assert.Equal(t, "127.0.0.1:7000", addr)
		} else {
			addr, _, _ := m.Lookup(key)
			assert.Equal(t, "127.0.0.1:7001", addr)
		}
	}
}

func TestApplyMovedSplitsRangeForSingleSlot(t *testing.T) {
	m := New()
	m.Install([]Range{{Start: 0, End: TotalSlots - 1, Primary: "a:1"}})

	target := HashSlot([]byte("pcp:map:metricname.name"))
	m.ApplyMoved(target, "b:2")

	addr, slot, ok := m.Lookup([]byte("pcp:map:metricname.name"))
	require.True(t, ok)
	assert.Equal(t, target, slot)
	assert.Equal(t, "b:2", addr)

	if target > 0 {
		otherAddr, _, ok := m.Lookup([]byte{0, 0, 0})
		require.True(t, ok)
		if HashSlot([]byte{0, 0, 0}) != target {
			assert.Equal(t, "a:1", otherAddr)
		}
	}
}

func TestApplyMovedSameAddrIsNoop(t *testing.T) {
	m := New()
	m.InstallSingle("a:1")
	before := len(m.ranges)
	m.ApplyMoved(42, "a:1")
	assert.Len(t, m.ranges, before)
}

func TestClearForcesLookupFailure(t *testing.T) {
	m := New()
	m.InstallSingle("a:1")
	m.Clear()
	_, _, ok := m.Lookup([]byte("x"))
	assert.False(t, ok)
}

func TestPrimariesDeduplicates(t *testing.T) {
	m := New()
	m.Install([]Range{
		{Start: 0, End: 100, Primary: "a:1"},
		{Start: 101, End: 200, Primary: "b:2"},
		{Start: 201, End: TotalSlots - 1, Primary: "a:1"},
	})
	assert.ElementsMatch(t, []string{"a:1", "b:2"}, m.Primaries())
}

func TestParseRedirectMoved(t *testing.T) {
	r, ok := ParseRedirect("MOVED 3456 127.0.0.1:6380")
	require.True(t, ok)
	assert.Equal(t, RedirectMoved, r.Kind)
	assert.EqualValues(t, 3456, r.Slot)
	assert.Equal(t, "127.0.0.1:6380", r.Addr)
	assert.Equal(t, "MOVED 3456 127.0.0.1:6380", r.String())
}

func TestParseRedirectAsk(t *testing.T) {
	r, ok := ParseRedirect("ASK 12 10.0.0.1:7000")
	require.True(t, ok)
	assert.Equal(t, RedirectAsk, r.Kind)
}

func TestParseRedirectRejectsOther(t *testing.T) {
	_, ok := ParseRedirect("ERR wrong number of arguments")
	assert.False(t, ok)

	_, ok = ParseRedirect("MOVED notanumber host:1")
	assert.False(t, ok)
}
