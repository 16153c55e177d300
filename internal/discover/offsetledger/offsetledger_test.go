// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package offsetledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offsets.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestGetMissingArchiveReturnsNotFound(t *testing.T) {
	l := openTestLedger(t)

	_, ok, err := l.Get("20260101.00.00")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	l := openTestLedger(t)

	off := Offset{ArchiveName: "20260101.00.00", MetaOffset: 4096, LogVolumeNumber: 2, LogVolumeOffset: 1024}
	require.NoError(t, l.Put(off, 1700000000))

	got, ok, err := l.Get("20260101.00.00")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, off, got)
}

func TestPutUpsertsExistingRow(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.Put(Offset{ArchiveName: "a", MetaOffset: 10}, 1))
	require.NoError(t, l.Put(Offset{ArchiveName: "a", MetaOffset: 20, LogVolumeNumber: 1}, 2))

	got, ok, err := l.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 20, got.MetaOffset)
	assert.EqualValues(t, 1, got.LogVolumeNumber)
}

func TestDeleteRemovesRow(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.Put(Offset{ArchiveName: "a", MetaOffset: 10}, 1))
	require.NoError(t, l.Delete("a"))

	_, ok, err := l.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}
