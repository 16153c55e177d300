// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSnapshotProducesNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.avro")

	entries := []SchemaEntry{
		{Kind: "descriptor", MetricName: "kernel.all.load", Indom: -1, PMID: 1, Semantics: 1, ValueType: 4, Units: "none"},
	}
	require.NoError(t, WriteSnapshot(path, entries))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRecorderDedupesObservations(t *testing.T) {
	rec := NewRecorder()
	entry := SchemaEntry{Kind: "descriptor", MetricName: "deadbeef", Indom: -1, PMID: 1, Semantics: 1, ValueType: 4, Units: "none"}

	rec.Observe(entry)
	rec.Observe(entry)
	rec.Observe(SchemaEntry{Kind: "indom", MetricName: "", Indom: 7})

	assert.Len(t, rec.Entries(), 2)
}

func TestNilRecorderObserveIsNoOp(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() { rec.Observe(SchemaEntry{Kind: "descriptor"}) })
	assert.Nil(t, rec.Entries())
}
