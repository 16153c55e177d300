// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bootstrap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/linkedin/goavro/v2"
)

// snapshotSchema describes one published metric descriptor or instance
// version, for the diagnostic schema export of spec §4.11. It is
// intentionally flat: a schema audit reads a single Avro container file,
// not a graph.
const snapshotSchema = `{
  "type": "record",
  "name": "SeriesSchemaEntry",
  "fields": [
    {"name": "kind", "type": "string"},
    {"name": "metricName", "type": "string"},
    {"name": "indom", "type": "long"},
    {"name": "pmid", "type": "long"},
    {"name": "semantics", "type": "int"},
    {"name": "valueType", "type": "int"},
    {"name": "units", "type": "string"}
  ]
}`

// SchemaEntry is one row of the diagnostic snapshot.
type SchemaEntry struct {
	Kind       string // "descriptor" or "indom"
	MetricName string
	Indom      int64
	PMID       int64
	Semantics  int32
	ValueType  int32
	Units      string
}

// WriteSnapshot serializes entries to path as an Avro object container
// file, for offline schema audits (spec §4.11). It is never on the ingest
// hot path.
func WriteSnapshot(path string, entries []SchemaEntry) error {
	codec, err := goavro.NewCodec(snapshotSchema)
	if err != nil {
		return fmt.Errorf("bootstrap: building snapshot codec: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("bootstrap: opening snapshot file: %w", err)
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               f,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return fmt.Errorf("bootstrap: creating snapshot writer: %w", err)
	}

	records := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		records = append(records, map[string]interface{}{
			"kind":       e.Kind,
			"metricName": e.MetricName,
			"indom":      e.Indom,
			"pmid":       e.PMID,
			"semantics":  e.Semantics,
			"valueType":  e.ValueType,
			"units":      e.Units,
		})
	}
	if err := writer.Append(records); err != nil {
		return fmt.Errorf("bootstrap: writing snapshot records: %w", err)
	}
	return nil
}

// Recorder accumulates the SchemaEntry rows WriteSnapshot needs as the
// ingest loader publishes descriptors and instance domains. It carries no
// locking: like every other piece of loop-owned state in this core, a
// Recorder must only be touched from the event loop goroutine.
type Recorder struct {
	entries []SchemaEntry
	seen    map[string]struct{}
}

// NewRecorder builds an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]struct{})}
}

// Observe records e if it has not already been observed. A nil receiver is
// a no-op, so callers can pass around a possibly-unset *Recorder without
// guarding every call site.
func (r *Recorder) Observe(e SchemaEntry) {
	if r == nil {
		return
	}
	key := e.Kind + "\x00" + e.MetricName + "\x00" + strconv.FormatInt(e.Indom, 10)
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.entries = append(r.entries, e)
}

// Entries returns a snapshot of everything observed so far.
func (r *Recorder) Entries() []SchemaEntry {
	if r == nil {
		return nil
	}
	out := make([]SchemaEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
