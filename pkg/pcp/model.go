// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pcp holds the data model shared by every layer of the ingestion
// core: metric descriptors, instance domains, label sets, value samples and
// help text, all keyed by the content hashes minted in pkg/hashid.
package pcp

import "github.com/performancecopilot/pmseries-core/pkg/hashid"

// Name is the content hash of an interned name (metric, instance, label
// name or label value). Distinct from SeriesID and ContextID so the
// compiler rejects accidentally crossing hash classes.
type Name hashid.Hash

// SeriesID identifies the tuple (metric, instance, context).
type SeriesID hashid.Hash

// ContextID identifies the source (host + archive identity) a record
// originated from.
type ContextID hashid.Hash

// SemanticType is the metric's semantics, per spec §3.
type SemanticType int

const (
	SemanticCounter SemanticType = iota
	SemanticInstant
	SemanticDiscrete
)

// ValueType is the wire representation of a metric's values.
type ValueType int

const (
	ValueI32 ValueType = iota
	ValueU32
	ValueI64
	ValueU64
	ValueF32
	ValueF64
	ValueString
	ValueAggregate
	ValueEvent
)

// PMID is the opaque 32-bit domain/cluster/item metric identifier carried
// in descriptors.
type PMID uint32

// IndomID identifies an instance domain. A metric descriptor with no
// instance domain carries IndomNone.
type IndomID uint32

// IndomNone is the sentinel IndomID meaning "this metric has no instances".
const IndomNone IndomID = 0xffffffff

// Descriptor is a metric's immutable metadata, published once per
// metric-name hash within a schema version.
type Descriptor struct {
	MetricName Name
	PMID       PMID
	Indom      IndomID // IndomNone if the metric carries no instances
	Semantics  SemanticType
	ValueType  ValueType
	Units      string
}

// Instance is one member of an instance domain: the archive-defined
// internal integer paired with the globally stable hash of its external
// name.
type Instance struct {
	Internal     int32
	ExternalName Name
	ExternalStr  string // kept alongside the hash so callers need not re-resolve it
}

// InstanceDomain is a named, versioned, append-only set of instances. Each
// time instances are added or removed a new version is appended to the
// chain; Prev is nil for the first version.
type InstanceDomain struct {
	Indom     IndomID
	Instances []Instance
	Timestamp int64
	Prev      *InstanceDomain
}

// LabelTarget is the kind of object a label set is attached to.
type LabelTarget int

const (
	LabelTargetContext LabelTarget = iota
	LabelTargetDomain
	LabelTargetCluster
	LabelTargetItem
	LabelTargetIndom
	LabelTargetInstance
)

// Label is a single (name, value) pair; both sides are independently
// interned. Flags is an int bitmask; context labels never carry per-series
// flags (spec §3).
type Label struct {
	Name  Name
	Value Name
	Flags int
}

// LabelSet is the JSON-shaped collection of labels attached to one target.
type LabelSet struct {
	Target LabelTarget
	Labels []Label
}

// ValueSample is one time-stamped, typed measurement for a series. A mark
// record is represented by a Record with IsMark set (see Record below), not
// as a special case of this type.
type ValueSample struct {
	Series    SeriesID
	Timestamp float64 // seconds, fractional
	Value     any     // one of int32/uint32/int64/uint64/float32/float64/string
	ErrorCode int32   // 0 if no error
	HasError  bool
}

// HelpTextClass distinguishes one-line summaries from full help text.
type HelpTextClass int

const (
	HelpTextOneline HelpTextClass = iota
	HelpTextFull
)

// HelpTextType names what the help text describes.
type HelpTextType int

const (
	HelpTextPMID HelpTextType = iota
	HelpTextIndom
)

// HelpText is descriptive text attached to a PMID or indom.
type HelpText struct {
	ID    Name
	Class HelpTextClass
	Type  HelpTextType
	Text  string
}

// NewName is one not-yet-interned (class, hash, string) triple discovered
// while decoding a record. Class names follow the pcp:map:<class> key
// family, e.g. "metricname.name", "instancename.name", "context.name",
// "label.name", "label.value".
type NewName struct {
	Class string
	Hash  Name
	Value string
}

// Record is everything the discovery driver (or the push-ingestion path)
// extracts from one decoded archive/line-protocol batch: the names to
// intern, the metadata to publish, and the values to stream. A Record with
// IsMark set is a mark record; an empty Record without IsMark is not.
type Record struct {
	Context    ContextID
	ContextStr string

	Descriptors []Descriptor
	Indoms      []InstanceDomain
	Labels      []LabelSet
	HelpTexts   []HelpText

	// NewNames lists every not-yet-seen (class, hash, string) triple in
	// this record, across every interned-string class. The loader's name
	// interning phase walks this before anything else (spec §4.6 phase
	// 1), calling mapcache.EnsureMapped once per entry.
	NewNames []NewName

	Values []ValueSample

	// IsMark marks this record as a discontinuity sentinel. Mark records
	// carry no metadata and no values and are a no-op at the store level
	// (spec §9 open question: treated as a no-op until upstream settles).
	IsMark bool
}
