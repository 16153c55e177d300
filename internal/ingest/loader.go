// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ingest is the loader of spec §4.6: it turns one discovery-driver
// (or push-ingestion) Record into the phase chain of store writes that
// publishes its metadata and streams its values. Every Ingest call builds
// its own baton.Baton; the ordering rule — metadata and labels must
// quiesce before any value is streamed — falls directly out of the
// baton's phase sequencing, the only concurrency primitive this core
// exposes.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/performancecopilot/pmseries-core/internal/bootstrap"
	"github.com/performancecopilot/pmseries-core/internal/mapcache"
	"github.com/performancecopilot/pmseries-core/internal/storeclient"
	"github.com/performancecopilot/pmseries-core/pkg/baton"
	"github.com/performancecopilot/pmseries-core/pkg/hashid"
	"github.com/performancecopilot/pmseries-core/pkg/log"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
	"github.com/performancecopilot/pmseries-core/pkg/pcp"
)

// Config tunes the loader's store-write shape.
type Config struct {
	// StreamMaxLen bounds each per-series value stream (MAXLEN ~).
	StreamMaxLen int64
	// StreamExpire is the TTL, in seconds, bumped on every value stream
	// write.
	StreamExpire int64
}

// DefaultConfig matches the defaults in spec §6's configuration surface.
func DefaultConfig() Config {
	return Config{StreamMaxLen: 8640, StreamExpire: 86400}
}

// Loader publishes Records to the backing store. It must be driven from
// the event loop goroutine, like the storeclient and mapcache it wraps.
type Loader struct {
	store   *storeclient.Client
	cache   *mapcache.Cache
	metrics *metrics.Set
	cfg     Config

	// knownDescriptors and knownInstances are the loader's own
	// publish-once discipline for metadata and instance-linking writes,
	// the same "insert locally before issuing the write" shape mapcache
	// uses for interned strings (spec §4.4), applied to the metadata keys
	// of spec §4.6 phases 2-3.
	knownDescriptors map[pcp.Name]struct{}
	knownInstances   map[pcp.SeriesID]struct{}

	// recorder is the optional schema-snapshot side door of spec §4.11. It
	// is nil unless SetRecorder has been called, in which case Recorder's
	// own nil-receiver handling keeps every call site below unconditional.
	recorder *bootstrap.Recorder
}

// SetRecorder attaches rec so every descriptor and instance domain this
// Loader publishes from now on is also recorded for a later diagnostic
// schema dump (spec §4.11). Passing nil detaches any previously set
// recorder. This is never on the ingest hot path's success/failure
// outcome: recording cannot fail a baton.
func (l *Loader) SetRecorder(rec *bootstrap.Recorder) {
	l.recorder = rec
}

// New builds a Loader. m may be nil to disable metrics.
func New(store *storeclient.Client, cache *mapcache.Cache, m *metrics.Set, cfg Config) *Loader {
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 8640
	}
	if cfg.StreamExpire <= 0 {
		cfg.StreamExpire = 86400
	}
	return &Loader{
		store:            store,
		cache:            cache,
		metrics:          m,
		cfg:              cfg,
		knownDescriptors: make(map[pcp.Name]struct{}),
		knownInstances:   make(map[pcp.SeriesID]struct{}),
	}
}

// Ingest runs the full phase chain for rec and invokes done exactly once
// with the chain's outcome. A mark record (IsMark) is a no-op: done is
// invoked with nil immediately (spec §9 open question).
func (l *Loader) Ingest(ctx context.Context, rec *pcp.Record, done func(error)) {
	if rec.IsMark {
		done(nil)
		return
	}

	st := newIngestState(rec)
	baton.Start(done,
		l.internNamesPhase(ctx, st),
		l.publishMetadataPhase(ctx, st),
		l.publishInstancesPhase(ctx, st),
		l.publishLabelsPhase(ctx, st),
		l.streamValuesPhase(ctx, st),
	)
}

// ingestState accumulates cross-phase bookkeeping for a single Ingest
// call. It is never shared across records, so it needs no locking even
// though several Ingest calls may have batons in flight at once.
type ingestState struct {
	rec *pcp.Record

	// seriesByMetric and allSeries cache the series hashes derived in
	// phase 2, per metric and flattened, so phase 3 (instances, which reads
	// seriesByMetric) and phase 4 (labels, which reads allSeries) do not
	// recompute hashid.SeriesName.
	seriesByMetric map[pcp.Name][]hashid.Hash
	allSeries      []hashid.Hash
}

func newIngestState(rec *pcp.Record) *ingestState {
	return &ingestState{rec: rec, seriesByMetric: make(map[pcp.Name][]hashid.Hash)}
}

// ---- phase 1: name interning (spec §4.6.1) ----

func (l *Loader) internNamesPhase(ctx context.Context, st *ingestState) baton.Phase {
	return func(b *baton.Baton) {
		for _, nn := range st.rec.NewNames {
			b.Reference(1)
			hash := hashid.Hash(nn.Hash)
			l.cache.EnsureMapped(ctx, nn.Class, hash, nn.Value, func(err error) {
				if err != nil {
					b.Fail(fmt.Errorf("ingest: interning %s %s: %w", nn.Class, hash, err))
				}
				b.Dereference()
			})
		}
		if l.metrics != nil {
			l.metrics.BatonPhases.WithLabelValues("intern_names").Inc()
		}
	}
}

// ---- phase 2: metadata publication (spec §4.6.2) ----

func (l *Loader) publishMetadataPhase(ctx context.Context, st *ingestState) baton.Phase {
	return func(b *baton.Baton) {
		for _, d := range st.rec.Descriptors {
			series := l.seriesFor(st, d)
			if len(series) == 0 {
				continue
			}
			st.seriesByMetric[d.MetricName] = series
			st.allSeries = append(st.allSeries, series...)

			if _, ok := l.knownDescriptors[d.MetricName]; ok {
				continue
			}
			l.knownDescriptors[d.MetricName] = struct{}{}
			l.recorder.Observe(bootstrap.SchemaEntry{
				Kind:       "descriptor",
				MetricName: hashid.Hash(d.MetricName).String(),
				Indom:      int64(d.Indom),
				PMID:       int64(d.PMID),
				Semantics:  int32(d.Semantics),
				ValueType:  int32(d.ValueType),
				Units:      d.Units,
			})

			for _, sh := range series {
				l.publishDescriptor(ctx, b, st.rec.Context, d, sh)
			}
		}
		if l.metrics != nil {
			l.metrics.BatonPhases.WithLabelValues("publish_metadata").Inc()
		}
	}
}

// seriesFor derives the series hash(es) a descriptor resolves to: one
// context-scoped series for a metric with no instance domain, or one per
// instance for a metric that has one.
func (l *Loader) seriesFor(st *ingestState, d pcp.Descriptor) []hashid.Hash {
	ctxHash := hashid.Hash(st.rec.Context)
	nameHash := hashid.Hash(d.MetricName)

	if d.Indom == pcp.IndomNone {
		return []hashid.Hash{hashid.SeriesName(nameHash, ctxHash, nil)}
	}
	for _, dom := range st.rec.Indoms {
		if dom.Indom != d.Indom {
			continue
		}
		out := make([]hashid.Hash, 0, len(dom.Instances))
		for _, inst := range dom.Instances {
			instHash := hashid.Hash(inst.ExternalName)
			out = append(out, hashid.SeriesName(nameHash, ctxHash, &instHash))
		}
		return out
	}
	return nil
}

func (l *Loader) publishDescriptor(ctx context.Context, b *baton.Baton, contextID pcp.ContextID, d pcp.Descriptor, series hashid.Hash) {
	nameHash := hashid.Hash(d.MetricName)
	ctxHash := hashid.Hash(contextID)

	writes := []redis.Cmder{
		redis.NewIntCmd(ctx, "SADD", key("pcp:series:metric.name:", nameHash), series.String()),
		redis.NewIntCmd(ctx, "SADD", key("pcp:metric.name:series:", series), nameHash.String()),
		redis.NewStatusCmd(ctx, "HMSET", key("pcp:desc:series:", series),
			"indom", strconv.FormatUint(uint64(d.Indom), 10),
			"pmid", strconv.FormatUint(uint64(d.PMID), 10),
			"semantics", strconv.Itoa(int(d.Semantics)),
			"source", ctxHash.String(),
			"type", strconv.Itoa(int(d.ValueType)),
			"units", d.Units,
		),
		redis.NewIntCmd(ctx, "SADD", key("pcp:series:context.name:", ctxHash), series.String()),
	}

	for _, cmd := range writes {
		b.Reference(1)
		route := cmd.Args()[1].(string)
		l.store.Request(ctx, []byte(route), cmd, func(cmd redis.Cmder, err error) {
			if err != nil {
				b.Fail(fmt.Errorf("ingest: publishing descriptor for series %s: %w", series, err))
			}
			b.Dereference()
		})
	}
}

// ---- phase 3: instance publication (spec §4.6.3) ----

func (l *Loader) publishInstancesPhase(ctx context.Context, st *ingestState) baton.Phase {
	return func(b *baton.Baton) {
		ctxHash := hashid.Hash(st.rec.Context)
		for _, d := range st.rec.Descriptors {
			if d.Indom == pcp.IndomNone {
				continue
			}
			dom := findIndom(st.rec.Indoms, d.Indom)
			series := st.seriesByMetric[d.MetricName]
			if dom == nil || len(series) != len(dom.Instances) {
				continue
			}
			l.recorder.Observe(bootstrap.SchemaEntry{
				Kind:  "indom",
				Indom: int64(dom.Indom),
			})
			for i, inst := range dom.Instances {
				l.publishInstanceLink(ctx, b, inst, ctxHash, series[i])
			}
		}
		if l.metrics != nil {
			l.metrics.BatonPhases.WithLabelValues("publish_instances").Inc()
		}
	}
}

func findIndom(doms []pcp.InstanceDomain, id pcp.IndomID) *pcp.InstanceDomain {
	for i := range doms {
		if doms[i].Indom == id {
			return &doms[i]
		}
	}
	return nil
}

func (l *Loader) publishInstanceLink(ctx context.Context, b *baton.Baton, inst pcp.Instance, ctxHash hashid.Hash, series hashid.Hash) {
	if _, ok := l.knownInstances[pcp.SeriesID(series)]; ok {
		return
	}
	l.knownInstances[pcp.SeriesID(series)] = struct{}{}

	nameHash := hashid.Hash(inst.ExternalName)
	cmd := redis.NewStatusCmd(ctx, "HMSET", key("pcp:inst:series:", series),
		"inst", strconv.FormatInt(int64(inst.Internal), 10),
		"name", nameHash.String(),
		"source", ctxHash.String(),
	)
	b.Reference(1)
	l.store.Request(ctx, []byte(key("pcp:inst:series:", series)), cmd, func(cmd redis.Cmder, err error) {
		if err != nil {
			b.Fail(fmt.Errorf("ingest: linking instance for series %s: %w", series, err))
		}
		b.Dereference()
	})
}

// ---- phase 4: label publication (spec §4.6.4) ----

func (l *Loader) publishLabelsPhase(ctx context.Context, st *ingestState) baton.Phase {
	return func(b *baton.Baton) {
		for _, ls := range st.rec.Labels {
			for _, lbl := range ls.Labels {
				// Label sets are expanded to every series published so
				// far in this record: the discovery driver scopes which
				// LabelSets appear on a Record by target, so by the time
				// the loader sees one here it already applies to the
				// record's whole series set.
				for _, series := range st.allSeries {
					l.publishLabel(ctx, b, ls.Target, lbl, series)
				}
			}
		}
		if l.metrics != nil {
			l.metrics.BatonPhases.WithLabelValues("publish_labels").Inc()
		}
	}
}

func (l *Loader) publishLabel(ctx context.Context, b *baton.Baton, target pcp.LabelTarget, lbl pcp.Label, series hashid.Hash) {
	nameHash := hashid.Hash(lbl.Name)
	valueHash := hashid.Hash(lbl.Value)

	cmds := []redis.Cmder{
		redis.NewStatusCmd(ctx, "HMSET", key("pcp:labelvalue:series:", series), nameHash.String(), valueHash.String()),
		redis.NewIntCmd(ctx, "SADD", fmt.Sprintf("pcp:series:label.%s.value:%s", nameHash, valueHash), series.String()),
	}
	if target != pcp.LabelTargetContext {
		cmds = append([]redis.Cmder{
			redis.NewStatusCmd(ctx, "HMSET", key("pcp:labelflags:series:", series), nameHash.String(), strconv.Itoa(lbl.Flags)),
		}, cmds...)
	}

	for _, cmd := range cmds {
		b.Reference(1)
		route := cmd.Args()[1].(string)
		l.store.Request(ctx, []byte(route), cmd, func(cmd redis.Cmder, err error) {
			if err != nil {
				b.Fail(fmt.Errorf("ingest: publishing label for series %s: %w", series, err))
			}
			b.Dereference()
		})
	}
}

// ---- phase 5: value streaming (spec §4.6.5) ----

func (l *Loader) streamValuesPhase(ctx context.Context, st *ingestState) baton.Phase {
	return func(b *baton.Baton) {
		for _, v := range st.rec.Values {
			l.streamValue(ctx, b, v)
		}
		if l.metrics != nil {
			l.metrics.BatonPhases.WithLabelValues("stream_values").Inc()
		}
	}
}

func (l *Loader) streamValue(ctx context.Context, b *baton.Baton, v pcp.ValueSample) {
	series := hashid.Hash(v.Series)
	field, formatted := formatSample(v)

	// The stream id is the sample timestamp in milliseconds, matching the
	// spec's "<stamp>" argument; Redis stream ids are "<ms>-<seq>" and
	// auto-assign the sequence when only the milliseconds part is given.
	id := strconv.FormatInt(int64(v.Timestamp*1000), 10)
	args := []interface{}{
		"XADD", key("pcp:values:series:", series),
		"MAXLEN", "~", strconv.FormatInt(l.cfg.StreamMaxLen, 10),
		id,
		field, formatted,
	}
	xadd := redis.NewStringCmd(ctx, args...)
	b.Reference(1)
	l.store.Request(ctx, []byte(key("pcp:values:series:", series)), xadd, func(cmd redis.Cmder, err error) {
		if err != nil {
			if isDuplicateErr(err) {
				log.Warnf("ingest: duplicate XADD for series %s dropped", series)
				if l.metrics != nil {
					l.metrics.DuplicateXAdd.Inc()
				}
				b.Dereference()
				return
			}
			b.Fail(fmt.Errorf("ingest: streaming value for series %s: %w", series, err))
			b.Dereference()
			return
		}

		expire := redis.NewBoolCmd(ctx, "EXPIRE", key("pcp:values:series:", series), strconv.FormatInt(l.cfg.StreamExpire, 10))
		l.store.Request(ctx, []byte(key("pcp:values:series:", series)), expire, func(cmd redis.Cmder, err error) {
			if err != nil {
				b.Fail(fmt.Errorf("ingest: bumping expiry for series %s: %w", series, err))
			}
			b.Dereference()
		})
	})
}

// formatSample renders the field name and value for a stream entry: field
// "-1" with the numeric error code for an error sample, otherwise an empty
// field name. The empty field is used for every value sample, instance-bearing
// series included; ValueSample carries no instance name, so no instance-name
// hash is written as the field.
func formatSample(v pcp.ValueSample) (field, value string) {
	if v.HasError {
		return "-1", strconv.FormatInt(int64(v.ErrorCode), 10)
	}
	return "", fmt.Sprint(v.Value)
}

// isDuplicateErr reports whether err is the store's response to an XADD
// at an equal-or-earlier stream id (spec §4.6: "a warning, the sample is
// dropped"). redis reports this as a plain ERR reply, not a distinct type.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "equal or smaller")
}

func key(prefix string, h hashid.Hash) string {
	return prefix + h.String()
}
