// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package discover watches a configured archive directory, decodes newly
// appended meta and log-volume records through an injected ArchiveReader,
// and feeds the results to an ingest.Loader (spec §4.8). Every archive in
// the directory is tracked through a small state machine —
// NEW → ACTIVE → (PURGED | CLOSED) — driven by file existence and the
// content of the decoded deltas.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/performancecopilot/pmseries-core/internal/discover/offsetledger"
	"github.com/performancecopilot/pmseries-core/internal/fsutil"
	"github.com/performancecopilot/pmseries-core/internal/ingest"
	"github.com/performancecopilot/pmseries-core/pkg/hashid"
	"github.com/performancecopilot/pmseries-core/pkg/log"
	"github.com/performancecopilot/pmseries-core/pkg/metrics"
	"github.com/performancecopilot/pmseries-core/pkg/pcp"
)

// State is an archive's discovery lifecycle stage.
type State int

const (
	StateNew State = iota
	StateActive
	StatePurged
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StatePurged:
		return "purged"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Archive is one tracked archive's state.
type Archive struct {
	Name            string
	State           State
	MetaOffset      int64
	LogVolumeNumber int64
	LogVolumeOffset int64

	context        pcp.ContextID
	excludedSeries map[pcp.SeriesID]struct{}
}

// Config tunes the driver's exclusion filters.
type Config struct {
	ExcludeMetrics []string
	ExcludeIndoms  []string
}

// Driver watches ArchiveDir for PCP archives and feeds decoded records to
// a Loader. Like every loop-owned component in this core it must be driven
// exclusively from the event loop goroutine: fsnotify events arrive on
// their own goroutine and are handed off with loop.Post before any
// Driver state is touched.
type Driver struct {
	dir     string
	reader  ArchiveReader
	loader  *ingest.Loader
	ledger  *offsetledger.Ledger
	metrics *metrics.Set
	cold    *ColdStorage
	cfg     Config
	post    func(func())

	watcher  *fsutil.Watcher
	archives map[string]*Archive
}

// New builds a Driver. post is typically (*eventloop.Loop).Post; ledger and
// cold may be nil (no offset persistence, no cold-storage upload).
func New(dir string, reader ArchiveReader, loader *ingest.Loader, ledger *offsetledger.Ledger, cold *ColdStorage, m *metrics.Set, cfg Config, post func(func())) *Driver {
	return &Driver{
		dir:      dir,
		reader:   reader,
		loader:   loader,
		ledger:   ledger,
		metrics:  m,
		cold:     cold,
		cfg:      cfg,
		post:     post,
		archives: make(map[string]*Archive),
	}
}

// Start scans dir for existing archives, resumes their persisted offsets,
// and begins watching for changes. Must be called from the loop goroutine.
func (d *Driver) Start() error {
	w, err := fsutil.NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = w

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := archiveBase(e.Name())
		if base == "" || d.archives[base] != nil {
			continue
		}
		d.trackArchive(base)
	}

	return d.watcher.Add(d.dir, d)
}

// Stop releases the underlying filesystem watch.
func (d *Driver) Stop() {
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func (d *Driver) trackArchive(base string) *Archive {
	a := &Archive{
		Name:           base,
		State:          StateNew,
		context:        pcp.ContextID(hashid.Sum([]byte("context:" + base))),
		excludedSeries: make(map[pcp.SeriesID]struct{}),
	}
	if d.ledger != nil {
		if off, ok, err := d.ledger.Get(base); err == nil && ok {
			a.MetaOffset = off.MetaOffset
			a.LogVolumeNumber = off.LogVolumeNumber
			a.LogVolumeOffset = off.LogVolumeOffset
			a.State = StateActive
		}
	}
	d.archives[base] = a
	d.reportState()
	return a
}

// EventMatch satisfies fsutil.Listener: every event under the watched
// directory is of interest, exclusion filtering happens on decode.
func (d *Driver) EventMatch(fsnotify.Event) bool { return true }

// EventCallback satisfies fsutil.Listener. It runs on fsnotify's own
// goroutine and must not touch Driver state directly; it only ever hands
// the event to the loop.
func (d *Driver) EventCallback(e fsnotify.Event) {
	d.post(func() { d.handleEvent(e) })
}

func (d *Driver) handleEvent(e fsnotify.Event) {
	base := archiveBase(e.Name)
	if base == "" {
		return
	}

	if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && !fsutil.Exists(e.Name) {
		d.handleRemoval(base)
		return
	}

	a := d.archives[base]
	if a == nil {
		a = d.trackArchive(base)
	}
	if a.State == StatePurged || a.State == StateClosed {
		return
	}

	switch {
	case strings.HasSuffix(e.Name, ".meta"):
		d.pollMeta(a, e.Name)
	default:
		if vol, ok := volumeNumber(base, e.Name); ok {
			d.pollLog(a, e.Name, vol)
		}
	}
}

func (d *Driver) pollMeta(a *Archive, path string) {
	delta, newOffset, err := d.reader.ReadMeta(path, a.MetaOffset)
	if err != nil {
		log.Warnf("discover: reading meta %s: %s", path, err)
		return
	}
	a.MetaOffset = newOffset
	if delta.Empty() {
		d.persist(a)
		return
	}

	a.context = delta.Context
	d.filterExcluded(a, &delta)
	if a.State == StateNew {
		a.State = StateActive
		d.reportState()
	}

	rec := &pcp.Record{
		Context:     delta.Context,
		ContextStr:  delta.ContextStr,
		Descriptors: delta.Descriptors,
		Indoms:      delta.Indoms,
		Labels:      delta.Labels,
		HelpTexts:   delta.HelpTexts,
		NewNames:    delta.NewNames,
	}
	d.loader.Ingest(context.Background(), rec, func(err error) {
		if err != nil {
			log.Warnf("discover: ingesting meta for %s: %s", a.Name, err)
			return
		}
		d.persist(a)
	})
}

func (d *Driver) pollLog(a *Archive, path string, vol int64) {
	fromOffset := int64(0)
	if vol == a.LogVolumeNumber {
		fromOffset = a.LogVolumeOffset
	}

	delta, newOffset, err := d.reader.ReadLog(path, vol, fromOffset)
	if err != nil {
		log.Warnf("discover: reading log volume %s: %s", path, err)
		return
	}
	a.LogVolumeNumber = vol
	a.LogVolumeOffset = newOffset

	values := delta.Values[:0:0]
	for _, v := range delta.Values {
		if _, excluded := a.excludedSeries[v.Series]; excluded {
			continue
		}
		values = append(values, v)
	}

	if len(values) == 0 && !delta.Mark {
		d.persist(a)
		d.maybeClose(a, delta)
		return
	}

	rec := &pcp.Record{
		Context: a.context,
		Values:  values,
		IsMark:  delta.Mark && len(values) == 0,
	}
	d.loader.Ingest(context.Background(), rec, func(err error) {
		if err != nil {
			log.Warnf("discover: ingesting values for %s: %s", a.Name, err)
			return
		}
		d.persist(a)
		d.maybeClose(a, delta)
	})
}

func (d *Driver) maybeClose(a *Archive, delta LogDelta) {
	if !delta.Closed {
		return
	}
	a.State = StateClosed
	d.reportState()
}

// filterExcluded drops descriptors that match the configured metric-name
// globs or indom exclusion list (spec §6 discover.exclude.metrics,
// discover.exclude.indoms), and records the series hashes behind every
// dropped descriptor in a.excludedSeries so pollLog can also drop their
// values — a descriptor never published must never gain a value stream
// either, or the store would carry orphan series with no metadata.
func (d *Driver) filterExcluded(a *Archive, delta *MetaDelta) {
	if len(d.cfg.ExcludeMetrics) == 0 && len(d.cfg.ExcludeIndoms) == 0 {
		return
	}
	names := make(map[pcp.Name]string, len(delta.NewNames))
	for _, n := range delta.NewNames {
		if n.Class == "metricname.name" {
			names[n.Hash] = n.Value
		}
	}

	kept := delta.Descriptors[:0:0]
	for _, desc := range delta.Descriptors {
		excluded := false
		if name, ok := names[desc.MetricName]; ok && fsutil.MatchesAny(d.cfg.ExcludeMetrics, name) {
			excluded = true
		}
		if desc.Indom != pcp.IndomNone && matchesIndom(d.cfg.ExcludeIndoms, desc.Indom) {
			excluded = true
		}
		if excluded {
			for _, sid := range seriesIDsForDescriptor(delta.Context, desc, delta.Indoms) {
				a.excludedSeries[sid] = struct{}{}
			}
			continue
		}
		kept = append(kept, desc)
	}
	delta.Descriptors = kept
}

// seriesIDsForDescriptor mirrors ingest.Loader.seriesFor's hash derivation
// so an excluded descriptor's series hashes line up with the ones the
// loader would otherwise have minted for it.
func seriesIDsForDescriptor(ctx pcp.ContextID, d pcp.Descriptor, indoms []pcp.InstanceDomain) []pcp.SeriesID {
	ctxHash := hashid.Hash(ctx)
	nameHash := hashid.Hash(d.MetricName)

	if d.Indom == pcp.IndomNone {
		return []pcp.SeriesID{pcp.SeriesID(hashid.SeriesName(nameHash, ctxHash, nil))}
	}
	for _, dom := range indoms {
		if dom.Indom != d.Indom {
			continue
		}
		out := make([]pcp.SeriesID, 0, len(dom.Instances))
		for _, inst := range dom.Instances {
			instHash := hashid.Hash(inst.ExternalName)
			out = append(out, pcp.SeriesID(hashid.SeriesName(nameHash, ctxHash, &instHash)))
		}
		return out
	}
	return nil
}

func matchesIndom(excluded []string, id pcp.IndomID) bool {
	domain := uint32(id) >> 22
	serial := uint32(id) & 0x3fffff
	formatted := strconv.FormatUint(uint64(domain), 10) + "." + strconv.FormatUint(uint64(serial), 10)
	for _, e := range excluded {
		if e == formatted {
			return true
		}
	}
	return false
}

func (d *Driver) persist(a *Archive) {
	if d.ledger == nil {
		return
	}
	off := offsetledger.Offset{
		ArchiveName:     a.Name,
		MetaOffset:      a.MetaOffset,
		LogVolumeNumber: a.LogVolumeNumber,
		LogVolumeOffset: a.LogVolumeOffset,
	}
	if err := d.ledger.Put(off, 0); err != nil {
		log.Warnf("discover: persisting offset for %s: %s", a.Name, err)
	}
}

func (d *Driver) handleRemoval(base string) {
	a := d.archives[base]
	if a == nil || a.State == StatePurged {
		return
	}
	a.State = StatePurged
	d.reportState()

	if d.cold != nil {
		d.cold.UploadArchive(context.Background(), d.dir, base)
	}
	if d.ledger != nil {
		if err := d.ledger.Delete(base); err != nil {
			log.Warnf("discover: clearing ledger for %s: %s", base, err)
		}
	}
	delete(d.archives, base)
}

func (d *Driver) reportState() {
	if d.metrics == nil || d.metrics.ArchivesByState == nil {
		return
	}
	counts := map[State]int{StateNew: 0, StateActive: 0, StatePurged: 0, StateClosed: 0}
	for _, a := range d.archives {
		counts[a.State]++
	}
	for s, c := range counts {
		d.metrics.ArchivesByState.WithLabelValues(s.String()).Set(float64(c))
	}
}

// archiveBase strips a PCP archive file's volume/meta/index suffix,
// returning "" if name does not look like part of an archive at all.
func archiveBase(name string) string {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, ".meta"):
		return strings.TrimSuffix(base, ".meta")
	case strings.HasSuffix(base, ".index"):
		return strings.TrimSuffix(base, ".index")
	default:
		idx := strings.LastIndex(base, ".")
		if idx <= 0 {
			return ""
		}
		if _, err := strconv.ParseInt(base[idx+1:], 10, 64); err != nil {
			return ""
		}
		return base[:idx]
	}
}

// volumeNumber extracts the numeric suffix of a log-volume file name
// belonging to base.
func volumeNumber(base, name string) (int64, bool) {
	b := filepath.Base(name)
	if !strings.HasPrefix(b, base+".") {
		return 0, false
	}
	suffix := strings.TrimPrefix(b, base+".")
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
