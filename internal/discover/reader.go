// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package discover

import "github.com/performancecopilot/pmseries-core/pkg/pcp"

// MetaDelta is the decoded portion of one archive's meta file newly
// available since the offset a previous ReadMeta call returned.
type MetaDelta struct {
	Context     pcp.ContextID
	ContextStr  string
	Descriptors []pcp.Descriptor
	Indoms      []pcp.InstanceDomain
	Labels      []pcp.LabelSet
	HelpTexts   []pcp.HelpText
	NewNames    []pcp.NewName
}

// Empty reports whether the delta has nothing worth a loader call.
func (d MetaDelta) Empty() bool {
	return len(d.Descriptors) == 0 && len(d.Indoms) == 0 && len(d.Labels) == 0 &&
		len(d.HelpTexts) == 0 && len(d.NewNames) == 0
}

// LogDelta is the decoded portion of one archive's current log volume
// newly available since the offset a previous ReadLog call returned.
type LogDelta struct {
	Context pcp.ContextID
	Values  []pcp.ValueSample
	// Mark reports a discontinuity sentinel at this point in the volume.
	Mark bool
	// Closed reports that pmlogger wrote its final mark before archive
	// closure; the driver retires the archive to CLOSED rather than
	// leaving it ACTIVE and waiting for more data that will never come.
	Closed bool
}

// ArchiveReader decodes PCP archive meta and log-volume files into the
// driver's delta types. Actual binary archive parsing is out of scope for
// this core (spec §1 non-goals name the "archive binary format reader"
// explicitly) — a production ArchiveReader lives with the archive-format
// collaborator named in spec.md's "external archive reader interface".
// This core only depends on the interface, so it can be exercised with a
// fake in tests and swapped for the real decoder at the composition root.
type ArchiveReader interface {
	// ReadMeta decodes meta records appended since fromOffset. It returns
	// the decoded delta and the new offset to resume from next time.
	ReadMeta(path string, fromOffset int64) (MetaDelta, int64, error)
	// ReadLog decodes result/mark records appended to log volume number
	// vol since fromOffset.
	ReadLog(path string, vol int64, fromOffset int64) (LogDelta, int64, error)
}
