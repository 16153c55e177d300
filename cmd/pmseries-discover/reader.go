// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/performancecopilot/pmseries-core/internal/discover"
)

// unimplementedReader satisfies discover.ArchiveReader so this binary
// links and runs its full startup sequence without a real archive-format
// decoder wired in. Binary PCP archive parsing is a named external
// collaborator, not part of this core; a deployment that enables
// [discover] must replace this with that collaborator's reader before
// archives will actually decode.
type unimplementedReader struct{}

func (unimplementedReader) ReadMeta(path string, fromOffset int64) (discover.MetaDelta, int64, error) {
	return discover.MetaDelta{}, fromOffset, fmt.Errorf("pmseries-discover: no archive reader wired in for %s", path)
}

func (unimplementedReader) ReadLog(path string, vol int64, fromOffset int64) (discover.LogDelta, int64, error) {
	return discover.LogDelta{}, fromOffset, fmt.Errorf("pmseries-discover: no archive reader wired in for %s", path)
}
