// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLevel(t *testing.T, lv *level, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	origW, origPlain, origDated := lv.w, lv.plain, lv.dated
	lv.w = &buf
	lv.plain.SetOutput(&buf)
	lv.dated.SetOutput(&buf)
	defer func() {
		lv.w, lv.plain, lv.dated = origW, origPlain, origDated
	}()
	fn()
	return buf.String()
}

func TestDebugWritesWhenEnabled(t *testing.T) {
	out := captureLevel(t, debugLevel, func() { Debug("hello", " ", "world") })
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "[DEBUG]")
}

func TestSetLogLevelDiscardsBelowThreshold(t *testing.T) {
	defer SetLogLevel("debug")

	SetLogLevel("warn")
	assert.False(t, debugLevel.enabled())
	assert.False(t, infoLevel.enabled())
	assert.True(t, warnLevel.enabled())
	assert.True(t, errLevel.enabled())
}

func TestSetLogLevelInvalidFallsBackToDebug(t *testing.T) {
	defer SetLogLevel("debug")

	SetLogLevel("warn")
	SetLogLevel("not-a-level")
	assert.True(t, debugLevel.enabled())
}

func TestErrorfFormats(t *testing.T) {
	out := captureLevel(t, errLevel, func() { Errorf("code=%d", 42) })
	assert.True(t, strings.Contains(out, "code=42"))
}
