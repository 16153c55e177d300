// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistsAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.0")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	assert.True(t, Exists(path))
	assert.False(t, Exists(filepath.Join(dir, "missing")))
	assert.EqualValues(t, 10, Size(path))
	assert.Zero(t, Size(filepath.Join(dir, "missing")))
}

func TestDirEntryCount(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.meta", "a.index", "a.0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	assert.Equal(t, 3, DirEntryCount(dir))
	assert.Zero(t, DirEntryCount(filepath.Join(dir, "nope")))
}

func TestMatchesAny(t *testing.T) {
	patterns := []string{"*.tmp", "lost+found"}
	assert.True(t, MatchesAny(patterns, "/archives/host/foo.tmp"))
	assert.True(t, MatchesAny(patterns, "lost+found"))
	assert.False(t, MatchesAny(patterns, "/archives/host/20240101.0"))
	assert.False(t, MatchesAny([]string{"["}, "anything"))
}

type recordingListener struct {
	matchAll bool
	events   chan fsnotify.Event
}

func (l *recordingListener) EventMatch(fsnotify.Event) bool { return l.matchAll }

func (l *recordingListener) EventCallback(e fsnotify.Event) {
	l.events <- e
}

func TestWatcherDispatchesToMatchingListener(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()

	l := &recordingListener{matchAll: true, events: make(chan fsnotify.Event, 4)}
	require.NoError(t, w.Add(dir, l))

	path := filepath.Join(dir, "new.0")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	select {
	case e := <-l.events:
		assert.Equal(t, path, e.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fsnotify event")
	}
}
