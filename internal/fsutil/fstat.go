// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fsutil holds the filesystem helpers the archive discovery driver
// needs: existence/size checks on archive volume files and a directory
// watch loop that feeds fsnotify events to a set of listeners.
package fsutil

import (
	"errors"
	"os"
	"path/filepath"
)

// Exists reports whether path names something on disk, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

// Size returns the size in bytes of the file at path, or 0 if it cannot be
// stat'd (a growing archive volume disappearing mid-scan is not an error
// worth propagating — the next scan picks it up again).
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// DirEntryCount returns the number of entries directly inside dir, or 0 if
// dir cannot be read.
func DirEntryCount(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

// MatchesAny reports whether name matches any of the shell globs in
// patterns, per filepath.Match, tried against both the base name and the
// full name. A malformed pattern is treated as a non-match
// rather than an error, so one bad exclusion entry in config does not stop
// discovery of everything else.
func MatchesAny(patterns []string, name string) bool {
	base := filepath.Base(name)
	for _, p := range patterns {
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
