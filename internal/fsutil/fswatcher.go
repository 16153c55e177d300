// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fsutil

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/performancecopilot/pmseries-core/pkg/log"
)

// Listener is notified of filesystem events on a watched directory.
// EventMatch decides whether an event is of interest before EventCallback
// is invoked, so a listener watching for new archive volumes does not pay
// for events on unrelated files in the same directory.
type Listener interface {
	EventMatch(event fsnotify.Event) bool
	EventCallback(event fsnotify.Event)
}

// Watcher multiplexes one fsnotify.Watcher across any number of listeners,
// each scoped to the directories it called Add for. Unlike the singleton
// the discovery driver historically used, a Watcher is an explicit value so
// tests can create one, close it, and assert no goroutine leaks.
type Watcher struct {
	mu        sync.Mutex
	w         *fsnotify.Watcher
	listeners map[string][]Listener
	closeOnce sync.Once
}

// NewWatcher starts the underlying fsnotify watcher and its event loop.
func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	watcher := &Watcher{
		w:         w,
		listeners: make(map[string][]Listener),
	}
	go watcher.loop()
	return watcher, nil
}

// Add registers l to receive events on path, starting a watch on path if
// this is the first listener for it.
func (w *Watcher) Add(path string, l Listener) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	first := len(w.listeners[path]) == 0
	w.listeners[path] = append(w.listeners[path], l)
	if first {
		if err := w.w.Add(path); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the watch loop and releases the underlying inotify/kqueue
// handle. Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.w.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Errorf("archive watch: %s", err)
		case e, ok := <-w.w.Events:
			if !ok {
				return
			}
			w.dispatch(e)
		}
	}
}

func (w *Watcher) dispatch(e fsnotify.Event) {
	w.mu.Lock()
	dir := e.Name
	// fsnotify reports events with the full path of the changed entry;
	// listeners are keyed by the directory they asked to watch.
	matches := make([]Listener, 0, 4)
	for watched, ls := range w.listeners {
		if watched == dir || isParentDir(watched, dir) {
			matches = append(matches, ls...)
		}
	}
	w.mu.Unlock()

	for _, l := range matches {
		if l.EventMatch(e) {
			l.EventCallback(e)
		}
	}
}

func isParentDir(dir, path string) bool {
	if len(path) <= len(dir) {
		return false
	}
	return path[:len(dir)] == dir && path[len(dir)] == '/'
}
