// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of pmseries-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log is a small leveled wrapper around the standard log.Logger.
// Time/date are left off by default because systemd adds them for us;
// SetLogDateTime(true) turns them back on for non-systemd deployments.
//
// Prefixes follow the systemd syslog levels:
// https://www.freedesktop.org/software/systemd/man/sd-daemon.html
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

// level bundles the two loggers (plain and with-date) and the discard gate
// for one severity, so the Debug/Info/.../Crit family below is one line
// each.
type level struct {
	w       io.Writer
	plain   *log.Logger
	dated   *log.Logger
}

func newLevel(prefix string, flag int) *level {
	w := io.Writer(os.Stderr)
	return &level{
		w:     w,
		plain: log.New(w, prefix, flag),
		dated: log.New(w, prefix, flag|log.LstdFlags),
	}
}

func (lv *level) enabled() bool {
	return lv.w != io.Discard
}

func (lv *level) discard() {
	lv.w = io.Discard
}

func (lv *level) output(calldepth int, s string) {
	if !lv.enabled() {
		return
	}
	if logDateTime {
		lv.dated.Output(calldepth, s)
	} else {
		lv.plain.Output(calldepth, s)
	}
}

var (
	debugLevel = newLevel("<7>[DEBUG]    ", 0)
	infoLevel  = newLevel("<6>[INFO]     ", 0)
	noteLevel  = newLevel("<5>[NOTICE]   ", log.Lshortfile)
	warnLevel  = newLevel("<4>[WARNING]  ", log.Lshortfile)
	errLevel   = newLevel("<3>[ERROR]    ", log.Llongfile)
	critLevel  = newLevel("<2>[CRITICAL] ", log.Llongfile)
)

// SetLogLevel discards every level below lvl. Levels, from least to most
// severe: debug, info, notice, warn, err (alias fatal), crit.
func SetLogLevel(lvl string) {
	for _, lv := range []*level{debugLevel, infoLevel, noteLevel, warnLevel, errLevel, critLevel} {
		lv.w = os.Stderr
	}
	switch lvl {
	case "crit":
		errLevel.discard()
		fallthrough
	case "err", "fatal":
		warnLevel.discard()
		fallthrough
	case "warn":
		noteLevel.discard()
		fallthrough
	case "notice":
		infoLevel.discard()
		fallthrough
	case "info":
		debugLevel.discard()
	case "debug":
		// nothing discarded
	default:
		fmt.Printf("pkg/log: flag 'loglevel' has invalid value %#v, using 'debug'\n", lvl)
		SetLogLevel("debug")
	}
}

// SetLogDateTime switches every level between the no-date and with-date
// logger. Off by default since systemd timestamps journal entries itself.
func SetLogDateTime(logdate bool) {
	logDateTime = logdate
}

/* PRINT */

func Print(v ...interface{}) { Info(v...) }

func Debug(v ...interface{}) { debugLevel.output(2, fmt.Sprint(v...)) }
func Info(v ...interface{})  { infoLevel.output(2, fmt.Sprint(v...)) }
func Note(v ...interface{})  { noteLevel.output(2, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { warnLevel.output(2, fmt.Sprint(v...)) }
func Error(v ...interface{}) { errLevel.output(2, fmt.Sprint(v...)) }
func Crit(v ...interface{})  { critLevel.output(2, fmt.Sprint(v...)) }

// Panic logs at error level then panics, unwinding the calling goroutine.
func Panic(v ...interface{}) {
	Error(v...)
	panic("pmseries-core: panic triggered by log.Panic")
}

// Fatal logs at error level then exits the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

/* PRINTF */

func Printf(format string, v ...interface{}) { Infof(format, v...) }

func Debugf(format string, v ...interface{}) { debugLevel.output(2, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { infoLevel.output(2, fmt.Sprintf(format, v...)) }
func Notef(format string, v ...interface{})  { noteLevel.output(2, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { warnLevel.output(2, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { errLevel.output(2, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...interface{})  { critLevel.output(2, fmt.Sprintf(format, v...)) }

func Panicf(format string, v ...interface{}) {
	Errorf(format, v...)
	panic("pmseries-core: panic triggered by log.Panicf")
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}
