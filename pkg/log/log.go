// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Provides a simple way of logging with different levels.
// Time/Date are not logged by default because systemd adds them for us
// (can be changed with SetLogDateTime). Uses these prefixes:
// https://www.freedesktop.org/software/systemd/man/sd-daemon.html

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
	levelCrit
)

type sink struct {
	prefix   string
	lvl      level
	writer   io.Writer
	plain    *log.Logger
	withDate *log.Logger
}

func newSink(lvl level, prefix string, flags int) *sink {
	s := &sink{prefix: prefix, lvl: lvl, writer: os.Stderr}
	s.plain = log.New(s.writer, prefix, flags)
	s.withDate = log.New(s.writer, prefix, flags|log.LstdFlags)
	return s
}

var (
	debugSink = newSink(levelDebug, "<7>[DEBUG]    ", 0)
	infoSink  = newSink(levelInfo, "<6>[INFO]     ", 0)
	warnSink  = newSink(levelWarn, "<4>[WARNING]  ", log.Lshortfile)
	errSink   = newSink(levelError, "<3>[ERROR]    ", log.Llongfile)
	critSink  = newSink(levelCrit, "<2>[CRITICAL] ", log.Llongfile)

	sinks       = []*sink{debugSink, infoSink, warnSink, errSink, critSink}
	minLevel    = levelDebug
	logDateTime bool
)

// SetLogLevel sets the minimum level that is actually written; everything
// below it is discarded before anything is written.
func SetLogLevel(lvl string) {
	switch lvl {
	case "debug":
		minLevel = levelDebug
	case "info", "note", "notice":
		minLevel = levelInfo
	case "warn":
		minLevel = levelWarn
	case "err", "error", "fatal":
		minLevel = levelError
	case "crit":
		minLevel = levelCrit
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: invalid loglevel %#v, using 'info'\n", lvl)
		minLevel = levelInfo
	}
}

// SetLogDateTime toggles whether a date/time prefix is added to each line;
// leave this off when systemd already timestamps output.
func SetLogDateTime(logdate bool) {
	logDateTime = logdate
}

func (s *sink) enabled() bool { return s.lvl >= minLevel }

func (s *sink) write(calldepth int, msg string) {
	if !s.enabled() {
		return
	}
	if logDateTime {
		s.withDate.Output(calldepth, msg)
	} else {
		s.plain.Output(calldepth, msg)
	}
}

func Debug(v ...interface{})                 { debugSink.write(3, fmt.Sprint(v...)) }
func Debugf(format string, v ...interface{}) { debugSink.write(3, fmt.Sprintf(format, v...)) }
func Info(v ...interface{})                  { infoSink.write(3, fmt.Sprint(v...)) }
func Infof(format string, v ...interface{})  { infoSink.write(3, fmt.Sprintf(format, v...)) }
func Print(v ...interface{})                 { Info(v...) }
func Printf(format string, v ...interface{}) { Infof(format, v...) }
func Warn(v ...interface{})                  { warnSink.write(3, fmt.Sprint(v...)) }
func Warnf(format string, v ...interface{})  { warnSink.write(3, fmt.Sprintf(format, v...)) }
func Error(v ...interface{})                 { errSink.write(3, fmt.Sprint(v...)) }
func Errorf(format string, v ...interface{}) { errSink.write(3, fmt.Sprintf(format, v...)) }
func Crit(v ...interface{})                  { critSink.write(3, fmt.Sprint(v...)) }
func Critf(format string, v ...interface{})  { critSink.write(3, fmt.Sprintf(format, v...)) }

// Panic writes an error log entry, then panics (keeps the process alive
// only if something up the stack recovers).
func Panic(v ...interface{}) {
	Error(v...)
	panic("log.Panic triggered")
}

func Panicf(format string, v ...interface{}) {
	Errorf(format, v...)
	panic("log.Panic triggered")
}

// Fatal writes an error log entry and terminates the process.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

// Finfof writes directly to w, bypassing level gating; used by callers
// that already decided a message must be visible (e.g. CLI output).
func Finfof(w io.Writer, format string, v ...interface{}) {
	if logDateTime {
		fmt.Fprintf(w, time.Now().String()+" "+infoSink.prefix+format+"\n", v...)
	} else {
		fmt.Fprintf(w, infoSink.prefix+format+"\n", v...)
	}
}
