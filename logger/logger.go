// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2014,2015,2017 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/padroot/padroot/osutil"
)

// A Logger is a fairly minimal logging tool.
type Logger interface {
	// Notice is for messages that the user should see
	Notice(msg string)
	// Debug is for messages that the user should be able to find if they're debugging something
	Debug(msg string)
	// NoGuardDebug is for messages that we always want to print (e.g., configurations
	// were checked by the caller, etc)
	NoGuardDebug(msg string)
}

const (
	// DefaultFlags are passed to the default console log.Logger
	DefaultFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	// DebugEnvVar turns on debug output when set to a true value.
	DebugEnvVar = "PADROOT_DEBUG"
)

type nullLogger struct{}

func (nullLogger) Notice(string)       {}
func (nullLogger) Debug(string)        {}
func (nullLogger) NoGuardDebug(string) {}

// NullLogger is a logger that does nothing
var NullLogger = nullLogger{}

var (
	logger Logger = NullLogger
	lock   sync.Mutex
)

// redacted replaces registered secrets in logged messages.
const redacted = "********"

var secrets []string

// Redact hides s in every message logged from now on. Passwords are
// registered here as soon as they are known.
func Redact(s string) {
	if s == "" {
		return
	}
	lock.Lock()
	defer lock.Unlock()

	secrets = append(secrets, s)
}

// format must be called with the lock held.
func format(f string, v ...interface{}) string {
	msg := fmt.Sprintf(f, v...)
	for _, s := range secrets {
		msg = strings.Replace(msg, s, redacted, -1)
	}
	return msg
}

// Panicf notifies the user and then panics
func Panicf(f string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()

	msg := format(f, v...)
	logger.Notice("PANIC " + msg)
	panic(msg)
}

// Noticef notifies the user of something
func Noticef(f string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()

	logger.Notice(format(f, v...))
}

// Debugf records something in the debug log
func Debugf(f string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()

	logger.Debug(format(f, v...))
}

// NoGuardDebugf records something in the debug log
func NoGuardDebugf(f string, v ...interface{}) {
	lock.Lock()
	defer lock.Unlock()

	logger.NoGuardDebug(format(f, v...))
}

// MockLogger replaces the existing logger with a buffer and returns
// the log buffer and a restore function.
func MockLogger() (buf *bytes.Buffer, restore func()) {
	buf = &bytes.Buffer{}
	oldLogger := logger
	l, err := New(buf, DefaultFlags)
	if err != nil {
		panic(err)
	}
	SetLogger(l)
	lock.Lock()
	oldSecrets := secrets
	lock.Unlock()
	return buf, func() {
		SetLogger(oldLogger)
		lock.Lock()
		secrets = oldSecrets
		lock.Unlock()
	}
}

// WithLoggerLock invokes f with the global logger lock, useful for
// tests involving goroutines with MockLogger.
func WithLoggerLock(f func()) {
	lock.Lock()
	defer lock.Unlock()

	f()
}

// SetLogger sets the global logger to the given one
func SetLogger(l Logger) {
	lock.Lock()
	defer lock.Unlock()

	logger = l
}

type Log struct {
	log *log.Logger

	debug bool
	quiet bool
}

func (l *Log) debugEnabled() bool {
	return l.debug || osutil.GetenvBool(DebugEnvVar)
}

// Debug only prints if PADROOT_DEBUG is set or the logger was created
// with debugging on.
func (l *Log) Debug(msg string) {
	if l.debugEnabled() {
		l.log.Output(3, "DEBUG: "+msg)
	}
}

// Notice alerts the user about something
func (l *Log) Notice(msg string) {
	if !l.quiet || l.debugEnabled() {
		l.log.Output(3, msg)
	}
}

// NoGuardDebug always prints the message, w/o gating it based on environment
// variables or other configurations.
func (l *Log) NoGuardDebug(msg string) {
	l.log.Output(3, "DEBUG: "+msg)
}

// New creates a log.Logger using the given io.Writer and flag.
func New(w io.Writer, flag int) (Logger, error) {
	logger := &Log{
		log: log.New(w, "", flag),
	}
	return logger, nil
}

func buildFlags() int {
	flags := log.Lshortfile
	if term := os.Getenv("TERM"); term != "" {
		flags = DefaultFlags
	}
	return flags
}

// SimpleSetup creates the default (console) logger
func SimpleSetup() error {
	flags := buildFlags()
	l, err := New(os.Stderr, flags)
	if err == nil {
		SetLogger(l)
	}
	return err
}

// CommandSetup creates the console logger used by the command line tool.
// With quiet set only debug-enabled runs print notices; with verbose set
// debug messages are printed regardless of the environment.
func CommandSetup(w io.Writer, quiet, verbose bool) {
	SetLogger(&Log{
		log:   log.New(w, "", buildFlags()),
		debug: verbose,
		quiet: quiet,
	})
}

var timeNow = time.Now

// StageTimestamp records when a run entered the given stage.
func StageTimestamp(stage string) {
	now := timeNow()
	Debugf(`-- padroot stage {"stage":"%s", "time":"%v.%06d"}`,
		stage, now.Unix(), (now.UnixNano()/1e3)%1e6)
}
