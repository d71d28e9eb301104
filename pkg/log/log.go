// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Level is the log message severity level below which we suppress messages.
type Level int32

const (
	// LevelDebug corresponds to debug messages.
	LevelDebug Level = iota
	// LevelInfo corresponds to informational messages.
	LevelInfo
	// LevelWarn corresponds to warning messages.
	LevelWarn
	// LevelError corresponds to error messages.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// Backend is an entity that can emit formatted log messages.
type Backend interface {
	Name() string
	Debug(message string)
	Info(message string)
	Warn(message string)
	Error(message string)
}

// logger implements our Logger.
type logger struct {
	source string
	debug  bool
}

// logging is our runtime state.
type logging struct {
	sync.Mutex
	level   Level
	active  Backend
	loggers map[string]*logger
}

var state = &logging{
	level:   LevelInfo,
	active:  &fmtBackend{},
	loggers: make(map[string]*logger),
}

// Get returns an existing logger for the source, creating one if needed.
func Get(source string) Logger {
	state.Lock()
	defer state.Unlock()

	source = strings.Trim(source, "[] ")
	if l, ok := state.loggers[source]; ok {
		return l
	}
	l := &logger{source: source}
	state.loggers[source] = l
	return l
}

// NewLogger creates a new logger, getting the existing one if possible.
func NewLogger(source string) Logger {
	return Get(source)
}

// SetLevel sets the lowest unsuppressed message severity.
func SetLevel(level Level) {
	state.Lock()
	defer state.Unlock()
	state.level = level
}

// SetBackend activates the given logger backend.
func SetBackend(b Backend) {
	state.Lock()
	defer state.Unlock()
	state.active = b
}

func (l *logger) passthrough(level Level) bool {
	state.Lock()
	defer state.Unlock()
	return state.level <= level || (level == LevelDebug && l.debug)
}

func (l *logger) format(format string, args ...interface{}) string {
	return "[" + l.source + "] " + fmt.Sprintf(format, args...)
}

// Source returns the source name of the logger.
func (l *logger) Source() string {
	return l.source
}

// Debug emits a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	state.active.Debug(l.format(format, args...))
}

// Info emits an informational message.
func (l *logger) Info(format string, args ...interface{}) {
	if !l.passthrough(LevelInfo) {
		return
	}
	state.active.Info(l.format(format, args...))
}

// Warn emits a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	if !l.passthrough(LevelWarn) {
		return
	}
	state.active.Warn(l.format(format, args...))
}

// Error emits an error message.
func (l *logger) Error(format string, args ...interface{}) {
	if !l.passthrough(LevelError) {
		return
	}
	state.active.Error(l.format(format, args...))
}

// Fatal emits an error message and exits.
func (l *logger) Fatal(format string, args ...interface{}) {
	state.active.Error(l.format(format, args...))
	os.Exit(1)
}

// Panic emits an error message and panics with the same.
func (l *logger) Panic(format string, args ...interface{}) {
	message := l.format(format, args...)
	state.active.Error(message)
	panic(message)
}

// EnableDebug controls debugging for the logger, returning the previous state.
func (l *logger) EnableDebug(enable bool) bool {
	state.Lock()
	defer state.Unlock()
	previous := l.debug
	l.debug = enable
	return previous
}

// DebugEnabled checks if debugging is enabled for the logger.
func (l *logger) DebugEnabled() bool {
	return l.debug
}

//
// fallback fmt backend, using fmt.*Printf
//

type fmtBackend struct{}

var _ Backend = &fmtBackend{}

func (f *fmtBackend) Name() string {
	return "fmt"
}

func (f *fmtBackend) Debug(message string) {
	fmt.Println("D: " + message)
}

func (f *fmtBackend) Info(message string) {
	fmt.Println("I: " + message)
}

func (f *fmtBackend) Warn(message string) {
	fmt.Println("W: " + message)
}

func (f *fmtBackend) Error(message string) {
	fmt.Println("E: " + message)
}
