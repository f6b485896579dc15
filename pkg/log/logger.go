// Copyright The NRI Plugins Authors. All Rights Reserved.
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
	"log/slog"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level describes the severity of a log message.
type Level int32

const (
	// LevelDebug is the severity of debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity of informational messages.
	LevelInfo
	// LevelWarn is the severity of warnings.
	LevelWarn
	// LevelError is the severity of errors.
	LevelError
)

// Logger is the interface for producing log messages for a source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message and exits the process.
	Fatal(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})

	// Debugf is an alias for Debug.
	Debugf(format string, args ...interface{})
	// Infof is an alias for Info.
	Infof(format string, args ...interface{})
	// Warnf is an alias for Warn.
	Warnf(format string, args ...interface{})
	// Errorf is an alias for Error.
	Errorf(format string, args ...interface{})
	// Fatalf is an alias for Fatal.
	Fatalf(format string, args ...interface{})

	// Println emits a message in the manner of fmt.Println. This makes
	// a Logger usable as an error logger for HTTP handlers and similar.
	Println(v ...interface{})

	// Block emits a multiline message using the given emitting function.
	Block(fn func(string, ...interface{}), prefix string, format string, args ...interface{})
	// DebugBlock emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock emits a multiline informational message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables or disables debug messages for this source,
	// returning the previous state.
	EnableDebug(state bool) bool
	// DebugEnabled checks if debug messages are enabled for this source.
	DebugEnabled() bool
	// Source returns the source of this Logger.
	Source() string

	// SlogHandler returns an slog.Handler backed by this Logger.
	SlogHandler() slog.Handler
}

// logging is our shared bookkeeping for all Loggers.
type logging struct {
	sync.RWMutex
	level   Level
	prefix  bool
	dbgmap  srcmap
	loggers map[string]logger
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

var (
	// our logging state shared by all loggers
	log = &logging{
		level:   DefaultLevel,
		loggers: make(map[string]logger),
	}
	// our default logger
	deflog = log.get(defaultSource)
)

const (
	// defaultSource is the source of the default Logger.
	defaultSource = "default"
)

// Get returns the Logger for the given source, creating it if necessary.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger creates a Logger for the given source. It is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// SetLevel sets the lowest severity of messages to pass through.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// EnableDebug enables or disables debug messages for the given source,
// returning the previous state.
func EnableDebug(source string, state bool) bool {
	return log.setDebug(source, state)
}

// Flush flushes any pending log messages.
func Flush() {
	klog.Flush()
}

func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()
	if lgr, ok := l.loggers[source]; ok {
		return lgr
	}
	lgr := logger{source: source}
	l.loggers[source] = lgr
	return lgr
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
}

func (l *logging) setPrefix(state bool) {
	l.prefix = state
}

func (l *logging) setDebug(source string, state bool) bool {
	l.Lock()
	defer l.Unlock()
	if l.dbgmap == nil {
		l.dbgmap = make(srcmap)
	}
	prev := l.dbgmap[source]
	l.dbgmap[source] = state
	return prev
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()
	if state, ok := l.dbgmap[source]; ok {
		return state
	}
	if state, ok := l.dbgmap["*"]; ok {
		return state
	}
	return false
}

// passes checks if messages of the given severity pass through. Like the
// severity itself, this is read without locking on the message path.
func (l *logging) passes(level Level) bool {
	return l.level <= level
}

// format produces the final message, tagging it with the source if
// source-prefixing is enabled.
func (l logger) format(format string, args ...interface{}) string {
	if log.prefix && l.source != defaultSource {
		return l.source + ": " + fmt.Sprintf(format, args...)
	}
	return fmt.Sprintf(format, args...)
}

func (l logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() || !log.passes(LevelDebug) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Info(format string, args ...interface{}) {
	if !log.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Warn(format string, args ...interface{}) {
	if !log.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, l.format(format, args...))
}

func (l logger) Error(format string, args ...interface{}) {
	if !log.passes(LevelError) {
		return
	}
	klog.ErrorDepth(1, l.format(format, args...))
}

func (l logger) Fatal(format string, args ...interface{}) {
	klog.ExitDepth(1, l.format(format, args...))
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := l.format(format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (l logger) Debugf(format string, args ...interface{}) {
	if !l.DebugEnabled() || !log.passes(LevelDebug) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Infof(format string, args ...interface{}) {
	if !log.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format(format, args...))
}

func (l logger) Warnf(format string, args ...interface{}) {
	if !log.passes(LevelWarn) {
		return
	}
	klog.WarningDepth(1, l.format(format, args...))
}

func (l logger) Errorf(format string, args ...interface{}) {
	if !log.passes(LevelError) {
		return
	}
	klog.ErrorDepth(1, l.format(format, args...))
}

func (l logger) Fatalf(format string, args ...interface{}) {
	klog.ExitDepth(1, l.format(format, args...))
}

func (l logger) Println(v ...interface{}) {
	if !log.passes(LevelInfo) {
		return
	}
	klog.InfoDepth(1, l.format("%s", strings.TrimSuffix(fmt.Sprintln(v...), "\n")))
}

func (l logger) Block(fn func(string, ...interface{}), prefix string, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		fn("%s%s", prefix, line)
	}
}

func (l logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	l.Block(l.Debug, prefix, format, args...)
}

func (l logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Info, prefix, format, args...)
}

func (l logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Warn, prefix, format, args...)
}

func (l logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.Block(l.Error, prefix, format, args...)
}

func (l logger) EnableDebug(state bool) bool {
	return log.setDebug(l.source, state)
}

func (l logger) DebugEnabled() bool {
	return log.debugEnabled(l.source)
}

func (l logger) Source() string {
	return l.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
