/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package log is a small leveled logger that formats every line as an
// RFC5424 syslog message and fans it out to one or more writers (stderr,
// an optional log file, and whatever else a caller wires in with
// AddWriter). It exists because the two binaries in this module only need
// a thin slice of a general-purpose logging facility: level filtering, a
// couple of output sinks, and a wire format that plays nicely with
// downstream syslog collectors.
package log

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Level orders log severities; a Logger drops anything below its current
// level.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

const (
	callerDepth = 3

	// DefaultID is this package's RFC5424 structured-data ID. The
	// formatter emits no structured data, so lines do not carry it.
	DefaultID = `ilog@1`

	maxAppname  = 48
	maxHostname = 255
	maxMsgID    = 32
)

var (
	ErrNotOpen      = errors.New("log: logger is not open")
	ErrInvalidLevel = errors.New("log: invalid level")
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

func (l Level) valid() bool {
	return l >= OFF && l <= FATAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	case FATAL:
		return rfc5424.User | rfc5424.Emergency
	}
	return rfc5424.User | rfc5424.Debug
}

// LevelFromString parses a config-file log level, case-insensitively.
func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	case "FATAL":
		return FATAL, nil
	}
	return OFF, ErrInvalidLevel
}

// Logger writes leveled, RFC5424-formatted lines to every writer it
// currently holds. Safe for concurrent use.
type Logger struct {
	mtx      sync.Mutex
	writers  []io.WriteCloser
	level    Level
	open     bool
	hostname string
	appname  string
}

// New builds a Logger at level INFO writing to wtr. The hostname/appname
// stamped on every RFC5424 line are guessed from os.Hostname and os.Args.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{writers: []io.WriteCloser{wtr}, level: INFO, open: true}
	l.hostname, _ = os.Hostname()
	if len(l.hostname) > maxHostname {
		l.hostname = l.hostname[:maxHostname]
	}
	if len(os.Args) > 0 {
		exe := filepath.Base(os.Args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		if len(exe) > maxAppname {
			exe = exe[:maxAppname]
		}
		l.appname = exe
	}
	return l
}

// StderrCallback, when non-nil, is handed the log-file writer opened by
// NewStderrLoggerEx so a caller can do something extra with it (e.g. also
// use it as the rotate.FileRotator a caller separately manages).
type StderrCallback func(io.Writer)

// NewStderrLogger builds a Logger on os.Stderr, optionally also writing to
// fileOverride.
func NewStderrLogger(fileOverride string) (*Logger, error) {
	return NewStderrLoggerEx(fileOverride, nil)
}

// NewStderrLoggerEx is NewStderrLogger with an optional callback invoked
// with the opened file writer, if fileOverride is non-empty.
func NewStderrLoggerEx(fileOverride string, cb StderrCallback) (*Logger, error) {
	l := New(nopCloser{os.Stderr})
	if fileOverride != "" {
		fout, err := os.OpenFile(fileOverride, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			return nil, err
		}
		if cb != nil {
			cb(fout)
		}
		if err := l.AddWriter(fout); err != nil {
			fout.Close()
			return nil, err
		}
	}
	return l, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// AddWriter registers an additional writer; every subsequent line is sent
// to it too.
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	if wtr == nil {
		return errors.New("log: nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.open {
		return ErrNotOpen
	}
	l.writers = append(l.writers, wtr)
	return nil
}

// Close closes every writer currently registered.
func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.open {
		return ErrNotOpen
	}
	l.open = false
	for _, w := range l.writers {
		if cerr := w.Close(); cerr != nil {
			err = cerr
		}
	}
	return
}

// SetLevel sets the minimum level that will be written.
func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.level = lvl
	l.mtx.Unlock()
	return nil
}

// SetLevelString is SetLevel via the config-file string form.
func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	return l.SetLevel(lvl)
}

// GetLevel returns the current minimum level.
func (l *Logger) GetLevel() Level {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.level
}

func (l *Logger) Debugf(f string, args ...interface{}) error { return l.outputf(DEBUG, f, args...) }
func (l *Logger) Infof(f string, args ...interface{}) error  { return l.outputf(INFO, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{}) error  { return l.outputf(WARN, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) error { return l.outputf(ERROR, f, args...) }
func (l *Logger) Criticalf(f string, args ...interface{}) error {
	return l.outputf(CRITICAL, f, args...)
}

// Fatal logs at FATAL then exits the process with code -1.
func (l *Logger) Fatal(f string, args ...interface{}) {
	l.FatalCode(-1, f, args...)
}

// FatalCode is Fatal with a caller-chosen exit code.
func (l *Logger) FatalCode(code int, f string, args ...interface{}) {
	l.outputf(FATAL, f, args...)
	os.Exit(code)
}

func (l *Logger) outputf(lvl Level, f string, args ...interface{}) error {
	l.mtx.Lock()
	skip := l.level == OFF || lvl < l.level
	l.mtx.Unlock()
	if skip {
		return nil
	}
	ts := time.Now()
	msg := fmt.Sprintf(f, args...)
	line, err := l.formatRFC5424(ts, lvl, callLoc(callerDepth), msg)
	if err != nil {
		return err
	}
	return l.write(line)
}

func (l *Logger) formatRFC5424(ts time.Time, lvl Level, msgid, msg string) (string, error) {
	l.mtx.Lock()
	hostname, appname := l.hostname, l.appname
	l.mtx.Unlock()
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: ts,
		Hostname:  trimTo(maxHostname, hostname),
		AppName:   trimTo(maxAppname, appname),
		MessageID: trimTo(maxMsgID, filepath.Base(msgid)),
		Message:   []byte(msg),
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (l *Logger) write(line string) (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.open {
		return ErrNotOpen
	}
	for _, w := range l.writers {
		if _, werr := io.WriteString(w, line); werr != nil {
			err = werr
		} else if _, werr := io.WriteString(w, "\n"); werr != nil {
			err = werr
		}
	}
	return
}

// Write implements io.Writer so a Logger can back a standard log.Logger.
func (l *Logger) Write(b []byte) (int, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.open {
		return 0, ErrNotOpen
	}
	for _, w := range l.writers {
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// callLoc returns "file:line" for the caller skip frames up the stack.
func callLoc(skip int) string {
	if _, file, line, ok := runtime.Caller(skip); ok {
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return ""
}

func trimTo(n int, s string) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
