package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

var levelNames = map[LogLevel]string{
	TRACE:    "TRACE",
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARN:     "WARN",
	ERROR:    "ERROR",
	CRITICAL: "CRITICAL",
}

func (l LogLevel) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseLevel maps a flag value such as "debug" or "warning" to a level.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "critical":
		return CRITICAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger writes levelled, timestamped lines to one or more sinks.
type Logger struct {
	*sinkSet
	fields string
}

type sinkSet struct {
	mu       sync.Mutex
	minLevel LogLevel
	sinks    []io.Writer
	file     *os.File
}

// NewLogger logs to w only.
func NewLogger(w io.Writer, minLevel LogLevel) *Logger {
	return &Logger{sinkSet: &sinkSet{minLevel: minLevel, sinks: []io.Writer{w}}}
}

// NewFileLogger appends to filePath and optionally mirrors to stdout.
func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s := &sinkSet{minLevel: minLevel, file: f, sinks: []io.Writer{f}}
	if alsoStdout {
		s.sinks = append(s.sinks, os.Stdout)
	}
	return &Logger{sinkSet: s}, nil
}

// WithRun returns a logger sharing the same sinks and level that prefixes
// every line with the run identifier.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{sinkSet: l.sinkSet, fields: l.fields + "run=" + runID + " "}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.minLevel
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minLevel {
		return
	}

	ts := time.Now().Format(time.RFC3339Nano)
	line := fmt.Sprintf("%s [%s] %s%s\n", ts, level, l.fields, fmt.Sprintf(msg, args...))

	for _, w := range l.sinks {
		_, _ = io.WriteString(w, line)
	}
	if l.file != nil && level >= ERROR {
		_ = l.file.Sync()
	}
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
