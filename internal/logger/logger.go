// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package logger

import (
	"log"
	"strings"
)

// Logger provides a simple leveled logging interface
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// Level filters log output
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps debug, info, warn, error. Anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type defaultLogger struct {
	prefix string
	level  Level
}

// New creates a logger writing through the standard log package
func New(prefix string, level Level) Logger {
	if prefix != "" && !strings.HasSuffix(prefix, " ") {
		prefix += ": "
	}
	return &defaultLogger{prefix: prefix, level: level}
}

// Named returns a logger whose messages carry an extra component prefix
func Named(l Logger, name string) Logger {
	if d, ok := l.(*defaultLogger); ok {
		return &defaultLogger{prefix: d.prefix + name + ": ", level: d.level}
	}
	return l
}

func (l *defaultLogger) Info(format string, args ...interface{}) {
	l.output(LevelInfo, "[INFO] ", format, args...)
}

func (l *defaultLogger) Warn(format string, args ...interface{}) {
	l.output(LevelWarn, "[WARN] ", format, args...)
}

func (l *defaultLogger) Error(format string, args ...interface{}) {
	l.output(LevelError, "[ERROR] ", format, args...)
}

func (l *defaultLogger) Debug(format string, args ...interface{}) {
	l.output(LevelDebug, "[DEBUG] ", format, args...)
}

func (l *defaultLogger) output(level Level, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	log.Printf(tag+l.prefix+format, args...)
}

type nopLogger struct{}

// Nop returns a logger that discards everything
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Info(format string, args ...interface{})  {}
func (nopLogger) Warn(format string, args ...interface{})  {}
func (nopLogger) Error(format string, args ...interface{}) {}
func (nopLogger) Debug(format string, args ...interface{}) {}
