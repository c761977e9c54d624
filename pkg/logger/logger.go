// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// current holds the process-wide logger. Reloads swap it while other
// goroutines are logging, so it is never mutated in place.
var current atomic.Pointer[zerolog.Logger]

func init() {
	current.Store(&zerolog.Logger{})
}

func load() *zerolog.Logger {
	return current.Load()
}

// Initialize sets up the global logger with the specified level
func Initialize(level string) {
	InitializeWithFormat(level, FormatConsole)
}

// InitializeWithFormat sets up the global logger with a level and an output
// format ("console" or "json"). Unknown formats use the console writer.
func InitializeWithFormat(level, format string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(format, FormatJSON) {
		output = os.Stdout
	}

	l := zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Caller().
		Logger()
	current.Store(&l)
}

// SetLevel swaps in a copy of the global logger at the new level. Safe to
// call while other goroutines log.
func SetLevel(level string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return
	}
	l := load().Level(logLevel)
	current.Store(&l)
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "panic":
		return zerolog.PanicLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return load()
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return load().Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return load().Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return load().Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return load().Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return load().Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return load().With()
}

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	l := load().Output(w)
	current.Store(&l)
}
