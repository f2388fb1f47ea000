// Package util provides shared logging and statistics helpers.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// DebugEnabled reports whether debug messages are currently printed.
func DebugEnabled() bool {
	return pterm.DefaultLogger.Level <= pterm.LogLevelDebug
}

// Prefixed returns a logger that prepends a fixed tag (e.g. "[call 42]") to
// every message.
func Prefixed(prefix string) Logger {
	return Logger{prefix: prefix}
}

// Logger is a tagged view over the leveled logging functions.
type Logger struct {
	prefix string
}

// tag prepends the prefix as an argument, so it is never parsed as a format.
func (l Logger) tag(format string, args []interface{}) (string, []interface{}) {
	return "%s " + format, append([]interface{}{l.prefix}, args...)
}

func (l Logger) Debug(format string, args ...interface{}) {
	f, a := l.tag(format, args)
	LogDebug(f, a...)
}

func (l Logger) Info(format string, args ...interface{}) {
	f, a := l.tag(format, args)
	LogInfo(f, a...)
}

func (l Logger) Success(format string, args ...interface{}) {
	f, a := l.tag(format, args)
	LogSuccess(f, a...)
}

func (l Logger) Warning(format string, args ...interface{}) {
	f, a := l.tag(format, args)
	LogWarning(f, a...)
}

func (l Logger) Error(format string, args ...interface{}) {
	f, a := l.tag(format, args)
	LogError(f, a...)
}
