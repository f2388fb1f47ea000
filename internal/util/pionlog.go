package util

import (
	"fmt"

	"github.com/pion/logging"
)

// pionLogger forwards pion's internal logs to the pterm-backed helpers.
// pion's Info level is demoted to debug; it is far too chatty for a call CLI.
type pionLogger struct {
	scope string
}

// NewPionLoggerFactory returns a logging.LoggerFactory for pion's SettingEngine.
func NewPionLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}

type pionLoggerFactory struct{}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

func (l *pionLogger) tag(msg string) string { return "pion/" + l.scope + ": " + msg }

func (l *pionLogger) Trace(string)                  {}
func (l *pionLogger) Tracef(string, ...interface{}) {}
func (l *pionLogger) Debug(msg string)              { l.Debugf("%s", msg) }
func (l *pionLogger) Info(msg string)               { l.Infof("%s", msg) }
func (l *pionLogger) Warn(msg string)               { l.Warnf("%s", msg) }
func (l *pionLogger) Error(msg string)              { l.Errorf("%s", msg) }

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.Debugf(format, args...)
}

func (l *pionLogger) Debugf(format string, args ...interface{}) {
	if DebugEnabled() {
		LogDebug("%s", l.tag(fmt.Sprintf(format, args...)))
	}
}

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	LogWarning("%s", l.tag(fmt.Sprintf(format, args...)))
}

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	LogError("%s", l.tag(fmt.Sprintf(format, args...)))
}
