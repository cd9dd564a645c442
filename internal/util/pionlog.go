package util

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// LoggerFactory hands out pion leveled loggers that write through the pterm
// default logger, so pion internals and our own packages share one sink.
type LoggerFactory struct{}

var _ logging.LoggerFactory = LoggerFactory{}

// NewLogger implements logging.LoggerFactory.
func (LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{scope: scope}
}

// scopedLogger maps pion's five levels onto pterm's. Trace collapses into
// debug; pterm's trace level is noisier than anything pion emits there.
type scopedLogger struct {
	scope string
}

func (l *scopedLogger) line(msg string) string {
	return fmt.Sprintf("%s: %s", l.scope, msg)
}

func (l *scopedLogger) Trace(msg string) { pterm.DefaultLogger.Debug(l.line(msg)) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.line(fmt.Sprintf(format, args...)))
}

func (l *scopedLogger) Debug(msg string) { pterm.DefaultLogger.Debug(l.line(msg)) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(l.line(fmt.Sprintf(format, args...)))
}

func (l *scopedLogger) Info(msg string) { pterm.DefaultLogger.Info(l.line(msg)) }
func (l *scopedLogger) Infof(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(l.line(fmt.Sprintf(format, args...)))
}

func (l *scopedLogger) Warn(msg string) { pterm.DefaultLogger.Warn(l.line(msg)) }
func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(l.line(fmt.Sprintf(format, args...)))
}

func (l *scopedLogger) Error(msg string) { pterm.DefaultLogger.Error(l.line(msg)) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(l.line(fmt.Sprintf(format, args...)))
}
