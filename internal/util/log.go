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

// Leveled logging functions backed by the pterm default logger.
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

// DebugEnabled reports whether debug output is currently shown.
func DebugEnabled() bool {
	return pterm.DefaultLogger.Level <= pterm.LogLevelDebug
}

// SessionLog prefixes every line with the session's pair hash, so that the
// interleaved output of several rooms stays readable.
type SessionLog struct {
	id uint32
}

// NewSessionLog returns a logger for the session identified by room and pair.
func NewSessionLog(room, a, b string) SessionLog {
	return SessionLog{id: PairID(room, a, b)}
}

func (l SessionLog) Debug(format string, args ...interface{}) {
	LogDebug("[%08x] %s", l.id, fmt.Sprintf(format, args...))
}

func (l SessionLog) Info(format string, args ...interface{}) {
	LogInfo("[%08x] %s", l.id, fmt.Sprintf(format, args...))
}

func (l SessionLog) Warning(format string, args ...interface{}) {
	LogWarning("[%08x] %s", l.id, fmt.Sprintf(format, args...))
}

func (l SessionLog) Error(format string, args ...interface{}) {
	LogError("[%08x] %s", l.id, fmt.Sprintf(format, args...))
}
