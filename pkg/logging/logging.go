// Package logging adapts charmbracelet/log's structured logger to the
// narrow Debug/Info/Warn/Error seam every internal/ component depends
// on, so each component binary under cmd/ (all but cmd/micbridge)
// shares one logger construction path.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Logger wraps a charmbracelet/log.Logger prefixed with the owning
// component's name.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger writing to stderr, prefixed with component (e.g.
// "se", "iap", "transcriber").
func New(component string) *Logger {
	inner := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          component,
	})
	return &Logger{inner: inner}
}

// SetLevel parses one of "debug", "info", "warn", "error", defaulting to
// info on anything else.
func (l *Logger) SetLevel(level string) {
	switch level {
	case "debug":
		l.inner.SetLevel(charmlog.DebugLevel)
	case "warn":
		l.inner.SetLevel(charmlog.WarnLevel)
	case "error":
		l.inner.SetLevel(charmlog.ErrorLevel)
	default:
		l.inner.SetLevel(charmlog.InfoLevel)
	}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.inner.Error(msg, keyvals...) }
