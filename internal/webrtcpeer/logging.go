package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace is below slog.LevelDebug; pion's trace output is only emitted
// when the handler is configured this low.
const LevelTrace = slog.LevelDebug - 4

// LoggerFactory routes pion's scoped loggers into slog.
type LoggerFactory struct {
	logger *slog.Logger
}

var _ logging.LoggerFactory = LoggerFactory{}

func NewLoggerFactory(logger *slog.Logger) LoggerFactory {
	return LoggerFactory{logger: logger}
}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{l: f.logger.With("component", "pion", "scope", scope)}
}

type leveledLogger struct {
	l *slog.Logger
}

func (l leveledLogger) log(level slog.Level, msg string) {
	ctx := context.Background()
	if !l.l.Enabled(ctx, level) {
		return
	}
	l.l.Log(ctx, level, msg)
}

func (l leveledLogger) logf(level slog.Level, format string, args ...any) {
	if !l.l.Enabled(context.Background(), level) {
		return
	}
	l.log(level, fmt.Sprintf(format, args...))
}

func (l leveledLogger) Trace(msg string)                  { l.log(LevelTrace, msg) }
func (l leveledLogger) Tracef(format string, args ...any) { l.logf(LevelTrace, format, args...) }
func (l leveledLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l leveledLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l leveledLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l leveledLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l leveledLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l leveledLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l leveledLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l leveledLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
