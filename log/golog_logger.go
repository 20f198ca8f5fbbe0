package log

import (
	"github.com/kataras/golog"
)

// GologLogger implements Logger on top of kataras/golog.
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger at info level.
func NewGologLogger(logger *golog.Logger) *GologLogger {
	return NewGologLoggerWithLevel(logger, LogLevelInfo)
}

// NewGologLoggerWithLevel wraps logger and applies level to both sides.
// A nil logger gets a fresh golog.New() with the agentmemory prefix.
func NewGologLoggerWithLevel(logger *golog.Logger, level LogLevel) *GologLogger {
	if logger == nil {
		logger = golog.New()
		logger.SetPrefix("[agentmemory] ")
	}
	l := &GologLogger{logger: logger}
	l.SetLevel(level)
	return l
}

var gologLevels = map[LogLevel]golog.Level{
	LogLevelDebug: golog.DebugLevel,
	LogLevelInfo:  golog.InfoLevel,
	LogLevelWarn:  golog.WarnLevel,
	LogLevelError: golog.ErrorLevel,
	LogLevelNone:  golog.DisableLevel,
}

func (l *GologLogger) logf(level LogLevel, format string, v []any) {
	if l.level > level {
		return
	}
	l.logger.Logf(gologLevels[level], format, v...)
}

func (l *GologLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v) }
func (l *GologLogger) Info(format string, v ...any)  { l.logf(LogLevelInfo, format, v) }
func (l *GologLogger) Warn(format string, v ...any)  { l.logf(LogLevelWarn, format, v) }
func (l *GologLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v) }

// SetLevel sets the level on the wrapper and the underlying golog logger.
func (l *GologLogger) SetLevel(level LogLevel) {
	gl, ok := gologLevels[level]
	if !ok {
		level, gl = LogLevelInfo, golog.InfoLevel
	}
	l.level = level
	l.logger.Level = gl
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}
