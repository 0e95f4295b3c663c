package mqttclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// LogLevel is a severity threshold. Messages below the logger's level are
// dropped; LogLevelNone drops everything.
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelNone
)

var logLevelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(logLevelNames) {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}

// ParseLogLevel parses "debug", "info", "warn", "error" or "none".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	default:
		return LogLevelNone, fmt.Errorf("unknown log level %q", s)
	}
}

// LogFields are the structured fields of one log entry.
type LogFields map[string]any

// Logger is the structured logger the client writes to. The client calls it
// from several goroutines.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields returns a child logger that adds fields to every entry.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything. It is the default logger.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(_ string, _ LogFields)   {}
func (n *NoOpLogger) Info(_ string, _ LogFields)    {}
func (n *NoOpLogger) Warn(_ string, _ LogFields)    {}
func (n *NoOpLogger) Error(_ string, _ LogFields)   {}
func (n *NoOpLogger) WithFields(_ LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel               { return LogLevelNone }
func (n *NoOpLogger) SetLevel(_ LogLevel)           {}

// StdLogger writes through the standard library log package.
type StdLogger struct {
	logger *log.Logger
	level  *atomic.Int32
	fields LogFields
}

// NewStdLogger writes "[LEVEL] msg k=v ..." lines to w, or to stderr when w
// is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(level))
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  lvl,
	}
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.log(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.log(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.log(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.log(LogLevelError, msg, fields) }

// WithFields shares the level with the parent, so SetLevel on either
// affects both.
func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{
		logger: s.logger,
		level:  s.level,
		fields: mergeFields(s.fields, fields),
	}
}

func (s *StdLogger) Level() LogLevel {
	return LogLevel(s.level.Load())
}

func (s *StdLogger) SetLevel(level LogLevel) {
	s.level.Store(int32(level))
}

func (s *StdLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < s.Level() {
		return
	}
	all := mergeFields(s.fields, fields)
	if len(all) == 0 {
		s.logger.Printf("[%s] %s", level, msg)
		return
	}
	s.logger.Printf("[%s] %s %s", level, msg, formatFields(all))
}

// SlogLogger forwards to a log/slog logger.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogLogger wraps l. A nil l uses slog.Default().
func NewSlogLogger(l *slog.Logger, level LogLevel) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	lv := new(slog.LevelVar)
	s := &SlogLogger{logger: l, level: lv}
	s.SetLevel(level)
	return s
}

func (s *SlogLogger) Debug(msg string, fields LogFields) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields LogFields)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields LogFields)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields LogFields) { s.log(slog.LevelError, msg, fields) }

func (s *SlogLogger) WithFields(fields LogFields) Logger {
	return &SlogLogger{logger: s.logger.With(fieldsToArgs(fields)...), level: s.level}
}

func (s *SlogLogger) Level() LogLevel {
	switch l := s.level.Level(); {
	case l <= slog.LevelDebug:
		return LogLevelDebug
	case l <= slog.LevelInfo:
		return LogLevelInfo
	case l <= slog.LevelWarn:
		return LogLevelWarn
	case l <= slog.LevelError:
		return LogLevelError
	default:
		return LogLevelNone
	}
}

func (s *SlogLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		s.level.Set(slog.LevelDebug)
	case LogLevelInfo:
		s.level.Set(slog.LevelInfo)
	case LogLevelWarn:
		s.level.Set(slog.LevelWarn)
	case LogLevelError:
		s.level.Set(slog.LevelError)
	default:
		s.level.Set(slog.LevelError + 4)
	}
}

func (s *SlogLogger) log(level slog.Level, msg string, fields LogFields) {
	if level < s.level.Level() {
		return
	}
	s.logger.Log(context.Background(), level, msg, fieldsToArgs(fields)...)
}

func mergeFields(base, extra LogFields) LogFields {
	if len(base) == 0 {
		return extra
	}
	if len(extra) == 0 {
		return base
	}
	out := maps.Clone(base)
	maps.Copy(out, extra)
	return out
}

func sortedKeys(fields LogFields) []string {
	return slices.Sorted(maps.Keys(fields))
}

// formatFields renders fields as "k=v" pairs in key order.
func formatFields(fields LogFields) string {
	var b strings.Builder
	for i, k := range sortedKeys(fields) {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, fields[k])
	}
	return b.String()
}

func fieldsToArgs(fields LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for _, k := range sortedKeys(fields) {
		args = append(args, k, fields[k])
	}
	return args
}

// Field names used in the client's log entries.
const (
	LogFieldClientID   = "client_id"
	LogFieldServer     = "server"
	LogFieldEpoch      = "epoch"
	LogFieldAttempt    = "attempt"
	LogFieldDelay      = "delay"
	LogFieldDuration   = "duration"
	LogFieldTopic      = "topic"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldQoS        = "qos"
	LogFieldReasonCode = "reason_code"
	LogFieldError      = "error"
)
