package mqttclient

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

// ColorLogger writes one line per entry with the level colored for
// terminals. Color is disabled automatically when w is not a TTY.
type ColorLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  *atomic.Int32
	fields LogFields
	levels map[LogLevel]*color.Color
	keys   *color.Color
}

// NewColorLogger creates a logger writing to w, or to color.Output
// (stdout, Windows-safe) when w is nil.
func NewColorLogger(w io.Writer, level LogLevel) *ColorLogger {
	if w == nil {
		w = color.Output
	}
	lvl := new(atomic.Int32)
	lvl.Store(int32(level))
	return &ColorLogger{
		mu:    &sync.Mutex{},
		out:   w,
		level: lvl,
		levels: map[LogLevel]*color.Color{
			LogLevelDebug: color.New(color.FgMagenta),
			LogLevelInfo:  color.New(color.FgBlue),
			LogLevelWarn:  color.New(color.FgYellow),
			LogLevelError: color.New(color.FgRed, color.Bold),
		},
		keys: color.New(color.FgCyan),
	}
}

// Debug logs a debug message.
func (c *ColorLogger) Debug(msg string, fields LogFields) { c.log(LogLevelDebug, msg, fields) }

// Info logs an info message.
func (c *ColorLogger) Info(msg string, fields LogFields) { c.log(LogLevelInfo, msg, fields) }

// Warn logs a warning message.
func (c *ColorLogger) Warn(msg string, fields LogFields) { c.log(LogLevelWarn, msg, fields) }

// Error logs an error message.
func (c *ColorLogger) Error(msg string, fields LogFields) { c.log(LogLevelError, msg, fields) }

// WithFields returns a logger sharing output and level with c.
func (c *ColorLogger) WithFields(fields LogFields) Logger {
	child := *c
	child.fields = mergeFields(c.fields, fields)
	return &child
}

// Level returns the current log level.
func (c *ColorLogger) Level() LogLevel {
	return LogLevel(c.level.Load())
}

// SetLevel sets the log level.
func (c *ColorLogger) SetLevel(level LogLevel) {
	c.level.Store(int32(level))
}

func (c *ColorLogger) log(level LogLevel, msg string, fields LogFields) {
	if level < c.Level() {
		return
	}

	all := mergeFields(c.fields, fields)
	line := fmt.Sprintf("%s %s %s", time.Now().Format(time.DateTime), c.levels[level].Sprintf("%-5s", level), msg)
	for _, k := range sortedKeys(all) {
		line += " " + c.keys.Sprint(k) + "=" + fmt.Sprint(all[k])
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}
