// Package logger is a structured logger over zerolog. Error records can be
// aggregated by a collector and optionally shipped to a topic.
package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// callerSkip points zerolog's caller field past emit and the level method.
const callerSkip = 4

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

// Logger is safe for concurrent use. Children created with With share the
// parent's error sink, so a collector attached later reaches them too.
type Logger struct {
	zl   zerolog.Logger
	sink *errorSink
}

type errorSink struct {
	mu sync.RWMutex
	c  *LogCollector
}

func (s *errorSink) get() *LogCollector {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.c
}

func (s *errorSink) swap(c *LogCollector) {
	s.mu.Lock()
	old := s.c
	s.c = c
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: tf}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(callerSkip).Logger()
	return &Logger{zl: zl, sink: &errorSink{}}, nil
}

func openOutput(dst string) (io.Writer, error) {
	switch dst {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(dst, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Nop discards everything and never collects.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ctx = ctx.Str(f.Key, v)
		case error:
			ctx = ctx.AnErr(f.Key, v)
		default:
			ctx = ctx.Interface(f.Key, v)
		}
	}
	return &Logger{zl: ctx.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field) { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field) { l.emit(l.zl.Warn(), msg, fields) }

func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	if c := l.sink.get(); c != nil {
		c.AddLog("error", msg, fieldMap(fields), callerOf(1))
	}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.apply(ev)
	}
	ev.Msg(msg)
}

// AddCollector starts aggregating error records, replacing any previous
// collector.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.sink == nil {
		return
	}
	l.sink.swap(NewLogCollector(cfg))
}

// ShipErrors makes the collector publish each flushed batch to topic. A
// collector with default settings is created when none is attached.
func (l *Logger) ShipErrors(topic string, p Publisher) {
	if l.sink == nil {
		return
	}
	if c := l.sink.get(); c != nil {
		c.SetPublisher(topic, p)
		return
	}
	l.sink.swap(NewLogCollector(&CollectionConfig{Topic: topic, Publisher: p}))
}

// RemoveCollector flushes and detaches the collector.
func (l *Logger) RemoveCollector() {
	if l.sink != nil {
		l.sink.swap(nil)
	}
}

// RecentErrors returns the last flushed batch plus pending records.
func (l *Logger) RecentErrors() []AggregatedLogEntry {
	if c := l.sink.get(); c != nil {
		return c.Recent()
	}
	return nil
}

// callerOf names the function skip frames above its caller.
func callerOf(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	if i := strings.LastIndex(file, "MarketGuard/"); i >= 0 {
		file = file[i+len("MarketGuard/"):]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func fieldMap(fields []Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		v := f.Value
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		m[f.Key] = v
	}
	return m
}
