// Package logging writes one JSON object per line, correlated with the active
// trace and tagged with the relay's delivery identifiers.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/austindbirch/hookrelay/internal/tracing"
)

// Level orders log severities; entries below a logger's minimum are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLevel maps a LOG_LEVEL value to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is a single structured line under construction
type LogEntry struct {
	Time        time.Time      `json:"time"`
	Level       string         `json:"level"`
	Message     string         `json:"msg"`
	Service     string         `json:"service,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	DeliveryID  string         `json:"delivery_id,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Attempt     int            `json:"attempt,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`

	logger *Logger
}

type Logger struct {
	service string
	min     Level

	mu  sync.Mutex
	out io.Writer
}

// New returns a logger for service writing to stdout at the LOG_LEVEL threshold
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

func NewWithWriter(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{service: service, min: ParseLevel(os.Getenv("LOG_LEVEL")), out: w}
}

// Discard returns a logger that writes nothing
func Discard() *Logger {
	return &Logger{out: io.Discard, min: LevelFatal + 1}
}

func (l *Logger) Service() string { return l.service }

// SetLevel changes the minimum level written
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.min = level
	l.mu.Unlock()
}

func (l *Logger) enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.min
}

func (l *Logger) newEntry() *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		Fields:  map[string]any{},
		logger:  l,
	}
}

// WithContext starts an entry carrying the trace id of ctx's span, if any
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.newEntry()
	e.TraceID = tracing.GetTraceID(ctx)
	return e
}

func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	return l.newEntry().WithFields(fields)
}

// Plain starts an entry with no trace correlation
func (l *Logger) Plain() *LogEntry {
	return l.newEntry()
}

func (e *LogEntry) WithTraceID(traceID string) *LogEntry {
	e.TraceID = traceID
	return e
}

func (e *LogEntry) WithOwner(ownerID string) *LogEntry {
	e.OwnerID = ownerID
	return e
}

func (e *LogEntry) WithEvent(eventID string) *LogEntry {
	e.EventID = eventID
	return e
}

func (e *LogEntry) WithDelivery(deliveryID string) *LogEntry {
	e.DeliveryID = deliveryID
	return e
}

func (e *LogEntry) WithDestination(url string) *LogEntry {
	e.Destination = url
	return e
}

// WithAttempt records the 1-based attempt number
func (e *LogEntry) WithAttempt(n int) *LogEntry {
	e.Attempt = n
	return e
}

func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[key] = value
	return e
}

func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError stores err's message under "error"; nil is ignored
func (e *LogEntry) WithError(err error) *LogEntry {
	if err == nil {
		return e
	}
	return e.WithField("error", err.Error())
}

func (e *LogEntry) Debug(msg string) { e.write(LevelDebug, msg) }
func (e *LogEntry) Info(msg string)  { e.write(LevelInfo, msg) }
func (e *LogEntry) Warn(msg string)  { e.write(LevelWarn, msg) }
func (e *LogEntry) Error(msg string) { e.write(LevelError, msg) }

// Fatal writes the entry regardless of level and exits with status 1
func (e *LogEntry) Fatal(msg string) {
	e.write(LevelFatal, msg)
	os.Exit(1)
}

func (e *LogEntry) write(level Level, msg string) {
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	if level < LevelFatal && !l.enabled(level) {
		return
	}

	e.Level = level.String()
	e.Message = msg
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		// Unencodable field values still produce a line.
		data = fmt.Appendf(nil, `{"time":%q,"level":%q,"msg":%q,"service":%q,"log_error":%q}`,
			e.Time.Format(time.RFC3339Nano), e.Level, msg, e.Service, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

var defaultLogger = New("hookrelay")

// WithContext starts an entry on the process-wide logger
func WithContext(ctx context.Context) *LogEntry { return defaultLogger.WithContext(ctx) }

func WithFields(fields map[string]any) *LogEntry { return defaultLogger.WithFields(fields) }

func Plain() *LogEntry { return defaultLogger.Plain() }

// SetDefaultService renames the process-wide logger's service
func SetDefaultService(service string) {
	defaultLogger.mu.Lock()
	defaultLogger.service = service
	defaultLogger.mu.Unlock()
}
