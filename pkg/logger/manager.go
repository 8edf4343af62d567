// manager.go
package logger

import (
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) hclog() hclog.Level {
	switch l {
	case DEBUG:
		return hclog.Debug
	case WARN:
		return hclog.Warn
	case ERROR:
		return hclog.Error
	default:
		return hclog.Info
	}
}

// ParseLevel maps a textual level to a Level, falling back to INFO.
func ParseLevel(level string) Level {
	switch level {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Config controls how a Manager renders its output.
type Config struct {
	Name   string
	Level  Level
	Output io.Writer
	JSON   bool
}

// Manager wraps an hclog logger. Named children share the parent's level,
// as their hclog loggers do.
type Manager struct {
	level *atomic.Int32
	hl    hclog.Logger
}

func newLevel(level Level) *atomic.Int32 {
	v := new(atomic.Int32)
	v.Store(int32(level))
	return v
}

func NewManager(debug bool) *Manager {
	level := INFO
	if debug {
		level = DEBUG
	}

	return NewManagerWithConfig(Config{
		Name:   "pagealloc",
		Level:  level,
		Output: os.Stderr,
	})
}

func NewManagerWithConfig(cfg Config) *Manager {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	return &Manager{
		level: newLevel(cfg.Level),
		hl: hclog.New(&hclog.LoggerOptions{
			Name:       cfg.Name,
			Level:      cfg.Level.hclog(),
			Output:     cfg.Output,
			JSONFormat: cfg.JSON,
		}),
	}
}

// Discard returns a manager that drops everything. Library packages fall
// back to it when the caller passes a nil manager.
func Discard() *Manager {
	return &Manager{level: newLevel(ERROR), hl: hclog.NewNullLogger()}
}

// OrDiscard returns m, or a discarding manager when m is nil.
func OrDiscard(m *Manager) *Manager {
	if m == nil {
		return Discard()
	}

	return m
}

func (m *Manager) SetLevel(level Level) *Manager {
	m.level.Store(int32(level))
	m.hl.SetLevel(level.hclog())

	return m
}

func (m *Manager) Level() Level {
	return Level(m.level.Load())
}

// Named returns a child manager whose output is prefixed with name.
func (m *Manager) Named(name string) *Manager {
	return &Manager{
		level: m.level,
		hl:    m.hl.Named(name),
	}
}

// HCLog exposes the backing logger for hclog-aware dependencies.
func (m *Manager) HCLog() hclog.Logger {
	return m.hl
}

func (m *Manager) Debug(msg string, args ...interface{}) {
	if m.Level() <= DEBUG {
		m.hl.Debug(msg, args...)
	}
}

func (m *Manager) Info(msg string, args ...interface{}) {
	if m.Level() <= INFO {
		m.hl.Info(msg, args...)
	}
}

func (m *Manager) Warn(msg string, args ...interface{}) {
	if m.Level() <= WARN {
		m.hl.Warn(msg, args...)
	}
}

func (m *Manager) Error(msg string, args ...interface{}) {
	if m.Level() <= ERROR {
		m.hl.Error(msg, args...)
	}
}

// structured logging
type Fields map[string]interface{}

func (m *Manager) WithFields(fields Fields) *Event {
	return &Event{
		manager: m,
		fields:  fields,
	}
}

type Event struct {
	manager *Manager
	fields  Fields
}

// args flattens the fields into hclog key/value pairs in key order.
func (e *Event) args() []interface{} {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, e.fields[k])
	}

	return args
}

func (e *Event) Debug(msg string) {
	e.manager.Debug(msg, e.args()...)
}

func (e *Event) Info(msg string) {
	e.manager.Info(msg, e.args()...)
}

func (e *Event) Warn(msg string) {
	e.manager.Warn(msg, e.args()...)
}

func (e *Event) Error(msg string) {
	e.manager.Error(msg, e.args()...)
}
