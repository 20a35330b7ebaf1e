// Package log defines the logging contract the core depends on. The
// concrete implementation (internal/core/infrastructure/log) wraps
// go.uber.org/zap; nothing outside that package imports zap directly.
package log

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field inline at the call site, e.g. log.F("intentId", id).
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the structured logging contract used throughout the gateway.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always includes the given fields.
	With(fields ...Field) Logger
}
