// Package log implements pkg/interfaces/log.Logger on top of zap,
// grounded on the reference node's infrastructure/log package: own the
// interface, inject the implementation, no package-level singleton.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	logiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/log"
)

type zapLogger struct {
	z *zap.Logger
}

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to "info".
func New(level string) logiface.Logger {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(level))

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() logiface.Logger {
	return &zapLogger{z: zap.NewNop()}
}

func toZapFields(fields []logiface.Field) []zap.Field {
	zf := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		zf = append(zf, zap.Any(f.Key, f.Value))
	}
	return zf
}

func (l *zapLogger) Debug(msg string, fields ...logiface.Field) {
	l.z.Debug(msg, toZapFields(fields)...)
}

func (l *zapLogger) Info(msg string, fields ...logiface.Field) {
	l.z.Info(msg, toZapFields(fields)...)
}

func (l *zapLogger) Warn(msg string, fields ...logiface.Field) {
	l.z.Warn(msg, toZapFields(fields)...)
}

func (l *zapLogger) Error(msg string, fields ...logiface.Field) {
	l.z.Error(msg, toZapFields(fields)...)
}

func (l *zapLogger) With(fields ...logiface.Field) logiface.Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...)}
}
