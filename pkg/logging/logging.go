// Package logging provides a zap-backed implementation of the types.Logger
// interface the rest of the kit logs through. Applications that already have
// their own logger can implement types.Logger directly and skip this package.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cecil-the-coder/key-health-kit/pkg/types"
)

// zapLogger adapts a *zap.SugaredLogger to types.Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a console logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func NewLogger(level string) types.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	zapLevel := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zapLevel = parsed
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel,
	)

	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// Wrap adapts an existing zap sugared logger to types.Logger.
func Wrap(sugar *zap.SugaredLogger) types.Logger {
	return &zapLogger{sugar: sugar}
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...interface{}) { l.sugar.Fatalw(msg, fields...) }

// WithField returns a logger annotated with one field.
func (l *zapLogger) WithField(key string, value interface{}) types.Logger {
	return &zapLogger{sugar: l.sugar.With(key, value)}
}

// WithFields returns a logger annotated with several fields.
func (l *zapLogger) WithFields(fields map[string]interface{}) types.Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(args...)}
}
