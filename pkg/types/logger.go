package types

// Logger is the logging interface used throughout the kit. Components accept
// a Logger at construction time and fall back to a no-op implementation when
// given nil, so embedding applications control all output.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// NopLogger is a Logger that discards everything.
type NopLogger struct{}

// NewNopLogger returns a Logger that discards all output.
func NewNopLogger() Logger { return NopLogger{} }

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// WithField returns the receiver; there is nothing to annotate.
func (l NopLogger) WithField(string, interface{}) Logger { return l }

// WithFields returns the receiver; there is nothing to annotate.
func (l NopLogger) WithFields(map[string]interface{}) Logger { return l }
