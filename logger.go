package roomkit

import "log/slog"

// Logger defines the interface for lifecycle logging.
// The manager logs every classification decision, orchestration phase and
// recovery iteration through this interface using structured key-value
// pairs, so embedding SDKs can control how lifecycle logs appear.
//
// The variadic arguments are key-value pairs, compatible with popular
// structured logging libraries like slog, logrus and zap:
//
//	logger.Debug("channel state changed", "contributor", name, "state", state)
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps the given slog logger. A nil logger wraps slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// NoopLogger discards all log output. It is the default when no logger is
// supplied.
type NoopLogger struct{}

func (NoopLogger) Info(msg string, args ...any)  {}
func (NoopLogger) Error(msg string, args ...any) {}
func (NoopLogger) Warn(msg string, args ...any)  {}
func (NoopLogger) Debug(msg string, args ...any) {}
