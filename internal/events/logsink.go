package events

// Logger defines the logging interface used by LogSink.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LogSink writes events to a structured logger at a level matching
// their severity.
type LogSink struct {
	logger Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

// OnLogEvent logs e.
func (s *LogSink) OnLogEvent(e Event) {
	args := []any{"serial", e.Serial, "severity", string(e.Severity)}
	switch e.Severity {
	case SeverityError:
		s.logger.Error(e.Message, args...)
	case SeverityWarning:
		s.logger.Warn(e.Message, args...)
	default:
		s.logger.Info(e.Message, args...)
	}
}
