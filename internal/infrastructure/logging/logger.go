package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
)

// ServiceName is attached to every record as the "service" attribute.
const ServiceName = "poolfleet"

// Logger is a *slog.Logger whose records all carry the service name and
// build version. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg. Output "stderr" selects standard error;
// anything else logs to standard output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter is New with an explicit destination, mainly for tests.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	h := newHandler(w, cfg.Format, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	base := slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)
	return &Logger{Logger: base}
}

// newHandler picks the text handler for format "text" and JSON otherwise.
func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel accepts the slog level names in any case plus "warning".
// Unknown or empty values mean info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child tagged component=name. Each subsystem gets one
// at startup.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the bootstrap logger used until the config file is read.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}
