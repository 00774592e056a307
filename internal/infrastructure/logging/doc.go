// Package logging provides structured logging for poolfleet.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("sender").Info("background sender started", "serial", serial)
//
// Components accept a narrow Logger interface of their own, which *Logger
// satisfies through the embedded *slog.Logger.
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
