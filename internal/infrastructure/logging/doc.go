// Package logging provides structured logging for the hub.
//
// It wraps log/slog so every entry carries the service name and version,
// and subsystems tag their entries through Component.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("homie").Info("announced", "nodes", 12)
//
// Never log broker passwords or the InfluxDB token.
package logging
