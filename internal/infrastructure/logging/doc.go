// Package logging provides structured logging for minerctl.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Optional size-rotated log file via lumberjack
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/minerctl.log"
//	    max_size: 10     # megabytes
//	    max_backups: 5
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("miner started", "pid", pid)
//
// The miner's own output goes to the rolling log (see internal/rollinglog),
// not through this logger.
//
// Never log secrets such as the MQTT password, InfluxDB token, or JWT secret.
package logging
