// Package logging provides structured logging for lifxd.
//
// It wraps log/slog so every component shares one handler:
//
//   - JSON output for production, text for development
//   - service and version attributes on every record
//   - level filtering (debug, info, warn, error)
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("gateway started", "bind", cfg.Gateway.Bind)
//
// Never log the secret key or bearer tokens.
package logging
