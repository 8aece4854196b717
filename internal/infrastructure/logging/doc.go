// Package logging provides structured logging for the identity service.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Request-scoped loggers carried in a context.Context
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//
//	ctx = logging.IntoContext(ctx, logger.With("request_id", id))
//	logging.FromContext(ctx, logger).Warn("refresh token reuse")
//
// # Security
//
// Never log secrets, tokens, passwords, or verification codes outside
// development mode.
package logging
