// Package logging provides structured logging for the sensor relay.
//
// It wraps Go's standard log/slog package so every component logs with the
// same handler, level and default fields (service, version).
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
//	relayLog := logger.With("component", "relay")
//	relayLog.Info("device connected", "mac", mac)
//
// # Security
//
// Never log home tokens. Log auth.Fingerprint(token) instead.
package logging
