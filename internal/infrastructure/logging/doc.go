// Package logging provides structured logging for the field relay.
//
// It wraps log/slog so every component logs key-value records with the
// same default fields (service, version) and the same level filter.
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
//	logger := logging.New(cfg.Logging, version).With("agent_id", cfg.Agent.ID)
//	logger.Info("poll complete", "readings", n)
//
// Never log the collector API key or device passwords.
package logging
