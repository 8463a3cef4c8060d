// Package logging provides structured logging for Coachsync Core.
//
// It wraps log/slog with configuration-driven level, format, and output
// selection, plus service/version default fields on every record. Components
// derive scoped loggers with With():
//
//	log := logging.New(cfg.Logging, version)
//	busLog := log.With("component", "mqtt")
package logging
