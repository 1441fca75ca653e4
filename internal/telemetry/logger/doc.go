// Package logger provides structured logging for DeltaMesh.
//
// It wraps log/slog:
//
//   - logger.go: handler setup, dynamic level, global default
//   - context.go: context-carried loggers tagged with object and client ids
//   - redact.go: masking of secret configuration values
//
// Library packages accept a *slog.Logger; Logger.Slog bridges the two.
package logger
