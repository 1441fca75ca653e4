package config

import "github.com/yndnr/deltamesh-go/internal/telemetry/logger"

// Sanitize returns a copy of cfg with secrets masked, for logging.
func Sanitize(cfg *DaemonConfig) *DaemonConfig {
	sanitized := *cfg
	sanitized.Storage.EncryptionKey = logger.Redact(cfg.Storage.EncryptionKey)
	sanitized.Storage.Passphrase = logger.Redact(cfg.Storage.Passphrase)
	return &sanitized
}
