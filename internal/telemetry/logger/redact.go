package logger

import (
	"log/slog"
	"strings"
)

// Key fragments whose values are never written to the log.
var sensitiveKeyPatterns = []string{
	"passphrase",
	"password",
	"secret",
	"encryption_key",
	"credential",
}

const redactedValue = "***REDACTED***"

// redactSensitive masks non-empty string values under sensitive keys,
// descending into groups.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if a.Value.String() != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}

// Redact returns the placeholder for a non-empty value and "" otherwise.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	return redactedValue
}
