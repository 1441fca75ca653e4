// Package config defines the deltamesh daemon configuration.
//
//   - spec.go: DaemonConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking of secrets for logging
//
// Configuration is loaded through internal/infra/confloader from a YAML
// file, DELTAMESH_ environment variables and command-line flags.
package config
