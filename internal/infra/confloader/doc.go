// Package confloader loads layered configuration with koanf.
//
// Priority (highest to lowest):
//
//  1. Maps loaded with LoadMap (command-line flags, tests)
//  2. Environment variables (DELTAMESH_ prefix)
//  3. The YAML configuration file
//  4. Values already present in the target struct
//
// Watcher reports writes to the configuration file so callers can
// reload it at runtime.
package confloader
