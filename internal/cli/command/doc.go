// Package command defines the deltamesh command line.
//
//   - serve: run a node from a configuration file
//   - dump: list the records persisted in a data directory
//   - status, inspect, flush: query a running node over its admin API
//   - config: show or validate the effective configuration
//   - version: print build information
package command
