// Package metric provides Prometheus metrics for DeltaMesh.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: Prometheus registry, sync scheduler metrics and HTTP handler
//   - collector.go: scrape-time collector for client directory statistics
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
