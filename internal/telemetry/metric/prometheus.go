// Package metric provides Prometheus metrics for DeltaMesh.
package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deltamesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	SyncTicks        *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	ObjectsPersisted prometheus.Counter
	PersistFailures  prometheus.Counter
	BatchSize        prometheus.Histogram
}

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		SyncTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_total",
			Help:      "Number of sync scheduler ticks by result.",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_tick_duration_seconds",
			Help:      "Time spent persisting one batch of dirty objects.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ObjectsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_persisted_total",
			Help:      "Number of objects successfully persisted.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Number of objects whose persistence failed and will be retried.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_objects",
			Help:      "Number of dirty objects handed to the persister per tick.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}

	reg.MustRegister(
		r.SyncTicks,
		r.SyncDuration,
		r.ObjectsPersisted,
		r.PersistFailures,
		r.BatchSize,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler serves the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Prometheus exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// ObserveSyncTick records one scheduler tick.
func (r *Registry) ObserveSyncTick(result string, batch int, d time.Duration) {
	r.SyncTicks.WithLabelValues(result).Inc()
	if batch > 0 {
		r.BatchSize.Observe(float64(batch))
		r.SyncDuration.Observe(d.Seconds())
	}
}

// AddPersisted counts successfully persisted objects.
func (r *Registry) AddPersisted(n int) {
	r.ObjectsPersisted.Add(float64(n))
}

// AddPersistFailures counts objects left dirty by a failed persist.
func (r *Registry) AddPersistFailures(n int) {
	r.PersistFailures.Add(float64(n))
}
