package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/deltamesh-go/internal/storage/memory"
)

// StatsSource provides directory statistics at scrape time.
type StatsSource interface {
	Stats() memory.Stats
}

// Collector reports client directory state on each scrape.
type Collector struct {
	source StatsSource

	objects       *prometheus.Desc
	subscriptions *prometheus.Desc
	clients       *prometheus.Desc
	pinned        *prometheus.Desc
	dirty         *prometheus.Desc
	registrations *prometheus.Desc
	evictions     *prometheus.Desc
	largestShard  *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StatsSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "directory", name), help, nil, nil)
	}
	return &Collector{
		source:        source,
		objects:       desc("objects", "Resident objects."),
		subscriptions: desc("subscriptions", "Client subscriptions across all objects."),
		clients:       desc("clients", "Clients with at least one subscription."),
		pinned:        desc("pinned_objects", "Objects held by at least one pin."),
		dirty:         desc("dirty_objects", "Objects with unpersisted changes."),
		registrations: desc("registrations_total", "Objects added to the directory."),
		evictions:     desc("evictions_total", "Objects removed from the directory."),
		largestShard:  desc("largest_shard_objects", "Objects in the fullest directory shard."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.objects
	ch <- c.subscriptions
	ch <- c.clients
	ch <- c.pinned
	ch <- c.dirty
	ch <- c.registrations
	ch <- c.evictions
	ch <- c.largestShard
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.objects, prometheus.GaugeValue, float64(s.Objects))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(s.Subscriptions))
	ch <- prometheus.MustNewConstMetric(c.clients, prometheus.GaugeValue, float64(s.Clients))
	ch <- prometheus.MustNewConstMetric(c.pinned, prometheus.GaugeValue, float64(s.Pinned))
	ch <- prometheus.MustNewConstMetric(c.dirty, prometheus.GaugeValue, float64(s.Dirty))
	ch <- prometheus.MustNewConstMetric(c.registrations, prometheus.CounterValue, float64(s.Registrations))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.largestShard, prometheus.GaugeValue, float64(s.LargestShard))
}
