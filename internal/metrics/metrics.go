// Package metrics wraps an epoch.Collector's Statistics() snapshot as a
// Prometheus collector, the way this corpus's prysmaticlabs/prysm and
// erigon wrap internal fork-choice/stage-execution counters with
// promauto.NewCounter/NewGauge. The epoch package itself never imports
// Prometheus or emits logging; collaborators that want observability
// sample the statistics through a bridge like this one instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"nexusepoch/pkg/epoch"
)

// Collector adapts an *epoch.Collector's counters into four Prometheus
// counters, refreshed on every Collect call by re-reading Statistics().
type Collector struct {
	source *epoch.Collector

	advances         *prometheus.Desc
	failedAdvances   *prometheus.Desc
	collections      *prometheus.Desc
	objectsCollected *prometheus.Desc
}

// New wraps source. namespace/subsystem follow promauto's usual
// fq-name convention (e.g. "nexusepoch_epoch_advances_total").
func New(source *epoch.Collector, namespace, subsystem string) *Collector {
	return &Collector{
		source: source,
		advances: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "advances_total"),
			"Total number of successful global epoch advancements.",
			nil, nil,
		),
		failedAdvances: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "failed_advances_total"),
			"Total number of refused advancement attempts.",
			nil, nil,
		),
		collections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "collections_total"),
			"Total number of garbage bag drains that ran at least one destructor.",
			nil, nil,
		),
		objectsCollected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "objects_collected_total"),
			"Total number of retirements whose destructors have run.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.advances
	ch <- c.failedAdvances
	ch <- c.collections
	ch <- c.objectsCollected
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Statistics()
	ch <- prometheus.MustNewConstMetric(c.advances, prometheus.CounterValue, float64(stats.Advances))
	ch <- prometheus.MustNewConstMetric(c.failedAdvances, prometheus.CounterValue, float64(stats.FailedAdvances))
	ch <- prometheus.MustNewConstMetric(c.collections, prometheus.CounterValue, float64(stats.Collections))
	ch <- prometheus.MustNewConstMetric(c.objectsCollected, prometheus.CounterValue, float64(stats.ObjectsCollected))
}
