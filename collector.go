package shardq

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports store Status as Prometheus metrics on every scrape.
//
// Example:
//
//	prometheus.MustRegister(shardq.NewCollector(store, "replicator"))
type Collector struct {
	store *Store

	active         *prometheus.Desc
	size           *prometheus.Desc
	capacity       *prometheus.Desc
	critical       *prometheus.Desc
	pendingWatches *prometheus.Desc
	admitted       *prometheus.Desc
	discarded      *prometheus.Desc
	broadcasts     *prometheus.Desc
	serializations *prometheus.Desc
	restartSeqno   *prometheus.Desc
}

// NewCollector creates a collector for store. Namespace defaults to "shardq".
func NewCollector(store *Store, namespace string) *Collector {
	if namespace == "" {
		namespace = "shardq"
	}
	labels := prometheus.Labels{"store": store.ID()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", name), help, variable, labels)
	}
	return &Collector{
		store:          store,
		active:         desc("active_count", "Events resident across all channels"),
		size:           desc("channel_size", "Items in a channel", "channel"),
		capacity:       desc("channel_capacity", "Capacity of each channel"),
		critical:       desc("critical_partition", "Serialized channel, -1 when none"),
		pendingWatches: desc("pending_watches", "Registered watch predicates not yet matched"),
		admitted:       desc("admitted_total", "Total events admitted"),
		discarded:      desc("discarded_total", "Total empty events discarded"),
		broadcasts:     desc("broadcasts_total", "Total control broadcasts", "type"),
		serializations: desc("serializations_total", "Total transitions into critical mode"),
		restartSeqno:   desc("restart_seqno", "Seqno replay restarts from, -1 when unknown"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.size
	ch <- c.capacity
	ch <- c.critical
	ch <- c.pendingWatches
	ch <- c.admitted
	ch <- c.discarded
	ch <- c.broadcasts
	ch <- c.serializations
	ch <- c.restartSeqno
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.store.Status()

	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(st.Active))
	for i, n := range st.Sizes {
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(n), strconv.Itoa(i))
	}
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.MaxSize))
	ch <- prometheus.MustNewConstMetric(c.critical, prometheus.GaugeValue, float64(st.CriticalPartition))
	ch <- prometheus.MustNewConstMetric(c.pendingWatches, prometheus.GaugeValue, float64(st.PendingWatches))
	ch <- prometheus.MustNewConstMetric(c.admitted, prometheus.CounterValue, float64(st.Admitted))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(st.Discarded))
	ch <- prometheus.MustNewConstMetric(c.broadcasts, prometheus.CounterValue, float64(st.Syncs), ControlSync.String())
	ch <- prometheus.MustNewConstMetric(c.broadcasts, prometheus.CounterValue, float64(st.Stops), ControlStop.String())
	ch <- prometheus.MustNewConstMetric(c.serializations, prometheus.CounterValue, float64(st.Serializations))
	ch <- prometheus.MustNewConstMetric(c.restartSeqno, prometheus.GaugeValue, float64(st.RestartSeqno))
}

// Compile-time check
var _ prometheus.Collector = (*Collector)(nil)
