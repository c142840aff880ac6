// Package metricsexport adapts the engine's hand-rolled atomic counters
// (root package Metrics) onto a prometheus.Collector, exposing status
// counters as real Prometheus exposition instead of a bespoke text
// format: a map[string]*prometheus.Desc built once in the constructor
// (makeDescriptions), Describe walking it to emit every description,
// Collect reading the live source and emitting one MustNewConstMetric
// per description. This package takes a plain Snapshot struct and a
// source closure rather than importing the root package directly, so the
// root package can depend on metricsexport without an import cycle.
package metricsexport

import "github.com/prometheus/client_golang/prometheus"

// Snapshot is the subset of the engine's metrics exposed as Prometheus
// series. Mirrors the field set of the root package's MetricsSnapshot.
type Snapshot struct {
	TrxCertified uint64
	TrxFailed    uint64
	TrxReplayed  uint64

	BytesGcached     uint64
	BuffersAllocated uint64
	BuffersDiscarded uint64
	AllocationErrors uint64

	CertPurgeCount uint64
	CertPurgedTrxs uint64

	AvgCertLatencyNs   uint64
	AvgGcacheLatencyNs uint64

	UptimeNs  uint64
	ErrorRate float64
}

// Source supplies the current Snapshot on demand.
type Source func() Snapshot

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	source Source
	descs  map[string]*prometheus.Desc
}

// NewCollector builds a Collector over source; every metric name carries
// the fixed "wsrep_" prefix.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		descs:  makeDescriptions(),
	}
}

func makeDescriptions() map[string]*prometheus.Desc {
	return map[string]*prometheus.Desc{
		"trx_certified":    prometheus.NewDesc("wsrep_trx_certified_total", "Writesets that passed certification.", nil, nil),
		"trx_failed":       prometheus.NewDesc("wsrep_trx_failed_total", "Writesets that conflicted during certification.", nil, nil),
		"trx_replayed":     prometheus.NewDesc("wsrep_trx_replayed_total", "Writesets replayed after an abort.", nil, nil),
		"bytes_gcached":    prometheus.NewDesc("wsrep_gcache_bytes_total", "Cumulative bytes allocated across all gcache tiers.", nil, nil),
		"buffers_alloc":    prometheus.NewDesc("wsrep_gcache_buffers_allocated_total", "gcache buffers allocated.", nil, nil),
		"buffers_discard":  prometheus.NewDesc("wsrep_gcache_buffers_discarded_total", "gcache buffers reclaimed.", nil, nil),
		"alloc_errors":     prometheus.NewDesc("wsrep_gcache_allocation_errors_total", "gcache allocation failures.", nil, nil),
		"cert_purge_count": prometheus.NewDesc("wsrep_cert_purge_passes_total", "purge_trxs_upto passes performed.", nil, nil),
		"cert_purged_trxs": prometheus.NewDesc("wsrep_cert_purged_trxs_total", "Writesets evicted from the certification index.", nil, nil),
		"cert_latency_ns":  prometheus.NewDesc("wsrep_cert_latency_ns_avg", "Average certification latency in nanoseconds.", nil, nil),
		"gcache_latency_ns": prometheus.NewDesc("wsrep_gcache_latency_ns_avg", "Average gcache allocation latency in nanoseconds.", nil, nil),
		"uptime_seconds":   prometheus.NewDesc("wsrep_uptime_seconds", "Engine uptime in seconds.", nil, nil),
		"error_rate":       prometheus.NewDesc("wsrep_cert_error_rate_percent", "Percentage of certifications that conflicted.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()

	ch <- prometheus.MustNewConstMetric(c.descs["trx_certified"], prometheus.CounterValue, float64(s.TrxCertified))
	ch <- prometheus.MustNewConstMetric(c.descs["trx_failed"], prometheus.CounterValue, float64(s.TrxFailed))
	ch <- prometheus.MustNewConstMetric(c.descs["trx_replayed"], prometheus.CounterValue, float64(s.TrxReplayed))
	ch <- prometheus.MustNewConstMetric(c.descs["bytes_gcached"], prometheus.CounterValue, float64(s.BytesGcached))
	ch <- prometheus.MustNewConstMetric(c.descs["buffers_alloc"], prometheus.CounterValue, float64(s.BuffersAllocated))
	ch <- prometheus.MustNewConstMetric(c.descs["buffers_discard"], prometheus.CounterValue, float64(s.BuffersDiscarded))
	ch <- prometheus.MustNewConstMetric(c.descs["alloc_errors"], prometheus.CounterValue, float64(s.AllocationErrors))
	ch <- prometheus.MustNewConstMetric(c.descs["cert_purge_count"], prometheus.CounterValue, float64(s.CertPurgeCount))
	ch <- prometheus.MustNewConstMetric(c.descs["cert_purged_trxs"], prometheus.CounterValue, float64(s.CertPurgedTrxs))
	ch <- prometheus.MustNewConstMetric(c.descs["cert_latency_ns"], prometheus.GaugeValue, float64(s.AvgCertLatencyNs))
	ch <- prometheus.MustNewConstMetric(c.descs["gcache_latency_ns"], prometheus.GaugeValue, float64(s.AvgGcacheLatencyNs))
	ch <- prometheus.MustNewConstMetric(c.descs["uptime_seconds"], prometheus.GaugeValue, float64(s.UptimeNs)/1e9)
	ch <- prometheus.MustNewConstMetric(c.descs["error_rate"], prometheus.GaugeValue, s.ErrorRate)
}

var _ prometheus.Collector = (*Collector)(nil)
