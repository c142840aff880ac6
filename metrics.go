package wsrep

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing, shared by both the
// certification and gcache allocation histograms.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the
// replication engine: certification outcomes, gcache allocation traffic,
// and the pruning activity both subsystems drive.
type Metrics struct {
	// Certification counters
	TrxCertified atomic.Uint64 // writesets that passed certification
	TrxFailed    atomic.Uint64 // writesets that conflicted
	TrxReplayed  atomic.Uint64 // writesets that had to replay

	// gcache allocation counters
	BytesGcached     atomic.Uint64 // cumulative bytes allocated across all tiers
	BuffersAllocated atomic.Uint64
	BuffersDiscarded atomic.Uint64 // buffers reclaimed by SeqnoRelease/DiscardFront
	AllocationErrors atomic.Uint64

	// Purge activity on the certification index
	CertPurgeCount  atomic.Uint64 // number of purge_trxs_upto passes
	CertPurgedTrxs  atomic.Uint64 // total writesets evicted from the index

	// Certification latency histogram (cumulative counts per bucket)
	CertLatencyNs      atomic.Uint64
	CertLatencyOpCount atomic.Uint64
	CertLatencyBuckets [numLatencyBuckets]atomic.Uint64

	// gcache allocation latency histogram
	GcacheLatencyNs      atomic.Uint64
	GcacheLatencyOpCount atomic.Uint64
	GcacheLatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Engine lifecycle
	StartTime atomic.Int64 // engine start timestamp (UnixNano)
	StopTime  atomic.Int64 // engine stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCertification records the outcome of one AppendTrx call.
func (m *Metrics) RecordCertification(latencyNs uint64, conflict bool) {
	if conflict {
		m.TrxFailed.Add(1)
	} else {
		m.TrxCertified.Add(1)
	}
	m.CertLatencyNs.Add(latencyNs)
	m.CertLatencyOpCount.Add(1)
	addToHistogram(&m.CertLatencyBuckets, latencyNs)
}

// RecordReplay records a writeset that had to be replayed after a
// certification conflict was resolved in its favor.
func (m *Metrics) RecordReplay() {
	m.TrxReplayed.Add(1)
}

// RecordAllocation records one gcache Malloc call.
func (m *Metrics) RecordAllocation(bytes uint64, latencyNs uint64, err bool) {
	if err {
		m.AllocationErrors.Add(1)
	} else {
		m.BuffersAllocated.Add(1)
		m.BytesGcached.Add(bytes)
	}
	m.GcacheLatencyNs.Add(latencyNs)
	m.GcacheLatencyOpCount.Add(1)
	addToHistogram(&m.GcacheLatencyBuckets, latencyNs)
}

// RecordDiscard records buffers reclaimed by SeqnoRelease or DiscardFront.
func (m *Metrics) RecordDiscard(count uint64) {
	m.BuffersDiscarded.Add(count)
}

// RecordPurge records one purge_trxs_upto-style pass over the
// certification index.
func (m *Metrics) RecordPurge(trxsEvicted uint64) {
	m.CertPurgeCount.Add(1)
	m.CertPurgedTrxs.Add(trxsEvicted)
}

func addToHistogram(buckets *[numLatencyBuckets]atomic.Uint64, latencyNs uint64) {
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			buckets[i].Add(1)
		}
	}
}

// Stop marks the engine as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
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

	CertLatencyHistogram   [numLatencyBuckets]uint64
	GcacheLatencyHistogram [numLatencyBuckets]uint64

	UptimeNs  uint64
	ErrorRate float64 // percentage of certifications that conflicted
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TrxCertified:     m.TrxCertified.Load(),
		TrxFailed:        m.TrxFailed.Load(),
		TrxReplayed:      m.TrxReplayed.Load(),
		BytesGcached:     m.BytesGcached.Load(),
		BuffersAllocated: m.BuffersAllocated.Load(),
		BuffersDiscarded: m.BuffersDiscarded.Load(),
		AllocationErrors: m.AllocationErrors.Load(),
		CertPurgeCount:   m.CertPurgeCount.Load(),
		CertPurgedTrxs:   m.CertPurgedTrxs.Load(),
	}

	if n := m.CertLatencyOpCount.Load(); n > 0 {
		snap.AvgCertLatencyNs = m.CertLatencyNs.Load() / n
	}
	if n := m.GcacheLatencyOpCount.Load(); n > 0 {
		snap.AvgGcacheLatencyNs = m.GcacheLatencyNs.Load() / n
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.CertLatencyHistogram[i] = m.CertLatencyBuckets[i].Load()
		snap.GcacheLatencyHistogram[i] = m.GcacheLatencyBuckets[i].Load()
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	total := snap.TrxCertified + snap.TrxFailed
	if total > 0 {
		snap.ErrorRate = float64(snap.TrxFailed) / float64(total) * 100.0
	}

	return snap
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.TrxCertified.Store(0)
	m.TrxFailed.Store(0)
	m.TrxReplayed.Store(0)
	m.BytesGcached.Store(0)
	m.BuffersAllocated.Store(0)
	m.BuffersDiscarded.Store(0)
	m.AllocationErrors.Store(0)
	m.CertPurgeCount.Store(0)
	m.CertPurgedTrxs.Store(0)
	m.CertLatencyNs.Store(0)
	m.CertLatencyOpCount.Store(0)
	m.GcacheLatencyNs.Store(0)
	m.GcacheLatencyOpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.CertLatencyBuckets[i].Store(0)
		m.GcacheLatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, mirrored onto Metrics by
// MetricsObserver and left as a no-op by NoOpObserver for hosts that don't
// care about observability.
type Observer interface {
	ObserveCertification(latencyNs uint64, conflict bool)
	ObserveReplay()
	ObserveAllocation(bytes uint64, latencyNs uint64, err bool)
	ObserveDiscard(count uint64)
	ObservePurge(trxsEvicted uint64)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCertification(uint64, bool)     {}
func (NoOpObserver) ObserveReplay()                        {}
func (NoOpObserver) ObserveAllocation(uint64, uint64, bool) {}
func (NoOpObserver) ObserveDiscard(uint64)                  {}
func (NoOpObserver) ObservePurge(uint64)                    {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCertification(latencyNs uint64, conflict bool) {
	o.metrics.RecordCertification(latencyNs, conflict)
}

func (o *MetricsObserver) ObserveReplay() {
	o.metrics.RecordReplay()
}

func (o *MetricsObserver) ObserveAllocation(bytes uint64, latencyNs uint64, err bool) {
	o.metrics.RecordAllocation(bytes, latencyNs, err)
}

func (o *MetricsObserver) ObserveDiscard(count uint64) {
	o.metrics.RecordDiscard(count)
}

func (o *MetricsObserver) ObservePurge(trxsEvicted uint64) {
	o.metrics.RecordPurge(trxsEvicted)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
