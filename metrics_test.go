package wsrep

import (
	"testing"
	"time"
)

func TestMetricsCertification(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TrxCertified != 0 || snap.TrxFailed != 0 {
		t.Errorf("expected zero initial counters, got %+v", snap)
	}

	m.RecordCertification(1_000_000, false)
	m.RecordCertification(2_000_000, false)
	m.RecordCertification(500_000, true)

	snap = m.Snapshot()
	if snap.TrxCertified != 2 {
		t.Errorf("expected 2 certified, got %d", snap.TrxCertified)
	}
	if snap.TrxFailed != 1 {
		t.Errorf("expected 1 failed, got %d", snap.TrxFailed)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsReplay(t *testing.T) {
	m := NewMetrics()
	m.RecordReplay()
	m.RecordReplay()

	if got := m.TrxReplayed.Load(); got != 2 {
		t.Errorf("expected 2 replays, got %d", got)
	}
}

func TestMetricsAllocation(t *testing.T) {
	m := NewMetrics()

	m.RecordAllocation(1024, 1_000, false)
	m.RecordAllocation(2048, 2_000, false)
	m.RecordAllocation(0, 500, true)

	snap := m.Snapshot()
	if snap.BuffersAllocated != 2 {
		t.Errorf("expected 2 buffers allocated, got %d", snap.BuffersAllocated)
	}
	if snap.BytesGcached != 3072 {
		t.Errorf("expected 3072 bytes gcached, got %d", snap.BytesGcached)
	}
	if snap.AllocationErrors != 1 {
		t.Errorf("expected 1 allocation error, got %d", snap.AllocationErrors)
	}
}

func TestMetricsDiscardAndPurge(t *testing.T) {
	m := NewMetrics()
	m.RecordDiscard(5)
	m.RecordDiscard(3)
	m.RecordPurge(10)
	m.RecordPurge(2)

	snap := m.Snapshot()
	if snap.BuffersDiscarded != 8 {
		t.Errorf("expected 8 buffers discarded, got %d", snap.BuffersDiscarded)
	}
	if snap.CertPurgeCount != 2 {
		t.Errorf("expected 2 purge passes, got %d", snap.CertPurgeCount)
	}
	if snap.CertPurgedTrxs != 12 {
		t.Errorf("expected 12 purged trxs, got %d", snap.CertPurgedTrxs)
	}
}

func TestMetricsLatencyAverages(t *testing.T) {
	m := NewMetrics()

	m.RecordCertification(1_000_000, false)
	m.RecordCertification(2_000_000, false)
	m.RecordAllocation(100, 4_000_000, false)
	m.RecordAllocation(100, 6_000_000, false)

	snap := m.Snapshot()
	if snap.AvgCertLatencyNs != 1_500_000 {
		t.Errorf("expected avg cert latency 1.5ms, got %d ns", snap.AvgCertLatencyNs)
	}
	if snap.AvgGcacheLatencyNs != 5_000_000 {
		t.Errorf("expected avg gcache latency 5ms, got %d ns", snap.AvgGcacheLatencyNs)
	}
}

func TestMetricsHistogramBucketsPopulated(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 50; i++ {
		m.RecordCertification(500_000, false) // 500us
	}
	for i := 0; i < 10; i++ {
		m.RecordCertification(50_000_000, false) // 50ms
	}

	snap := m.Snapshot()
	total := uint64(0)
	for _, c := range snap.CertLatencyHistogram {
		total += c
	}
	if total == 0 {
		t.Error("expected certification histogram to be populated")
	}
	// The 100us bucket (index 2) shouldn't have caught the 500us samples
	// (100us bound is too small); the 1ms bucket (index 3) should.
	if snap.CertLatencyHistogram[3] < 50 {
		t.Errorf("expected at least 50 samples in the 1ms bucket, got %d", snap.CertLatencyHistogram[3])
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2_000_000 {
		t.Errorf("uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordCertification(1_000_000, false)
	m.RecordAllocation(1024, 1_000, false)
	m.RecordDiscard(1)

	snap := m.Snapshot()
	if snap.TrxCertified == 0 {
		t.Error("expected some certifications before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TrxCertified != 0 || snap.BytesGcached != 0 || snap.BuffersDiscarded != 0 {
		t.Errorf("expected all counters zeroed after reset, got %+v", snap)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveCertification(1_000, false)
	observer.ObserveReplay()
	observer.ObserveAllocation(1024, 1_000, false)
	observer.ObserveDiscard(1)
	observer.ObservePurge(1)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveCertification(1_000_000, false)
	metricsObserver.ObserveAllocation(2048, 2_000, false)

	snap := m.Snapshot()
	if snap.TrxCertified != 1 {
		t.Errorf("expected 1 certification from observer, got %d", snap.TrxCertified)
	}
	if snap.BytesGcached != 2048 {
		t.Errorf("expected 2048 bytes gcached from observer, got %d", snap.BytesGcached)
	}
}
