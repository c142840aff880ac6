package metricsexport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorEmitsEveryDescription(t *testing.T) {
	want := Snapshot{
		TrxCertified: 10,
		TrxFailed:    2,
		ErrorRate:    16.6,
	}
	c := NewCollector(func() Snapshot { return want })

	descCh := make(chan *prometheus.Desc, 32)
	c.Describe(descCh)
	close(descCh)
	count := 0
	for range descCh {
		count++
	}
	assert.Equal(t, len(c.descs), count)

	metricCh := make(chan prometheus.Metric, 32)
	c.Collect(metricCh)
	close(metricCh)

	seen := 0
	for m := range metricCh {
		var d dto.Metric
		require.NoError(t, m.Write(&d))
		seen++
	}
	assert.Equal(t, len(c.descs), seen)
}

func TestCollectorReflectsSourceChanges(t *testing.T) {
	calls := 0
	c := NewCollector(func() Snapshot {
		calls++
		return Snapshot{TrxCertified: uint64(calls)}
	})

	metricCh := make(chan prometheus.Metric, 32)
	c.Collect(metricCh)
	close(metricCh)
	assert.Equal(t, 1, calls)
}
