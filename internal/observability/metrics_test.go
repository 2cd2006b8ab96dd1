package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_EmptyAccumulator(t *testing.T) {
	m := NewMetrics("kiro2")

	s := m.Snapshot()
	assert.Zero(t, s.Requests)
	assert.Zero(t, s.Failures)
	assert.Zero(t, s.AverageLatency)
}

func TestSnapshot_AverageLatency(t *testing.T) {
	m := NewMetrics("kiro2")

	m.RecordRequest("load:services", 100*time.Millisecond)
	m.RecordRequest("load:services", 300*time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, 400*time.Millisecond, s.TotalLatency)
	assert.Equal(t, 200*time.Millisecond, s.AverageLatency)
}

func TestRecord_AllCounters(t *testing.T) {
	m := NewMetrics("kiro2")

	m.RecordRequest("load:services", time.Millisecond)
	m.RecordFailure("load:services")
	m.RecordRetry()
	m.RecordRetry()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.Requests)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, int64(2), s.Retries)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
}

func TestPrometheusViews_TrackTheSameCounters(t *testing.T) {
	m := NewMetrics("kiro2")

	m.RecordRequest("load:services", time.Millisecond)
	m.RecordRequest("load:gallery", time.Millisecond)
	m.RecordRetry()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("load:services")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("load:gallery")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RetriesTotal))
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// Two accumulators with the same namespace must not collide.
	a := NewMetrics("kiro2")
	b := NewMetrics("kiro2")

	a.RecordCacheHit()
	assert.Equal(t, int64(1), a.Snapshot().CacheHits)
	assert.Equal(t, int64(0), b.Snapshot().CacheHits)
	require.NotSame(t, a.Registry(), b.Registry())
}

func TestSnapshot_ConcurrentMutation(t *testing.T) {
	m := NewMetrics("kiro2")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordRequest("op", time.Microsecond)
				m.RecordRetry()
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	assert.Equal(t, int64(1000), s.Requests)
	assert.Equal(t, int64(1000), s.Retries)
}
