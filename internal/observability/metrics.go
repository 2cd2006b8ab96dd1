// Package observability provides the process-wide metrics accumulator and the
// fire-and-forget event collector consumed by the data access layer.
package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide accumulator mutated by the retry engine and the
// strategy engine on every operation. Counters are atomic so mutation is a
// single step relative to concurrent callers; external observers read a
// consistent snapshot.
//
// Each instance owns its own Prometheus registry so isolated unit tests can
// construct independent accumulators without duplicate-registration panics.
type Metrics struct {
	requests     atomic.Int64
	failures     atomic.Int64
	retries      atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	totalLatency atomic.Int64 // nanoseconds

	registry *prometheus.Registry

	// Prometheus views over the same counters.
	RequestsTotal   *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	CacheHitsTotal  prometheus.Counter
	CacheMissTotal  prometheus.Counter
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a metrics accumulator with the given Prometheus
// namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of remote data requests issued",
		},
		[]string{"operation"},
	)

	failuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of requests that exhausted all attempts",
		},
		[]string{"operation"},
	)

	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		},
	)

	cacheHitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
	)

	cacheMissTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Remote request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		requestsTotal,
		failuresTotal,
		retriesTotal,
		cacheHitsTotal,
		cacheMissTotal,
		requestDuration,
	)

	return &Metrics{
		registry:        registry,
		RequestsTotal:   requestsTotal,
		FailuresTotal:   failuresTotal,
		RetriesTotal:    retriesTotal,
		CacheHitsTotal:  cacheHitsTotal,
		CacheMissTotal:  cacheMissTotal,
		RequestDuration: requestDuration,
	}
}

// Registry exposes the Prometheus registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one settled request and its end-to-end latency.
// Requests that end in terminal failure are recorded here too, alongside
// RecordFailure.
func (m *Metrics) RecordRequest(operation string, latency time.Duration) {
	m.requests.Add(1)
	m.totalLatency.Add(int64(latency))
	m.RequestsTotal.WithLabelValues(operation).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordFailure records a terminal failure (all attempts exhausted).
func (m *Metrics) RecordFailure(operation string) {
	m.failures.Add(1)
	m.FailuresTotal.WithLabelValues(operation).Inc()
}

// RecordRetry records a single retry attempt.
func (m *Metrics) RecordRetry() {
	m.retries.Add(1)
	m.RetriesTotal.Inc()
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
	m.CacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
	m.CacheMissTotal.Inc()
}

// Snapshot holds a point-in-time view of the accumulator.
type Snapshot struct {
	Requests       int64
	Failures       int64
	Retries        int64
	CacheHits      int64
	CacheMisses    int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Requests:     m.requests.Load(),
		Failures:     m.failures.Load(),
		Retries:      m.retries.Load(),
		CacheHits:    m.cacheHits.Load(),
		CacheMisses:  m.cacheMisses.Load(),
		TotalLatency: time.Duration(m.totalLatency.Load()),
	}
	if s.Requests > 0 {
		s.AverageLatency = s.TotalLatency / time.Duration(s.Requests)
	}
	return s
}
