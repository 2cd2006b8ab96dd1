package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is one structured observability record: a retry, a cache hit or miss,
// a strategy decision. Events are a write-only side channel; emitting one must
// never block or fail the operation that produced it.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event categories used across the layer.
const (
	CategoryCache    = "cache"
	CategoryRetry    = "retry"
	CategoryStrategy = "strategy"
	CategoryRemote   = "remote"
	CategoryFallback = "fallback"
)

// Collector receives observability events. Implementations must be
// non-blocking.
type Collector interface {
	Emit(event Event)
}

// ZapCollector forwards events to a zap logger through a bounded buffer. When
// the buffer is full the event is dropped and a drop counter incremented;
// the primary operation never waits on the collector.
type ZapCollector struct {
	logger  *zap.Logger
	events  chan Event
	dropped atomic.Int64
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewZapCollector creates a collector draining into the given logger.
func NewZapCollector(logger *zap.Logger, bufferSize int) *ZapCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	c := &ZapCollector{
		logger: logger.Named("events"),
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go c.drain()
	return c
}

// Emit enqueues an event, dropping it if the buffer is full or the collector
// is already closed.
func (c *ZapCollector) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.events <- event:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (c *ZapCollector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops the drain goroutine after flushing buffered events. Close is
// idempotent; events emitted afterwards are counted as dropped.
func (c *ZapCollector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	<-c.done
}

func (c *ZapCollector) drain() {
	defer close(c.done)
	for event := range c.events {
		c.logger.Debug(event.Message,
			zap.Time("timestamp", event.Timestamp),
			zap.String("category", event.Category),
			zap.Any("data", event.Data),
		)
	}
}

// NopCollector discards every event. Useful default for tests.
type NopCollector struct{}

// Emit implements Collector.
func (NopCollector) Emit(Event) {}
