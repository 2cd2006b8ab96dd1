// Package strategy composes the TTL cache, the in-flight registry, and the
// retry executor into the fetch strategies used by every resource repository:
// cache-first, network-first, and stale-while-revalidate, plus batched and
// debounced/throttled variants.
package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/cache"
	"github.com/entrega363/kiro2/internal/flight"
	"github.com/entrega363/kiro2/internal/observability"
	"github.com/entrega363/kiro2/internal/retry"
)

// Loader fetches fresh data from the remote service. Loaders are always run
// under the retry executor and deduplicated through the in-flight registry.
type Loader func(ctx context.Context) (any, error)

// Engine implements the fetch strategies over explicitly injected
// collaborators. One engine instance is created at process start and shared
// by every repository.
type Engine struct {
	cache     *cache.TTLCache
	flight    *flight.Registry
	retry     *retry.Executor
	metrics   *observability.Metrics
	collector observability.Collector
	logger    *zap.Logger

	bg sync.WaitGroup
}

// New creates a strategy engine. collector and logger fall back to no-ops.
func New(
	ttlCache *cache.TTLCache,
	registry *flight.Registry,
	executor *retry.Executor,
	metrics *observability.Metrics,
	collector observability.Collector,
	logger *zap.Logger,
) *Engine {
	if collector == nil {
		collector = observability.NopCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cache:     ttlCache,
		flight:    registry,
		retry:     executor,
		metrics:   metrics,
		collector: collector,
		logger:    logger.Named("strategy_engine"),
	}
}

// Cache exposes the underlying cache for pattern invalidation by
// repositories.
func (e *Engine) Cache() *cache.TTLCache {
	return e.cache
}

// CacheFirst returns the cached value when one is valid; otherwise it
// performs a deduplicated, retried load, stores the result, and returns it.
// A load failure propagates to the caller; fallback data is the repository's
// responsibility, not this layer's.
func (e *Engine) CacheFirst(ctx context.Context, key string, loader Loader, cfg retry.Config) (any, error) {
	if value, ok := e.cache.Get(key); ok {
		e.recordHit(key, "cache-first")
		return value, nil
	}
	e.recordMiss(key, "cache-first")
	return e.load(ctx, key, loader, cfg)
}

// NetworkFirst attempts a deduplicated, retried load with a reduced retry
// budget (at most one retry). On success the cache is refreshed. On failure
// any cached value is served regardless of the strategy's usual freshness
// path; with no cached value the failure propagates.
func (e *Engine) NetworkFirst(ctx context.Context, key string, loader Loader, cfg retry.Config) (any, error) {
	if cfg.MaxRetries > 1 {
		cfg.MaxRetries = 1
	}

	value, err := e.load(ctx, key, loader, cfg)
	if err == nil {
		return value, nil
	}

	if cached, ok := e.cache.Get(key); ok {
		e.recordHit(key, "network-first")
		e.logger.Warn("network load failed, serving cached value",
			zap.String("key", key),
			zap.Error(err),
		)
		return cached, nil
	}

	e.recordMiss(key, "network-first")
	return nil, err
}

// StaleWhileRevalidate returns a valid cached value immediately and kicks off
// a detached background load to refresh the cache; background failures are
// logged, never surfaced to the caller. With no cached value it behaves like
// cache-first and blocks on a fresh load. Truly expired entries are not used
// as stale data; the cache's own TTL check governs validity.
func (e *Engine) StaleWhileRevalidate(ctx context.Context, key string, loader Loader, cfg retry.Config) (any, error) {
	if value, ok := e.cache.Get(key); ok {
		e.recordHit(key, "stale-while-revalidate")
		e.revalidate(key, loader, cfg)
		return value, nil
	}
	e.recordMiss(key, "stale-while-revalidate")
	return e.load(ctx, key, loader, cfg)
}

// Wait blocks until all background revalidations have settled. Used on
// shutdown and by tests.
func (e *Engine) Wait() {
	e.bg.Wait()
}

// load performs one deduplicated, retried load and writes the result back
// into the cache before any waiter observes it.
func (e *Engine) load(ctx context.Context, key string, loader Loader, cfg retry.Config) (any, error) {
	value, _, err := e.flight.Do(ctx, key, func(ctx context.Context) (any, error) {
		result, err := e.retry.Execute(ctx, retry.Operation(loader), cfg)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, result)
		return result, nil
	})
	return value, err
}

// revalidate refreshes key in the background, detached from the caller's
// context.
func (e *Engine) revalidate(key string, loader Loader, cfg retry.Config) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()

		if _, err := e.load(context.Background(), key, loader, cfg); err != nil {
			e.collector.Emit(observability.Event{
				Category: observability.CategoryStrategy,
				Message:  "background revalidation failed",
				Data:     map[string]any{"key": key, "error": err.Error()},
			})
			e.logger.Warn("background revalidation failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
}

func (e *Engine) recordHit(key, strategyName string) {
	e.metrics.RecordCacheHit()
	e.collector.Emit(observability.Event{
		Category: observability.CategoryCache,
		Message:  "cache hit",
		Data:     map[string]any{"key": key, "strategy": strategyName},
	})
}

func (e *Engine) recordMiss(key, strategyName string) {
	e.metrics.RecordCacheMiss()
	e.collector.Emit(observability.Event{
		Category: observability.CategoryCache,
		Message:  "cache miss",
		Data:     map[string]any{"key": key, "strategy": strategyName},
	})
}
