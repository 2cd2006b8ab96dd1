// Package flight provides single-flight request deduplication: concurrent
// callers for the same key await one shared load instead of issuing duplicate
// work.
package flight

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/entrega363/kiro2/internal/observability"
)

// Registry tracks operations currently executing per key. The first caller
// for a key starts the load; callers arriving while it is outstanding await
// the same shared result. The key is removed from the registry when the load
// settles, success or failure, so a later call starts a fresh load.
type Registry struct {
	group     singleflight.Group
	active    atomic.Int64
	deduped   atomic.Int64
	collector observability.Collector
	logger    *zap.Logger
}

// NewRegistry creates a registry. collector and logger fall back to no-ops.
func NewRegistry(collector observability.Collector, logger *zap.Logger) *Registry {
	if collector == nil {
		collector = observability.NopCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		collector: collector,
		logger:    logger.Named("inflight_registry"),
	}
}

// Do executes loader under key, deduplicating concurrent calls. At most one
// underlying load runs per key; every caller that joined while it was in
// flight observes the identical outcome. shared reports whether this caller
// received a result produced by another caller's load.
func (r *Registry) Do(ctx context.Context, key string, loader func(ctx context.Context) (any, error)) (value any, shared bool, err error) {
	r.active.Add(1)
	defer r.active.Add(-1)

	// The group reports shared=true for the initiating caller too; executed
	// distinguishes the caller whose load actually ran from those that joined.
	executed := false
	value, err, shared = r.group.Do(key, func() (any, error) {
		executed = true
		return loader(ctx)
	})

	if !executed {
		r.deduped.Add(1)
		r.collector.Emit(observability.Event{
			Category: observability.CategoryStrategy,
			Message:  "request joined in-flight load",
			Data:     map[string]any{"key": key},
		})
	}

	return value, shared, err
}

// Forget drops any in-flight record for key so the next call starts a new
// load instead of joining the current one.
func (r *Registry) Forget(key string) {
	r.group.Forget(key)
}

// Deduped returns how many calls were served by joining another caller's
// load.
func (r *Registry) Deduped() int64 {
	return r.deduped.Load()
}
