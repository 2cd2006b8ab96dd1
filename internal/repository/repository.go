// Package repository implements the per-resource façade over the strategy
// engine: cache-key construction, record validation, built-in default
// fallback with degraded-mode signalling, and write paths with cache
// invalidation and a durable offline queue for creates.
package repository

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/cache"
	kerrors "github.com/entrega363/kiro2/internal/errors"
	"github.com/entrega363/kiro2/internal/fallback"
	"github.com/entrega363/kiro2/internal/notify"
	"github.com/entrega363/kiro2/internal/observability"
	"github.com/entrega363/kiro2/internal/remote"
	"github.com/entrega363/kiro2/internal/retry"
	"github.com/entrega363/kiro2/internal/strategy"
)

// Validator checks one record. A rejected record is dropped from the result;
// it never fails the whole fetch and is never retried.
type Validator func(remote.Record) error

// Definition parameterizes a resource repository: the repeated per-resource
// load/cache/fallback pattern generalized into data.
type Definition struct {
	Name     string // logical resource name; prefixes every cache key
	Table    string // remote table
	Query    remote.ListQuery
	Defaults []remote.Record // served when everything else fails
	Validate Validator       // nil accepts every record
	Retry    retry.Config
}

// Deps are the shared collaborators injected into every repository. One set
// is constructed at process start and passed by reference.
type Deps struct {
	Engine    *strategy.Engine
	Executor  *retry.Executor
	Service   remote.DataService
	Fallback  *fallback.Store
	Notifier  *notify.Notifier
	Collector observability.Collector
	Logger    *zap.Logger
}

// ResourceRepository serves one logical resource through the strategy engine.
// Read paths never surface a failure: the caller always receives fresh data,
// cached data, or the built-in defaults, with degraded state signalled
// through the notifier.
type ResourceRepository struct {
	def      Definition
	engine   *strategy.Engine
	executor *retry.Executor
	svc      remote.DataService
	queue    *fallback.Store
	notifier *notify.Notifier

	collector observability.Collector
	logger    *zap.Logger

	degraded atomic.Bool
	retryCfg atomic.Pointer[retry.Config]
}

// New creates a repository for the given resource definition.
func New(def Definition, deps Deps) *ResourceRepository {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	collector := deps.Collector
	if collector == nil {
		collector = observability.NopCollector{}
	}
	r := &ResourceRepository{
		def:       def,
		engine:    deps.Engine,
		executor:  deps.Executor,
		svc:       deps.Service,
		queue:     deps.Fallback,
		notifier:  deps.Notifier,
		collector: collector,
		logger:    logger.Named(def.Name + "_repository"),
	}
	r.retryCfg.Store(&def.Retry)
	return r
}

// SetRetryConfig replaces the retry budget used by subsequent operations.
// Called when runtime tunables are reloaded; in-flight operations finish
// under the budget they started with.
func (r *ResourceRepository) SetRetryConfig(cfg retry.Config) {
	r.retryCfg.Store(&cfg)
}

func (r *ResourceRepository) retryConfig() retry.Config {
	return *r.retryCfg.Load()
}

// Name returns the logical resource name.
func (r *ResourceRepository) Name() string {
	return r.def.Name
}

// Degraded reports whether the repository is currently serving fallback data.
func (r *ResourceRepository) Degraded() bool {
	return r.degraded.Load()
}

// Load fetches the resource under cache-first semantics. On any unrecoverable
// failure the built-in defaults are returned and a degraded-mode notice is
// published; no failure reaches the caller.
func (r *ResourceRepository) Load(ctx context.Context, params map[string]any) []remote.Record {
	key := cache.Key(r.def.Name, params)
	cfg := r.retryConfig().WithContext("load:" + r.def.Name)

	value, err := r.engine.CacheFirst(ctx, key, r.loader(params), cfg)
	if err != nil {
		return r.serveFallback(err)
	}
	return value.([]remote.Record)
}

// InvalidateAndReload clears this resource's cache entries and forces a fresh
// network-first load. Like Load, it reduces failure to the built-in defaults.
func (r *ResourceRepository) InvalidateAndReload(ctx context.Context, params map[string]any) []remote.Record {
	r.engine.Cache().Invalidate(r.def.Name)

	key := cache.Key(r.def.Name, params)
	cfg := r.retryConfig().WithContext("reload:" + r.def.Name)

	value, err := r.engine.NetworkFirst(ctx, key, r.loader(params), cfg)
	if err != nil {
		return r.serveFallback(err)
	}
	return value.([]remote.Record)
}

// Create writes a new record. On success the resource's cache entries are
// invalidated. When retries are exhausted the record is queued in the durable
// fallback store under a generated protocol number, the protocol is returned
// alongside the failure, and a warning notice is published.
func (r *ResourceRepository) Create(ctx context.Context, record remote.Record) (remote.Record, string, error) {
	if r.def.Validate != nil {
		if err := r.def.Validate(record); err != nil {
			return nil, "", err
		}
	}

	cfg := r.retryConfig().WithContext("create:" + r.def.Name)
	value, err := r.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return r.svc.Insert(ctx, r.def.Table, record)
	}, cfg)
	if err == nil {
		r.engine.Cache().Invalidate(r.def.Name)
		r.markHealthy()
		return value.(remote.Record), "", nil
	}

	protocol := uuid.NewString()
	if r.queue != nil {
		if qErr := r.queue.Enqueue(fallback.QueuedWrite{
			Protocol: protocol,
			Resource: r.def.Name,
			Record:   record,
		}); qErr != nil {
			r.logger.Error("failed to queue offline write", zap.Error(qErr))
			protocol = ""
		}
	} else {
		protocol = ""
	}

	r.collector.Emit(observability.Event{
		Category: observability.CategoryFallback,
		Message:  "create queued for reconciliation",
		Data:     map[string]any{"resource": r.def.Name, "protocol": protocol},
	})
	if protocol != "" {
		r.notifier.Publish(notify.KindWarning, fmt.Sprintf(
			"could not reach the server; your %s request was saved under protocol %s", r.def.Name, protocol))
	}

	return nil, protocol, err
}

// Update patches an existing record and invalidates the resource's cache
// entries. Exhausted retries surface the failure to the caller.
func (r *ResourceRepository) Update(ctx context.Context, id string, patch remote.Record) (remote.Record, error) {
	cfg := r.retryConfig().WithContext("update:" + r.def.Name)
	value, err := r.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return r.svc.Update(ctx, r.def.Table, id, patch)
	}, cfg)
	if err != nil {
		return nil, err
	}
	r.engine.Cache().Invalidate(r.def.Name)
	r.markHealthy()
	return value.(remote.Record), nil
}

// Delete removes a record and invalidates the resource's cache entries.
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	cfg := r.retryConfig().WithContext("delete:" + r.def.Name)
	_, err := r.executor.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, r.svc.Delete(ctx, r.def.Table, id)
	}, cfg)
	if err != nil {
		return err
	}
	r.engine.Cache().Invalidate(r.def.Name)
	r.markHealthy()
	return nil
}

// loader builds the strategy loader for one query-parameter combination. The
// raw response is filtered through the validator; malformed records are
// dropped individually without aborting the fetch.
func (r *ResourceRepository) loader(params map[string]any) strategy.Loader {
	return func(ctx context.Context) (any, error) {
		query := r.def.Query
		if len(params) > 0 {
			filters := make(map[string]string, len(query.Filters)+len(params))
			for k, v := range query.Filters {
				filters[k] = v
			}
			for k, v := range params {
				filters[k] = fmt.Sprintf("%v", v)
			}
			query.Filters = filters
		}

		records, err := r.svc.List(ctx, r.def.Table, query)
		if err != nil {
			return nil, err
		}

		valid := records
		if r.def.Validate != nil {
			valid = make([]remote.Record, 0, len(records))
			rejected := 0
			for _, rec := range records {
				if vErr := r.def.Validate(rec); vErr != nil {
					rejected++
					r.logger.Warn("dropping malformed record",
						zap.String("resource", r.def.Name),
						zap.String("id", rec.ID()),
						zap.Error(vErr),
					)
					continue
				}
				valid = append(valid, rec)
			}
			if rejected > 0 {
				r.collector.Emit(observability.Event{
					Category: observability.CategoryStrategy,
					Message:  "records rejected by validator",
					Data:     map[string]any{"resource": r.def.Name, "rejected": rejected},
				})
			}
			// A non-empty response with nothing valid left is unrecoverable
			// for this fetch, not a retryable network condition.
			if len(records) > 0 && len(valid) == 0 {
				return nil, kerrors.Validation("ALL_RECORDS_REJECTED", "validator rejected every record").
					WithResource(r.def.Name)
			}
		}

		r.markHealthy()
		return valid, nil
	}
}

// serveFallback substitutes the built-in defaults and signals degraded mode.
// The notice is published once per degradation episode.
func (r *ResourceRepository) serveFallback(cause error) []remote.Record {
	if r.degraded.CompareAndSwap(false, true) {
		r.notifier.Publish(notify.KindWarning, fmt.Sprintf(
			"showing built-in %s data; the server could not be reached", r.def.Name))
	}

	r.collector.Emit(observability.Event{
		Category: observability.CategoryFallback,
		Message:  "serving built-in default records",
		Data:     map[string]any{"resource": r.def.Name, "error": cause.Error()},
	})
	r.logger.Warn("serving built-in default records",
		zap.String("resource", r.def.Name),
		zap.Error(cause),
	)

	defaults := make([]remote.Record, len(r.def.Defaults))
	copy(defaults, r.def.Defaults)
	return defaults
}

// markHealthy clears degraded mode after a successful remote interaction.
func (r *ResourceRepository) markHealthy() {
	if r.degraded.CompareAndSwap(true, false) {
		r.notifier.Publish(notify.KindInfo, fmt.Sprintf("%s data is live again", r.def.Name))
	}
}
