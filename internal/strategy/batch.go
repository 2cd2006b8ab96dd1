package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/retry"
)

// BatchConfig controls a batched load.
type BatchConfig struct {
	BatchSize       int           // items loaded concurrently per group
	InterBatchDelay time.Duration // pause inserted between groups
	Retry           retry.Config  // per-item retry policy
}

// ItemLoader loads a single batch item.
type ItemLoader func(ctx context.Context, item string) (any, error)

// BatchLoad partitions items into fixed-size groups, loads each group's items
// concurrently (each wrapped individually in the retry executor), and inserts
// InterBatchDelay between groups. A failing item does not abort its sibling
// batch; its result is omitted and the batch continues. Successful results
// are returned in item order.
func (e *Engine) BatchLoad(ctx context.Context, items []string, loader ItemLoader, cfg BatchConfig) []any {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	// Indexed by item so ordering survives concurrent completion.
	results := make([]any, len(items))
	loaded := make([]bool, len(items))

	for start := 0; start < len(items); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()

				item := items[idx]
				itemCfg := cfg.Retry.WithContext(cfg.Retry.Context + ":" + item)
				value, err := e.retry.Execute(ctx, func(ctx context.Context) (any, error) {
					return loader(ctx, item)
				}, itemCfg)
				if err != nil {
					e.logger.Warn("batch item failed",
						zap.String("item", item),
						zap.Error(err),
					)
					return
				}
				results[idx] = value
				loaded[idx] = true
			}(i)
		}
		wg.Wait()

		if end < len(items) && cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(cfg.InterBatchDelay):
			case <-ctx.Done():
				return compact(results, loaded)
			}
		}
	}

	return compact(results, loaded)
}

// compact drops the slots of failed items, preserving order.
func compact(results []any, loaded []bool) []any {
	out := make([]any, 0, len(results))
	for i, ok := range loaded {
		if ok {
			out = append(out, results[i])
		}
	}
	return out
}
