// Package retry implements the retry/backoff/timeout engine that wraps every
// remote operation issued by the data access layer.
package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	kerrors "github.com/entrega363/kiro2/internal/errors"
	"github.com/entrega363/kiro2/internal/observability"
)

// Config controls one retried execution.
type Config struct {
	MaxRetries    int           // retries after the first attempt; attempts = MaxRetries+1
	BaseDelay     time.Duration // delay before the first retry
	BackoffFactor float64       // multiplier applied per attempt
	MaxDelay      time.Duration // cap on any single delay
	Timeout       time.Duration // per-attempt budget; 0 disables the timeout race
	Context       string        // diagnostic label carried by terminal failures
}

// DefaultConfig returns the standard retry budget for read operations.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Second,
		Timeout:       8 * time.Second,
		Context:       "operation",
	}
}

// WithMaxRetries returns a copy of the config with a different retry budget.
func (c Config) WithMaxRetries(n int) Config {
	c.MaxRetries = n
	return c
}

// WithContext returns a copy of the config with a different diagnostic label.
func (c Config) WithContext(label string) Config {
	c.Context = label
	return c
}

// Operation is the unit of work executed under the retry policy. The result
// of an attempt that loses the timeout race is discarded.
type Operation func(ctx context.Context) (any, error)

// Executor runs operations with per-attempt timeout and exponential backoff.
// It records every outcome in the metrics accumulator and emits retry events
// to the observability collector.
type Executor struct {
	metrics   *observability.Metrics
	collector observability.Collector
	logger    *zap.Logger
}

// NewExecutor creates an executor. metrics may not be nil; collector and
// logger fall back to no-ops.
func NewExecutor(metrics *observability.Metrics, collector observability.Collector, logger *zap.Logger) *Executor {
	if collector == nil {
		collector = observability.NopCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		metrics:   metrics,
		collector: collector,
		logger:    logger.Named("retry_executor"),
	}
}

// Execute runs op under cfg. Attempts run 1..MaxRetries+1; each attempt races
// op against the per-attempt timeout. On success the result is returned
// immediately and latency plus retry count are recorded. On exhausting all
// attempts a terminal failure carrying the last error and the context label
// is returned; the sequence is recorded as one completed request and one
// failure, never as another retry.
func (e *Executor) Execute(ctx context.Context, op Operation, cfg Config) (any, error) {
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}

	start := time.Now()
	attempts := cfg.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, kerrors.Transport("CONTEXT_CANCELLED", "context cancelled before attempt").
				WithOperation(cfg.Context).
				WithAttempts(attempt - 1).
				WithCause(err)
		}

		value, err := e.runAttempt(ctx, op, cfg.Timeout)
		if err == nil {
			latency := time.Since(start)
			e.metrics.RecordRequest(cfg.Context, latency)
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					zap.String("operation", cfg.Context),
					zap.Int("attempt", attempt),
					zap.Duration("latency", latency),
				)
			}
			return value, nil
		}

		lastErr = err

		// Configuration trouble is fatal; do not burn the retry budget.
		if kerrors.IsConfiguration(err) {
			break
		}

		if attempt == attempts || !kerrors.IsRetryable(err) {
			break
		}

		delay := Delay(attempt, cfg)
		e.metrics.RecordRetry()
		e.collector.Emit(observability.Event{
			Category: observability.CategoryRetry,
			Message:  "retrying operation",
			Data: map[string]any{
				"operation": cfg.Context,
				"attempt":   attempt,
				"delay":     delay.String(),
				"error":     err.Error(),
			},
		})
		e.logger.Warn("retrying operation",
			zap.String("operation", cfg.Context),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, kerrors.Transport("CONTEXT_CANCELLED", "context cancelled during retry delay").
				WithOperation(cfg.Context).
				WithAttempts(attempt).
				WithCause(ctx.Err())
		}
	}

	// A failed sequence is still a completed request; requests therefore
	// counts every settled operation and failures never exceeds it.
	e.metrics.RecordRequest(cfg.Context, time.Since(start))
	e.metrics.RecordFailure(cfg.Context)
	return nil, kerrors.Transport("RETRIES_EXHAUSTED", "operation failed after all attempts").
		WithOperation(cfg.Context).
		WithAttempts(attempts).
		WithCause(lastErr)
}

// runAttempt races op against the per-attempt timeout. If the timer fires
// first the attempt fails with a timeout error; the operation's eventual
// result is discarded. The attempt context is cancelled so a cooperative
// operation can stop early, but correctness does not depend on it.
func (e *Executor) runAttempt(ctx context.Context, op Operation, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptResult struct {
		value any
		err   error
	}

	done := make(chan attemptResult, 1)
	go func() {
		value, err := op(attemptCtx)
		done <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, kerrors.Transport("CONTEXT_CANCELLED", "caller context cancelled").WithCause(ctx.Err())
		}
		return nil, kerrors.Timeout("ATTEMPT_TIMEOUT", "attempt exceeded per-attempt budget").WithCause(attemptCtx.Err())
	}
}

// Delay computes the backoff delay after the given attempt (1-based):
// min(BaseDelay * BackoffFactor^(attempt-1), MaxDelay). Non-decreasing in
// attempt and never above MaxDelay.
func Delay(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(cfg.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if capped := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && delay > capped {
		delay = capped
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
