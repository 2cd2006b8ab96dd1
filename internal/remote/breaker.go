package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	kerrors "github.com/entrega363/kiro2/internal/errors"
)

// BreakerConfig holds circuit breaker tuning for the remote service.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed through while half-open
	Interval         time.Duration // window before the closed-state counters reset
	Timeout          time.Duration // open duration before probing half-open
	FailureThreshold float64       // failure ratio that trips the circuit
	MinRequests      uint32        // requests required before evaluating the ratio
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerService decorates a DataService with a circuit breaker so a
// persistently failing backend is cut off instead of absorbing every
// caller's full retry budget. An open circuit surfaces as a retryable
// transport failure without touching the network.
type BreakerService struct {
	inner  DataService
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewBreakerService wraps inner with a circuit breaker.
func NewBreakerService(inner DataService, config BreakerConfig, logger *zap.Logger) *BreakerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("remote_breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Validation and not-found outcomes are the caller's problem,
			// not evidence of a degraded backend.
			if err == nil || kerrors.IsValidation(err) || kerrors.TypeOf(err) == kerrors.ErrorTypeNotFound {
				return true
			}
			return false
		},
	})

	return &BreakerService{inner: inner, cb: cb, logger: log}
}

func (b *BreakerService) execute(op string, fn func() (any, error)) (any, error) {
	value, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, kerrors.Transport("CIRCUIT_OPEN", "remote service circuit is open").
				WithOperation(op).
				WithCause(err)
		}
		return nil, err
	}
	return value, nil
}

// List implements DataService.
func (b *BreakerService) List(ctx context.Context, resource string, query ListQuery) ([]Record, error) {
	value, err := b.execute("list:"+resource, func() (any, error) {
		return b.inner.List(ctx, resource, query)
	})
	if err != nil {
		return nil, err
	}
	return value.([]Record), nil
}

// Insert implements DataService.
func (b *BreakerService) Insert(ctx context.Context, resource string, record Record) (Record, error) {
	value, err := b.execute("insert:"+resource, func() (any, error) {
		return b.inner.Insert(ctx, resource, record)
	})
	if err != nil {
		return nil, err
	}
	return value.(Record), nil
}

// Update implements DataService.
func (b *BreakerService) Update(ctx context.Context, resource, id string, patch Record) (Record, error) {
	value, err := b.execute("update:"+resource, func() (any, error) {
		return b.inner.Update(ctx, resource, id, patch)
	})
	if err != nil {
		return nil, err
	}
	return value.(Record), nil
}

// Delete implements DataService.
func (b *BreakerService) Delete(ctx context.Context, resource, id string) error {
	_, err := b.execute("delete:"+resource, func() (any, error) {
		return nil, b.inner.Delete(ctx, resource, id)
	})
	return err
}

// Upload implements DataService.
func (b *BreakerService) Upload(ctx context.Context, bucket, path string, data []byte) (*UploadResult, error) {
	value, err := b.execute("upload:"+bucket, func() (any, error) {
		return b.inner.Upload(ctx, bucket, path, data)
	})
	if err != nil {
		return nil, err
	}
	return value.(*UploadResult), nil
}

// Remove implements DataService.
func (b *BreakerService) Remove(ctx context.Context, bucket, path string) error {
	_, err := b.execute("remove:"+bucket, func() (any, error) {
		return nil, b.inner.Remove(ctx, bucket, path)
	})
	return err
}
