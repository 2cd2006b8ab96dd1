package remote

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/entrega363/kiro2/internal/errors"
)

// flakyService fails every call with the configured error.
type flakyService struct {
	calls atomic.Int64
	err   error
}

func (f *flakyService) List(ctx context.Context, resource string, query ListQuery) ([]Record, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []Record{{"id": "1"}}, nil
}

func (f *flakyService) Insert(ctx context.Context, resource string, record Record) (Record, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return record, nil
}

func (f *flakyService) Update(ctx context.Context, resource, id string, patch Record) (Record, error) {
	f.calls.Add(1)
	return patch, f.err
}

func (f *flakyService) Delete(ctx context.Context, resource, id string) error {
	f.calls.Add(1)
	return f.err
}

func (f *flakyService) Upload(ctx context.Context, bucket, path string, data []byte) (*UploadResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &UploadResult{Path: path}, nil
}

func (f *flakyService) Remove(ctx context.Context, bucket, path string) error {
	f.calls.Add(1)
	return f.err
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      2,
	}
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	inner := &flakyService{}
	svc := NewBreakerService(inner, testBreakerConfig(), nil)

	records, err := svc.List(context.Background(), "services", ListQuery{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	inner := &flakyService{err: kerrors.Transport("DOWN", "unreachable")}
	svc := NewBreakerService(inner, testBreakerConfig(), nil)

	ctx := context.Background()

	_, err := svc.List(ctx, "services", ListQuery{})
	require.Error(t, err)
	_, err = svc.List(ctx, "services", ListQuery{})
	require.Error(t, err)

	// The circuit is now open; the third call must not reach the backend.
	_, err = svc.List(ctx, "services", ListQuery{})
	require.Error(t, err)

	var kerr *kerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "CIRCUIT_OPEN", kerr.Code)
	assert.True(t, kerr.Retryable)
	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestBreaker_ValidationFailuresDoNotTrip(t *testing.T) {
	inner := &flakyService{err: kerrors.Validation("RECORD_INVALID", "bad record")}
	svc := NewBreakerService(inner, testBreakerConfig(), nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := svc.List(ctx, "services", ListQuery{})
		require.Error(t, err)
	}

	// Every call reached the backend; the circuit never opened.
	assert.Equal(t, int64(5), inner.calls.Load())
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	inner := &flakyService{err: kerrors.NotFound("NO_SUCH_RECORD", "missing")}
	svc := NewBreakerService(inner, testBreakerConfig(), nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.Error(t, svc.Delete(ctx, "services", "1"))
	}
	assert.Equal(t, int64(5), inner.calls.Load())
}

func TestBreaker_CoversWriteAndStorageOperations(t *testing.T) {
	inner := &flakyService{err: kerrors.Transport("DOWN", "unreachable")}
	svc := NewBreakerService(inner, testBreakerConfig(), nil)

	ctx := context.Background()
	_, err := svc.Insert(ctx, "bookings", Record{})
	require.Error(t, err)
	err = svc.Remove(ctx, "site-images", "a.jpg")
	require.Error(t, err)

	_, err = svc.Upload(ctx, "site-images", "b.jpg", []byte("x"))
	require.Error(t, err)

	var kerr *kerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "CIRCUIT_OPEN", kerr.Code)
	assert.Equal(t, int64(2), inner.calls.Load())
}
