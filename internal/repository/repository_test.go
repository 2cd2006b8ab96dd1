package repository

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrega363/kiro2/internal/cache"
	kerrors "github.com/entrega363/kiro2/internal/errors"
	"github.com/entrega363/kiro2/internal/fallback"
	"github.com/entrega363/kiro2/internal/flight"
	"github.com/entrega363/kiro2/internal/notify"
	"github.com/entrega363/kiro2/internal/observability"
	"github.com/entrega363/kiro2/internal/remote"
	"github.com/entrega363/kiro2/internal/retry"
	"github.com/entrega363/kiro2/internal/strategy"
)

// fakeService is a scriptable remote.DataService.
type fakeService struct {
	listFn   func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error)
	insertFn func(ctx context.Context, resource string, record remote.Record) (remote.Record, error)
	updateFn func(ctx context.Context, resource, id string, patch remote.Record) (remote.Record, error)
	deleteFn func(ctx context.Context, resource, id string) error

	listCalls   atomic.Int64
	insertCalls atomic.Int64
}

func (f *fakeService) List(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
	f.listCalls.Add(1)
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, resource, query)
}

func (f *fakeService) Insert(ctx context.Context, resource string, record remote.Record) (remote.Record, error) {
	f.insertCalls.Add(1)
	if f.insertFn == nil {
		return record, nil
	}
	return f.insertFn(ctx, resource, record)
}

func (f *fakeService) Update(ctx context.Context, resource, id string, patch remote.Record) (remote.Record, error) {
	if f.updateFn == nil {
		return patch, nil
	}
	return f.updateFn(ctx, resource, id, patch)
}

func (f *fakeService) Delete(ctx context.Context, resource, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, resource, id)
}

func (f *fakeService) Upload(ctx context.Context, bucket, path string, data []byte) (*remote.UploadResult, error) {
	return &remote.UploadResult{Path: path, PublicURL: "https://cdn.example.com/" + path}, nil
}

func (f *fakeService) Remove(ctx context.Context, bucket, path string) error {
	return nil
}

type testEnv struct {
	repo     *ResourceRepository
	svc      *fakeService
	engine   *strategy.Engine
	notifier *notify.Notifier
	queue    *fallback.Store
}

func newTestEnv(t *testing.T, svc *fakeService, def Definition) *testEnv {
	t.Helper()

	metrics := observability.NewMetrics("repository_test")
	ttlCache := cache.NewTTLCache(100, time.Minute, nil)
	registry := flight.NewRegistry(nil, nil)
	executor := retry.NewExecutor(metrics, nil, nil)
	engine := strategy.New(ttlCache, registry, executor, metrics, nil, nil)
	notifier := notify.NewNotifier(20, nil)

	queue, err := fallback.NewStore(filepath.Join(t.TempDir(), "queue.jsonl"), nil)
	require.NoError(t, err)

	if def.Retry.BaseDelay == 0 {
		def.Retry = retry.Config{
			MaxRetries:    2,
			BaseDelay:     time.Millisecond,
			BackoffFactor: 2.0,
			MaxDelay:      5 * time.Millisecond,
			Context:       def.Name,
		}
	}

	repo := New(def, Deps{
		Engine:   engine,
		Executor: executor,
		Service:  svc,
		Fallback: queue,
		Notifier: notifier,
	})

	return &testEnv{repo: repo, svc: svc, engine: engine, notifier: notifier, queue: queue}
}

func serviceDefaults() []remote.Record {
	return []remote.Record{
		{"id": "d1", "name": "Default A"},
		{"id": "d2", "name": "Default B"},
		{"id": "d3", "name": "Default C"},
	}
}

func TestLoad_ServesRemoteRecords(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{{"id": "1", "name": "Live"}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	records := env.repo.Load(context.Background(), nil)
	require.Len(t, records, 1)
	assert.Equal(t, "Live", records[0]["name"])
	assert.False(t, env.repo.Degraded())
}

func TestLoad_SecondCallIsCached(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{{"id": "1"}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	env.repo.Load(context.Background(), nil)
	env.repo.Load(context.Background(), nil)

	assert.Equal(t, int64(1), svc.listCalls.Load())
}

func TestLoad_FailureServesDefaultsAndOneNotice(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return nil, kerrors.Transport("DOWN", "unreachable")
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	records := env.repo.Load(context.Background(), nil)
	assert.Len(t, records, 3)
	assert.True(t, env.repo.Degraded())

	// Further degraded loads do not repeat the notice.
	env.repo.Load(context.Background(), map[string]any{"active": true})
	env.repo.Load(context.Background(), map[string]any{"limit": 5})

	notices := env.notifier.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.KindWarning, notices[0].Kind)
}

func TestLoad_RecoveryClearsDegradedAndNotifies(t *testing.T) {
	var healthy atomic.Bool
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			if !healthy.Load() {
				return nil, kerrors.Transport("DOWN", "unreachable")
			}
			return []remote.Record{{"id": "1"}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	env.repo.Load(context.Background(), nil)
	require.True(t, env.repo.Degraded())

	healthy.Store(true)
	records := env.repo.InvalidateAndReload(context.Background(), nil)
	require.Len(t, records, 1)
	assert.False(t, env.repo.Degraded())

	notices := env.notifier.Recent()
	require.Len(t, notices, 2)
	assert.Equal(t, notify.KindWarning, notices[0].Kind)
	assert.Equal(t, notify.KindInfo, notices[1].Kind)
}

func TestLoad_MalformedRecordsDroppedIndividually(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{
				{"id": "1", "name": "Good"},
				{"id": "2"}, // missing name
				{"id": "3", "name": "Also good"},
			}, nil
		},
	}
	validate := func(rec remote.Record) error {
		if _, ok := rec["name"]; !ok {
			return kerrors.Validation("RECORD_INVALID", "missing name")
		}
		return nil
	}
	env := newTestEnv(t, svc, Definition{
		Name: "services", Table: "services",
		Defaults: serviceDefaults(), Validate: validate,
	})

	records := env.repo.Load(context.Background(), nil)
	require.Len(t, records, 2)
	assert.Equal(t, "Good", records[0]["name"])
	assert.Equal(t, "Also good", records[1]["name"])
	assert.False(t, env.repo.Degraded())
	// The single retried fetch was enough; dropped records are not retried.
	assert.Equal(t, int64(1), svc.listCalls.Load())
}

func TestLoad_AllRecordsRejectedServesDefaults(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{{"id": "1"}, {"id": "2"}}, nil
		},
	}
	validate := func(rec remote.Record) error {
		return kerrors.Validation("RECORD_INVALID", "nope")
	}
	env := newTestEnv(t, svc, Definition{
		Name: "services", Table: "services",
		Defaults: serviceDefaults(), Validate: validate,
	})

	records := env.repo.Load(context.Background(), nil)
	assert.Len(t, records, 3)
	assert.True(t, env.repo.Degraded())
	// Rejection is not a network condition; no retries burned.
	assert.Equal(t, int64(1), svc.listCalls.Load())
}

func TestLoad_EmptyRemoteResultIsNotDegraded(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "bookings", Table: "bookings", Defaults: []remote.Record{}})

	records := env.repo.Load(context.Background(), nil)
	assert.Empty(t, records)
	assert.False(t, env.repo.Degraded())
	assert.Empty(t, env.notifier.Recent())
}

func TestLoad_ParamsMergedIntoQueryFilters(t *testing.T) {
	var seen remote.ListQuery
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			seen = query
			return []remote.Record{{"id": "1"}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{
		Name: "services", Table: "services",
		Query: remote.ListQuery{Filters: map[string]string{"active": "true"}},
	})

	env.repo.Load(context.Background(), map[string]any{"category": "express"})

	assert.Equal(t, "true", seen.Filters["active"])
	assert.Equal(t, "express", seen.Filters["category"])
}

func TestInvalidateAndReload_BypassesCache(t *testing.T) {
	version := atomic.Int64{}
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			v := version.Add(1)
			return []remote.Record{{"id": "1", "version": v}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	first := env.repo.Load(context.Background(), nil)
	assert.Equal(t, int64(1), first[0]["version"])

	second := env.repo.InvalidateAndReload(context.Background(), nil)
	assert.Equal(t, int64(2), second[0]["version"])

	// The reload refreshed the cache for subsequent cache-first loads.
	third := env.repo.Load(context.Background(), nil)
	assert.Equal(t, int64(2), third[0]["version"])
	assert.Equal(t, int64(2), svc.listCalls.Load())
}

func TestCreate_SuccessInvalidatesCache(t *testing.T) {
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			return []remote.Record{{"id": "1"}}, nil
		},
		insertFn: func(ctx context.Context, resource string, record remote.Record) (remote.Record, error) {
			record["id"] = "new"
			return record, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "bookings", Table: "bookings", Defaults: []remote.Record{}})

	env.repo.Load(context.Background(), nil)

	created, protocol, err := env.repo.Create(context.Background(), remote.Record{"customer_name": "Ana"})
	require.NoError(t, err)
	assert.Empty(t, protocol)
	assert.Equal(t, "new", created.ID())

	// Cache entries for this resource were invalidated by the write.
	env.repo.Load(context.Background(), nil)
	assert.Equal(t, int64(2), svc.listCalls.Load())
}

func TestCreate_ExhaustedRetriesQueuesWithProtocol(t *testing.T) {
	svc := &fakeService{
		insertFn: func(ctx context.Context, resource string, record remote.Record) (remote.Record, error) {
			return nil, kerrors.Transport("DOWN", "unreachable")
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "bookings", Table: "bookings", Defaults: []remote.Record{}})

	record := remote.Record{"customer_name": "Ana", "phone": "11 99999-0000"}
	created, protocol, err := env.repo.Create(context.Background(), record)
	require.Error(t, err)
	assert.Nil(t, created)
	require.NotEmpty(t, protocol)

	// Every attempt in the budget was spent before queueing.
	assert.Equal(t, int64(3), svc.insertCalls.Load())

	queued, err := env.queue.List()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, protocol, queued[0].Protocol)
	assert.Equal(t, "bookings", queued[0].Resource)
	assert.Equal(t, "Ana", queued[0].Record["customer_name"])
	assert.False(t, queued[0].QueuedAt.IsZero())

	notices := env.notifier.Recent()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.KindWarning, notices[0].Kind)
	assert.Contains(t, notices[0].Message, protocol)
}

func TestCreate_ValidationFailureIsNotQueued(t *testing.T) {
	svc := &fakeService{}
	validate := func(rec remote.Record) error {
		return kerrors.Validation("RECORD_INVALID", "missing fields")
	}
	env := newTestEnv(t, svc, Definition{
		Name: "bookings", Table: "bookings",
		Defaults: []remote.Record{}, Validate: validate,
	})

	_, protocol, err := env.repo.Create(context.Background(), remote.Record{})
	require.Error(t, err)
	assert.True(t, kerrors.IsValidation(err))
	assert.Empty(t, protocol)
	assert.Equal(t, int64(0), svc.insertCalls.Load())

	queued, qErr := env.queue.List()
	require.NoError(t, qErr)
	assert.Empty(t, queued)
}

func TestUpdate_InvalidatesCacheAndClearsDegraded(t *testing.T) {
	failing := atomic.Bool{}
	failing.Store(true)
	svc := &fakeService{
		listFn: func(ctx context.Context, resource string, query remote.ListQuery) ([]remote.Record, error) {
			if failing.Load() {
				return nil, kerrors.Transport("DOWN", "unreachable")
			}
			return []remote.Record{{"id": "1"}}, nil
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	env.repo.Load(context.Background(), nil)
	require.True(t, env.repo.Degraded())

	failing.Store(false)
	updated, err := env.repo.Update(context.Background(), "1", remote.Record{"name": "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated["name"])
	assert.False(t, env.repo.Degraded())
}

func TestDelete_FailurePropagates(t *testing.T) {
	svc := &fakeService{
		deleteFn: func(ctx context.Context, resource, id string) error {
			return kerrors.Transport("DOWN", "unreachable")
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "services", Table: "services", Defaults: serviceDefaults()})

	err := env.repo.Delete(context.Background(), "1")
	require.Error(t, err)

	var kerr *kerrors.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "RETRIES_EXHAUSTED", kerr.Code)
}

func TestSetRetryConfig_AppliesToSubsequentOperations(t *testing.T) {
	svc := &fakeService{
		insertFn: func(ctx context.Context, resource string, record remote.Record) (remote.Record, error) {
			return nil, kerrors.Transport("DOWN", "unreachable")
		},
	}
	env := newTestEnv(t, svc, Definition{Name: "bookings", Table: "bookings", Defaults: []remote.Record{}})

	_, _, err := env.repo.Create(context.Background(), remote.Record{"customer_name": "Ana"})
	require.Error(t, err)
	// The initial budget of 2 retries spends 3 attempts.
	require.Equal(t, int64(3), svc.insertCalls.Load())

	env.repo.SetRetryConfig(retry.Config{
		MaxRetries:    0,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Millisecond,
	})

	_, _, err = env.repo.Create(context.Background(), remote.Record{"customer_name": "Ana"})
	require.Error(t, err)
	// The reloaded budget allows a single attempt, no retries.
	assert.Equal(t, int64(4), svc.insertCalls.Load())
}
