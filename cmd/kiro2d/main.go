// Command kiro2d runs the kiro2 resilient data access layer behind a small
// REST surface. All shared components (cache, in-flight registry, retry
// executor, metrics, notifier) are constructed once here and passed by
// reference to every repository.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/entrega363/kiro2/internal/cache"
	"github.com/entrega363/kiro2/internal/config"
	"github.com/entrega363/kiro2/internal/fallback"
	"github.com/entrega363/kiro2/internal/flight"
	httpiface "github.com/entrega363/kiro2/internal/interfaces/http"
	"github.com/entrega363/kiro2/internal/notify"
	"github.com/entrega363/kiro2/internal/observability"
	"github.com/entrega363/kiro2/internal/remote"
	"github.com/entrega363/kiro2/internal/repository"
	"github.com/entrega363/kiro2/internal/retry"
	"github.com/entrega363/kiro2/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; configuration trouble is fatal by definition.
		os.Stderr.WriteString("fatal: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := buildLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics("kiro2")
	collector := observability.NewZapCollector(logger, 256)
	defer collector.Close()

	ttlCache := cache.NewTTLCache(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL, logger)
	ttlCache.StartCleanup(ctx, cfg.Cache.CleanupInterval)

	registry := flight.NewRegistry(collector, logger)
	executor := retry.NewExecutor(metrics, collector, logger)
	engine := strategy.New(ttlCache, registry, executor, metrics, collector, logger)

	supabaseSvc, err := remote.NewSupabaseService(cfg.Supabase.URL, cfg.Supabase.ServiceKey, logger)
	if err != nil {
		logger.Fatal("remote service init failed", zap.Error(err))
	}
	breakerCfg := remote.BreakerConfig{
		Name:             "supabase",
		MaxRequests:      cfg.Breaker.MaxRequests,
		Interval:         cfg.Breaker.Interval,
		Timeout:          cfg.Breaker.Timeout,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
	}
	svc := remote.NewBreakerService(supabaseSvc, breakerCfg, logger)

	queue, err := fallback.NewStore(cfg.Fallback.Path, logger)
	if err != nil {
		logger.Fatal("fallback store init failed", zap.Error(err))
	}

	notifier := notify.NewNotifier(20, logger)

	deps := repository.Deps{
		Engine:    engine,
		Executor:  executor,
		Service:   svc,
		Fallback:  queue,
		Notifier:  notifier,
		Collector: collector,
		Logger:    logger,
	}
	retryCfg := retry.Config{
		MaxRetries:    cfg.Retry.MaxRetries,
		BaseDelay:     cfg.Retry.BaseDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxDelay,
		Timeout:       cfg.Retry.Timeout,
	}

	services := repository.NewServices(deps, retryCfg)
	bookings := repository.NewBookings(deps, retryCfg)
	gallery := repository.NewGallery(deps, retryCfg, cfg.Supabase.StorageBucket)

	watcher, err := config.NewWatcher(cfg, logger)
	if err != nil {
		logger.Fatal("config watcher init failed", zap.Error(err))
	}
	defer watcher.Stop()
	watcher.OnReload(func(next *config.Config) {
		ttlCache.SetDefaults(next.Cache.MaxSize, next.Cache.DefaultTTL)
		nextRetry := retry.Config{
			MaxRetries:    next.Retry.MaxRetries,
			BaseDelay:     next.Retry.BaseDelay,
			BackoffFactor: next.Retry.BackoffFactor,
			MaxDelay:      next.Retry.MaxDelay,
			Timeout:       next.Retry.Timeout,
		}
		services.SetRetryConfig(nextRetry)
		bookings.SetRetryConfig(nextRetry)
		gallery.SetRetryConfig(nextRetry)
		// Entries stored under the old TTL would otherwise linger; start
		// clean. Structural changes (bucket, credentials) still require a
		// restart.
		ttlCache.Clear()
		logger.Info("runtime tunables reloaded; cache cleared")
	})

	server := httpiface.NewServer(services, bookings, gallery, notifier, metrics, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	// Let detached revalidations settle before the process exits.
	engine.Wait()
}

func buildLogger(env config.Environment) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == config.Production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		os.Stderr.WriteString("fatal: logger init: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}
