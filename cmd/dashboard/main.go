package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	httphandler "github.com/kjstillabower/weather-dashboard/internal/http"
	"github.com/kjstillabower/weather-dashboard/internal/kvstore"
	"github.com/kjstillabower/weather-dashboard/internal/location"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/scheduler"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/views"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx := context.Background()
	kv, closer, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	weatherClient, err := client.NewWeatherbitClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.IconBaseURL != "" {
		weatherClient.SetIconBaseURL(cfg.IconBaseURL)
	}

	var breaker *gobreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather_api",
			Timeout: cfg.CircuitBreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerMaxFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.CircuitBreakerState.Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("max_failures", cfg.CircuitBreakerMaxFailures),
			zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	}

	validateCtx, validateCancel := context.WithTimeout(ctx, cfg.WeatherAPITimeout)
	if err := weatherClient.ValidateAPIKey(validateCtx); err != nil {
		logger.Warn("weather API key check failed", zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
	}
	validateCancel()

	weatherCache := cache.New(ctx, kv, logger)
	locations := location.NewStore(ctx, kv, logger)
	observability.SetTrackedLocations(locations.ZipCodes())
	locations.OnChange(func(list []models.Location) {
		zips := make([]string, 0, len(list))
		for _, l := range list {
			zips = append(zips, l.ZipCode)
		}
		observability.SetTrackedLocations(zips)
	})

	weatherService := service.NewWeatherService(weatherClient, weatherCache, cfg.CacheTTL, logger)
	tabs := views.NewTabsView(weatherService, locations, logger, views.WithFetchTimeout(cfg.FetchTimeout))
	forecasts := views.NewForecastView(weatherService, logger)

	jobs := scheduler.New(scheduler.Config{
		SweepInterval: cfg.CacheSweepInterval,
		WarmInterval:  cfg.CacheWarmInterval,
	}, weatherCache, locations, scheduler.NewCacheWarmer(weatherService, logger), logger)
	if err := jobs.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{StartTime: time.Now()}
	if p, ok := kv.(kvstore.Pinger); ok {
		healthConfig.StoragePing = p.Ping
	}
	if breaker != nil {
		healthConfig.BreakerState = func() string { return breaker.State().String() }
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(locations, tabs, forecasts, weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		RateLimiter:    limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("storage", cfg.StorageBackend))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	jobs.Stop()
	waitFetches(shutdownCtx, tabs, logger)

	if err := observability.FlushTelemetry(shutdownCtx, logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.Error("storage close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// openStorage selects the key/value backend. The returned closer is nil for
// backends without resources.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (kvstore.Store, io.Closer, error) {
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		db, err := kvstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("storage backend: sqlite", zap.String("path", cfg.SQLitePath))
		return db, db, nil
	case config.BackendMemcached:
		mc := kvstore.NewMemcached(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("storage backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	case config.BackendNone:
		logger.Warn("storage backend: none; locations and cache will not persist")
		return kvstore.Unavailable{}, nil, nil
	case config.BackendMemory:
		logger.Info("storage backend: memory", zap.Int("quota_bytes", cfg.MemoryQuotaBytes))
		return kvstore.NewMemory(cfg.MemoryQuotaBytes), nil, nil
	default:
		return nil, nil, errors.New("unknown storage backend " + cfg.StorageBackend)
	}
}

// waitFetches lets background tab fetches finish until ctx is done.
func waitFetches(ctx context.Context, tabs *views.TabsView, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		tabs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("background fetches still running at shutdown")
	}
}
