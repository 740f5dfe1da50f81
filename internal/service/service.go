package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

const (
	currentKeyPrefix  = "current_"
	forecastKeyPrefix = "forecast_"
)

// Cache is the subset of *cache.Cache the service depends on.
type Cache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// WeatherService serves current conditions and forecasts cache-aside: a valid
// cached value is returned without I/O, otherwise the provider is called and
// the result cached for ttl. Errors are never cached.
type WeatherService struct {
	client client.WeatherClient
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	misses *missTracker
}

// NewWeatherService creates a WeatherService. ttl <= 0 uses cache.DefaultTTL.
func NewWeatherService(client client.WeatherClient, cache Cache, ttl time.Duration, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		client: client,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		misses: newMissTracker(),
	}
}

func currentKey(zipCode string) string  { return currentKeyPrefix + zipCode }
func forecastKey(zipCode string) string { return forecastKeyPrefix + zipCode }

// GetCurrent returns current conditions for zipCode. A malformed ZIP fails
// before the cache or the provider is consulted.
func (s *WeatherService) GetCurrent(ctx context.Context, zipCode string) (models.CurrentWeather, error) {
	if !validation.IsZipCode(zipCode) {
		return models.CurrentWeather{}, client.InvalidZipCode(zipCode)
	}
	return cacheAside(ctx, s, "current", zipCode, currentKey(zipCode), func() (models.CurrentWeather, error) {
		return s.client.Current(ctx, zipCode)
	})
}

// GetForecast returns up to client.ForecastDays daily records for zipCode.
func (s *WeatherService) GetForecast(ctx context.Context, zipCode string) (models.Forecast, error) {
	if !validation.IsZipCode(zipCode) {
		return models.Forecast{}, client.InvalidZipCode(zipCode)
	}
	return cacheAside(ctx, s, "forecast", zipCode, forecastKey(zipCode), func() (models.Forecast, error) {
		return s.client.Forecast(ctx, zipCode, client.ForecastDays)
	})
}

func cacheAside[T any](ctx context.Context, s *WeatherService, kind, zipCode, key string, fetch func() (T, error)) (T, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	var cached T
	if s.cache.Get(ctx, key, &cached) {
		observability.RecordWeatherQuery(kind, "cache", zipCode)
		logger.Debug("weather served",
			zap.String("kind", kind), zap.String("zipCode", zipCode),
			zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	concurrent, done := s.misses.begin(key)
	defer done()
	if concurrent > 1 {
		observability.ConcurrentMissesTotal.WithLabelValues(kind).Inc()
	}

	logger.Debug("cache miss, fetching upstream", zap.String("kind", kind), zap.String("zipCode", zipCode))

	data, err := fetch()
	if err != nil {
		observability.RecordWeatherQuery(kind, "error", zipCode)
		logger.Info("weather fetch failed",
			zap.String("kind", kind), zap.String("zipCode", zipCode),
			zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		var zero T
		return zero, fmt.Errorf("fetch %s weather for %s: %w", kind, zipCode, err)
	}

	s.cache.Set(ctx, key, data, s.ttl)
	observability.RecordWeatherQuery(kind, "api", zipCode)
	logger.Debug("weather served",
		zap.String("kind", kind), zap.String("zipCode", zipCode),
		zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return data, nil
}

// InvalidateCache drops both cached records for zipCode.
func (s *WeatherService) InvalidateCache(ctx context.Context, zipCode string) {
	s.cache.Delete(ctx, currentKey(zipCode))
	s.cache.Delete(ctx, forecastKey(zipCode))
}

// ClearAllCache removes every cached record. Saved locations are untouched.
func (s *WeatherService) ClearAllCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

func (s *WeatherService) IconURL(code string) string {
	return s.client.IconURL(code)
}

var _ Cache = (*cache.Cache)(nil)
