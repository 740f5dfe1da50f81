package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// WeatherFetcher is implemented by the service layer; a successful call leaves
// the result cached.
type WeatherFetcher interface {
	GetCurrent(ctx context.Context, zipCode string) (models.CurrentWeather, error)
}

// CacheWarmer prefetches current weather for a list of ZIP codes.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every ZIP concurrently. The returned error joins the per-ZIP failures.
func (w *CacheWarmer) Warm(ctx context.Context, zipCodes []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Debug("warming cache", zap.Int("locations", len(zipCodes)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, zip := range zipCodes {
		wg.Add(1)
		go func(zip string) {
			defer wg.Done()
			if _, err := w.fetcher.GetCurrent(ctx, zip); err != nil {
				observability.CacheWarmingErrorsTotal.Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", zip, err))
				mu.Unlock()
			}
		}(zip)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(zipCodes)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}
