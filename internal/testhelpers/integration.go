//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	"github.com/kjstillabower/weather-dashboard/internal/kvstore"
	"github.com/kjstillabower/weather-dashboard/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	APIURL         string
	StorageBackend string // "memory" (default), "sqlite" or "memcached"
	MemcachedAddr  string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = config.DefaultWeatherAPIURL
	}

	backend := os.Getenv("INTEGRATION_STORAGE_BACKEND")
	if backend == "" {
		backend = config.BackendMemory
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:         apiKey,
		APIURL:         apiURL,
		StorageBackend: backend,
		MemcachedAddr:  memcachedAddr,
	}
}

// SetupIntegrationService wires a WeatherService over the live Weatherbit API
// and the configured backend. The cache namespace is cleared on cleanup.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *cache.Cache) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	var kv kvstore.Store
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		db, err := kvstore.OpenSQLite(ctx, t.TempDir()+"/integration.db")
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		kv = db
	case config.BackendMemcached:
		mc := kvstore.NewMemcached(cfg.MemcachedAddr, time.Second, 2)
		if err := mc.Ping(ctx); err != nil {
			t.Skipf("memcached not reachable at %s: %v", cfg.MemcachedAddr, err)
		}
		t.Cleanup(func() { _ = mc.Close() })
		kv = mc
	default:
		kv = kvstore.NewMemory(5 << 20)
	}

	wc, err := client.NewWeatherbitClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherbitClient() error = %v", err)
	}
	c := cache.New(ctx, kv, logger)
	t.Cleanup(func() { c.Clear(context.Background()) })

	return service.NewWeatherService(wc, c, cache.DefaultTTL, logger), c
}
