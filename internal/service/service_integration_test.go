//go:build integration
// +build integration

package service_test

import (
	"context"
	"testing"

	"github.com/kjstillabower/weather-dashboard/internal/testhelpers"
)

func TestWeatherService_LiveCacheAside_Integration(t *testing.T) {
	cfg := testhelpers.GetIntegrationConfig(t)
	svc, c := testhelpers.SetupIntegrationService(t, cfg)
	ctx := context.Background()

	first, err := svc.GetCurrent(ctx, "10001")
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if first.CityName == "" {
		t.Error("CityName empty from live API")
	}
	if !c.Has(ctx, "current_10001") {
		t.Fatalf("current_10001 not cached on %s backend", cfg.StorageBackend)
	}

	second, err := svc.GetCurrent(ctx, "10001")
	if err != nil {
		t.Fatalf("second GetCurrent() error = %v", err)
	}
	if !second.Timestamp.Equal(first.Timestamp) {
		t.Errorf("second call not served from cache: %v vs %v", second.Timestamp, first.Timestamp)
	}

	fc, err := svc.GetForecast(ctx, "10001")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if n := len(fc.Days); n == 0 || n > 5 {
		t.Errorf("forecast days = %d, want 1..5", n)
	}
}
