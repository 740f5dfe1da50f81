package service

import (
	"context"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// gatedClient blocks every Current call until release is closed.
type gatedClient struct {
	mockWeatherClient
	entered chan string
	release chan struct{}
}

func (g *gatedClient) Current(ctx context.Context, zipCode string) (models.CurrentWeather, error) {
	g.entered <- zipCode
	<-g.release
	return g.mockWeatherClient.Current(ctx, zipCode)
}

func concurrentMisses(t *testing.T, kind string) float64 {
	t.Helper()
	var m dto.Metric
	if err := observability.ConcurrentMissesTotal.WithLabelValues(kind).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestWeatherService_ConcurrentMissesEachCallProvider verifies that two
// simultaneous misses for one ZIP both reach the provider and that the
// overlap is counted once.
func TestWeatherService_ConcurrentMissesEachCallProvider(t *testing.T) {
	wc := &gatedClient{
		mockWeatherClient: mockWeatherClient{current: sampleWeather()},
		entered:           make(chan string, 2),
		release:           make(chan struct{}),
	}
	svc, _, _ := newTestService(t, wc)
	before := concurrentMisses(t, "current")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetCurrent(context.Background(), "90210")
			errs <- err
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-wc.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d provider calls started; misses were coalesced", i)
		}
	}
	if n := svc.misses.active(currentKey("90210")); n != 2 {
		t.Errorf("active misses = %d, want 2", n)
	}
	close(wc.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("GetCurrent() error = %v", err)
		}
	}

	if d := concurrentMisses(t, "current") - before; d != 1 {
		t.Errorf("concurrent misses counted = %v, want 1", d)
	}
	if n := svc.misses.active(currentKey("90210")); n != 0 {
		t.Errorf("active misses after completion = %d, want 0", n)
	}

	// Now cached: no provider call, so a third call must not block on the gate.
	if _, err := svc.GetCurrent(context.Background(), "90210"); err != nil {
		t.Fatalf("cached GetCurrent() error = %v", err)
	}
	if current, _ := wc.calls(); current != 2 {
		t.Errorf("provider calls = %d, want 2", current)
	}
}

func TestMissTracker_DoneIsIdempotent(t *testing.T) {
	m := newMissTracker()
	n1, done1 := m.begin("forecast_10001")
	n2, done2 := m.begin("forecast_10001")
	if n1 != 1 || n2 != 2 {
		t.Fatalf("begin() = %d, %d; want 1, 2", n1, n2)
	}
	done1()
	done1()
	if got := m.active("forecast_10001"); got != 1 {
		t.Errorf("active after repeated done = %d, want 1", got)
	}
	done2()
	if got := m.active("forecast_10001"); got != 0 {
		t.Errorf("active after all done = %d, want 0", got)
	}
}
