package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func TestRouter_RateLimitsWeatherRoutesOnly(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.locations.Add("90210")
	router := NewRouter(f.handler, nil, RouterOptions{RateLimiter: rate.NewLimiter(rate.Limit(1), 1)})

	serve := func(method, path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}

	if code := serve(http.MethodGet, "/weather"); code != http.StatusOK {
		t.Fatalf("first /weather status = %d, want 200", code)
	}
	if code := serve(http.MethodGet, "/forecast/90210"); code != http.StatusTooManyRequests {
		t.Errorf("forecast after burst status = %d, want 429", code)
	}
	for _, path := range []string{"/", "/locations", "/health"} {
		if code := serve(http.MethodGet, path); code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 (not rate limited)", path, code)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t, nil, nil)
	router := NewRouter(f.handler, nil, RouterOptions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}
}

func TestRouter_MethodMismatch(t *testing.T) {
	f := newFixture(t, nil, nil)
	router := NewRouter(f.handler, nil, RouterOptions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cache", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /cache status = %d, want 405", w.Code)
	}
}
