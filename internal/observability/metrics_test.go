package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// client, cache, service, views and http packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /forecast/{zipCode} not /forecast/90210)
	HTTPRequestsTotal.WithLabelValues("GET", "/forecast/{zipCode}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/forecast/{zipCode}").Observe(0.01)
	WeatherAPICallsTotal.WithLabelValues("current", "success").Inc()
	WeatherAPIDuration.WithLabelValues("forecast", "error").Observe(0.1)
	WeatherAPIRetriesTotal.WithLabelValues("current").Inc()
	CacheEvictionsTotal.WithLabelValues("expired").Inc()
	CacheErrorsTotal.WithLabelValues("set").Inc()
	ConcurrentMissesTotal.WithLabelValues("current").Inc()
	TabFetchesTotal.WithLabelValues("refresh", "stale").Inc()
	CircuitBreakerState.Set(2)
	SavedLocations.Set(3)
}

func TestRecordWeatherQuery_TrackedLocations(t *testing.T) {
	SetTrackedLocations([]string{"90210", " 10001 "})
	defer SetTrackedLocations(nil)

	RecordWeatherQuery("current", "cache", "10001")
	RecordWeatherQuery("forecast", "api", "60601")

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	for _, want := range []string{
		`weatherQueriesByLocationTotal{location="10001"}`,
		`weatherQueriesByLocationTotal{location="other"}`,
		`weatherQueriesTotal{kind="current",source="cache"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `location="60601"`) {
		t.Error("untracked location should be reported as other")
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
