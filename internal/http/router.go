package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// RouterOptions configures NewRouter. A nil RateLimiter and zero RequestTimeout disable those guards.
type RouterOptions struct {
	RateLimiter    *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter wires every dashboard route. Routes that can reach the weather API
// are rate limited and carry a request deadline; unknown paths redirect home.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := RateLimitMiddleware(opts.RateLimiter)
	deadline := TimeoutMiddleware(opts.RequestTimeout)
	weatherAPI := func(f http.HandlerFunc) http.Handler {
		return limit.Middleware(deadline.Middleware(f))
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/", h.GetHome).Methods(http.MethodGet)
	router.HandleFunc("/locations", h.ListLocations).Methods(http.MethodGet)
	router.HandleFunc("/locations", h.AddLocation).Methods(http.MethodPost)

	router.Handle("/weather", weatherAPI(h.GetWeather)).Methods(http.MethodGet)
	router.HandleFunc("/weather/{zipCode}/select", h.SelectTab).Methods(http.MethodPost)
	router.Handle("/weather/{zipCode}/refresh", weatherAPI(h.RefreshTab)).Methods(http.MethodPost)
	router.HandleFunc("/weather/{zipCode}", h.CloseTab).Methods(http.MethodDelete)

	router.Handle("/forecast/{zipCode}", weatherAPI(h.GetForecast)).Methods(http.MethodGet)
	router.Handle("/forecast/{zipCode}/refresh", weatherAPI(h.RefreshForecast)).Methods(http.MethodPost)

	router.HandleFunc("/cache", h.ClearCache).Methods(http.MethodDelete)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(h.NotFound)
	return router
}
