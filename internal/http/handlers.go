package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/location"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
	"github.com/kjstillabower/weather-dashboard/internal/views"
)

const (
	homePath    = "/"
	weatherPath = "/weather"
)

// HealthConfig holds optional dependency checks for the health handler.
type HealthConfig struct {
	// StoragePing, when set, checks the key/value backend.
	StoragePing func(ctx context.Context) error
	// BreakerState, when set, reports the weather API circuit breaker state ("closed", "half-open", "open").
	BreakerState func() string
	StartTime    time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	locations *location.Store
	tabs      *views.TabsView
	forecasts *views.ForecastView
	weather   *service.WeatherService
	health    *HealthConfig
	logger    *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	locations *location.Store,
	tabs *views.TabsView,
	forecasts *views.ForecastView,
	weather *service.WeatherService,
	health *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		locations: locations,
		tabs:      tabs,
		forecasts: forecasts,
		weather:   weather,
		health:    health,
		logger:    logger,
	}
}

// SetShuttingDown flips /health to 503 shutting-down. Call when SIGTERM/SIGINT is received.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type homeResponse struct {
	Locations      []models.Location `json:"locations"`
	Count          int               `json:"count"`
	CanViewWeather bool              `json:"canViewWeather"`
	Message        string            `json:"message,omitempty"`
}

// GetHome handles GET /.
func (h *Handler) GetHome(w http.ResponseWriter, r *http.Request) {
	locs := h.locations.List()
	resp := homeResponse{Locations: locs, Count: len(locs), CanViewWeather: len(locs) > 0}
	if len(locs) == 0 {
		resp.Message = "Add at least one location to view the weather."
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListLocations handles GET /locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": h.locations.List(),
	})
}

type addLocationRequest struct {
	ZipCode string `json:"zipCode"`
}

// AddLocation handles POST /locations.
func (h *Handler) AddLocation(w http.ResponseWriter, r *http.Request) {
	var req addLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON with a zipCode field")
		return
	}

	zip, err := validation.ValidateZipCode(req.ZipCode)
	switch {
	case errors.Is(err, validation.ErrZipCodeEmpty):
		writeError(w, r, http.StatusBadRequest, "ZIP_CODE_REQUIRED", "Please enter a ZIP code")
		return
	case err != nil:
		writeError(w, r, http.StatusBadRequest, "INVALID_ZIP_CODE", "Invalid ZIP code")
		return
	case h.locations.Has(zip):
		writeError(w, r, http.StatusConflict, "LOCATION_EXISTS", "Location already exists")
		return
	}

	if !h.locations.Add(zip) {
		// Lost a race with a concurrent add of the same ZIP.
		writeError(w, r, http.StatusConflict, "LOCATION_EXISTS", "Location already exists")
		return
	}
	loc, _ := h.locations.Get(zip)
	observability.LoggerFromContext(r.Context(), h.logger).Info("location added via api", zap.String("zipCode", zip))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"location": loc,
		"message":  "Location added successfully",
		"redirect": weatherPath,
	})
}

type weatherStateView struct {
	models.WeatherFetchState
	IconURL string `json:"iconUrl,omitempty"`
}

type weatherResponse struct {
	Tabs          []models.Tab       `json:"tabs"`
	States        []weatherStateView `json:"states"`
	Selected      string             `json:"selected,omitempty"`
	SelectedState *weatherStateView  `json:"selectedState,omitempty"`
	Redirect      string             `json:"redirect,omitempty"`
}

// GetWeather handles GET /weather. With no saved locations it redirects home.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	if err := h.tabs.Init(r.Context()); errors.Is(err, views.ErrNoLocations) {
		http.Redirect(w, r, homePath, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, h.weatherSnapshot())
}

// SelectTab handles POST /weather/{zipCode}/select.
func (h *Handler) SelectTab(w http.ResponseWriter, r *http.Request) {
	zip := zipFromPath(r)
	if err := h.tabs.Select(zip); err != nil {
		writeError(w, r, http.StatusNotFound, "TAB_NOT_FOUND", "No tab for this ZIP code")
		return
	}
	writeJSON(w, http.StatusOK, h.weatherSnapshot())
}

// RefreshTab handles POST /weather/{zipCode}/refresh. The fetch continues in
// the background; the response shows the loading state.
func (h *Handler) RefreshTab(w http.ResponseWriter, r *http.Request) {
	zip := zipFromPath(r)
	if err := h.tabs.Refresh(r.Context(), zip); err != nil {
		writeError(w, r, http.StatusNotFound, "TAB_NOT_FOUND", "No tab for this ZIP code")
		return
	}
	writeJSON(w, http.StatusAccepted, h.weatherSnapshot())
}

// CloseTab handles DELETE /weather/{zipCode}.
func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	zip := zipFromPath(r)
	err := h.tabs.Close(zip)
	switch {
	case errors.Is(err, views.ErrTabNotFound):
		writeError(w, r, http.StatusNotFound, "TAB_NOT_FOUND", "No tab for this ZIP code")
		return
	case errors.Is(err, views.ErrNoLocations):
		resp := h.weatherSnapshot()
		resp.Redirect = homePath
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, h.weatherSnapshot())
}

func (h *Handler) weatherSnapshot() weatherResponse {
	states := h.tabs.States()
	resp := weatherResponse{
		Tabs:   h.tabs.Tabs(),
		States: make([]weatherStateView, 0, len(states)),
	}
	for _, st := range states {
		resp.States = append(resp.States, h.stateView(st))
	}
	if sel, ok := h.tabs.SelectedState(); ok {
		view := h.stateView(sel)
		resp.Selected = sel.ZipCode
		resp.SelectedState = &view
	}
	return resp
}

func (h *Handler) stateView(st models.WeatherFetchState) weatherStateView {
	view := weatherStateView{WeatherFetchState: st}
	if st.Weather != nil && st.Weather.Icon != "" {
		view.IconURL = h.weather.IconURL(st.Weather.Icon)
	}
	return view
}

type forecastResponse struct {
	views.ForecastState
	IconURLs map[string]string `json:"iconUrls,omitempty"`
	Back     string            `json:"back"`
}

// GetForecast handles GET /forecast/{zipCode}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	st, err := h.forecasts.Load(r.Context(), zipFromPath(r))
	h.writeForecast(w, r, st, err)
}

// RefreshForecast handles POST /forecast/{zipCode}/refresh.
func (h *Handler) RefreshForecast(w http.ResponseWriter, r *http.Request) {
	st, err := h.forecasts.Refresh(r.Context(), zipFromPath(r))
	h.writeForecast(w, r, st, err)
}

func (h *Handler) writeForecast(w http.ResponseWriter, r *http.Request, st views.ForecastState, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp := forecastResponse{ForecastState: st, Back: weatherPath}
	if st.Forecast != nil {
		resp.IconURLs = make(map[string]string)
		for _, d := range st.Forecast.Days {
			if d.Icon != "" {
				resp.IconURLs[d.Icon] = h.weather.IconURL(d.Icon)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClearCache handles DELETE /cache. Saved locations are kept.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.weather.ClearAllCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// NotFound sends unknown routes to the home view.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, homePath, http.StatusSeeOther)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard",
		"version":   "dev",
		"checks":    result.checks,
		"locations": h.locations.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil && !h.health.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.health.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down > storage unreachable > breaker open > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.health == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	result := healthResult{"healthy", http.StatusOK, "", checks}
	if h.health.StoragePing != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := h.health.StoragePing(pingCtx)
		cancel()
		if err != nil {
			checks["storage"] = "unhealthy"
			result = healthResult{"degraded", http.StatusServiceUnavailable, "storage_unreachable", checks}
		} else {
			checks["storage"] = "healthy"
		}
	}
	if h.health.BreakerState != nil {
		state := h.health.BreakerState()
		checks["weatherApi"] = "healthy"
		if state == "open" {
			checks["weatherApi"] = "unhealthy"
			if result.status == "healthy" {
				result = healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open", checks}
			}
		}
	}
	return result
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps a weather error to its HTTP status and user-facing message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := serviceErrorStatus(err)
	writeError(w, r, status, code, client.Message(err))
	observability.LoggerFromContext(r.Context(), nil).Debug("weather error",
		zap.Int("status", status), zap.String("code", code), zap.Error(err))
}

func serviceErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, client.ErrInvalidZipCode):
		return http.StatusBadRequest, "INVALID_ZIP_CODE"
	case errors.Is(err, client.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, client.ErrAuth):
		return http.StatusBadGateway, "UPSTREAM_AUTH"
	case errors.Is(err, client.ErrRateLimited):
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED"
	case errors.Is(err, client.ErrConnectivity):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	}
}

// zipFromPath trims a route variable; mux never yields an empty one.
func zipFromPath(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["zipCode"])
}
